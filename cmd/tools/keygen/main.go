// cmd/tools/keygen/main.go
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"time"

	"forum-comms/internal/common/auth"
	"forum-comms/internal/common/crypto"
)

// keygen prints a fresh message key for crypto.message_key and, for local
// testing, a signed bearer token.
func main() {
	userID := flag.Int64("user", 0, "Issue a bearer token for this user id")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "JWT signing secret")
	issuer := flag.String("issuer", "forum", "JWT issuer")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	key, err := crypto.GenerateKey()
	if err != nil {
		fmt.Printf("Error generating key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("MESSAGE_KEY=%s\n", base64.StdEncoding.EncodeToString(key))

	if *userID == 0 {
		return
	}
	if *secret == "" {
		fmt.Println("Error: -secret or JWT_SECRET is required to issue a token.")
		os.Exit(1)
	}
	token, err := auth.IssueToken(*secret, *issuer, *userID, *ttl)
	if err != nil {
		fmt.Printf("Error issuing token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("TOKEN=%s\n", token)
}
