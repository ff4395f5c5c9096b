// Package auth validates bearer credentials issued by the platform's
// identity service.
package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"forum-comms/internal/common/errors"
)

// Claims carries the platform user id. Tokens issued before the user_id
// claim existed put the id in "sub".
type Claims struct {
	UserID int64 `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenValidator checks HS256 tokens against a shared secret.
type TokenValidator struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

func NewTokenValidator(secret, issuer string) *TokenValidator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &TokenValidator{
		secret: []byte(secret),
		issuer: issuer,
		parser: jwt.NewParser(opts...),
	}
}

// ValidateCredential returns the user id for a valid token. Every failure is
// reported as AUTH_REJECTED.
func (v *TokenValidator) ValidateCredential(token string) (int64, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return 0, errors.NewAuthRejectedError("missing token")
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return 0, errors.NewAuthRejectedError(err.Error())
	}

	userID := claims.UserID
	if userID == 0 && claims.Subject != "" {
		userID, err = strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil {
			return 0, errors.NewAuthRejectedError("subject is not a user id")
		}
	}
	if userID <= 0 {
		return 0, errors.NewAuthRejectedError("token carries no user id")
	}
	return userID, nil
}

// IssueToken signs a token for userID. Production tokens come from the
// identity service; this is used by the keygen tool and tests.
func IssueToken(secret, issuer string, userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", userID),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
