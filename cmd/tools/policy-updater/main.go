// cmd/tools/policy-updater/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"forum-comms/internal/models"
	"forum-comms/pkg/registry"
)

var policyPath string

func main() {
	grantCmd := flag.NewFlagSet("grant", flag.ExitOnError)
	revokeCmd := flag.NewFlagSet("revoke", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	showCmd := flag.NewFlagSet("show", flag.ExitOnError)

	roleGrant := grantCmd.String("role", "", "Role (e.g., investor)")
	typeGrant := grantCmd.String("type", "", "Notification type (FOLLOW, MESSAGE, UPDATE)")
	roleRevoke := revokeCmd.String("role", "", "Role to change")
	typeRevoke := revokeCmd.String("type", "", "Notification type to remove")

	for _, fs := range []*flag.FlagSet{grantCmd, revokeCmd, validateCmd, showCmd} {
		fs.StringVar(&policyPath, "path", "configs/role_notifications.json", "Path to policy file")
	}

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "grant":
		grantCmd.Parse(os.Args[2:])
		if *roleGrant == "" || *typeGrant == "" {
			fmt.Println("Error: role and type are required for grant.")
			grantCmd.Usage()
			os.Exit(1)
		}
		if err := grant(*roleGrant, *typeGrant); err != nil {
			fmt.Printf("Error granting type: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Granted %s to role %s\n", strings.ToUpper(*typeGrant), *roleGrant)

	case "revoke":
		revokeCmd.Parse(os.Args[2:])
		if *roleRevoke == "" || *typeRevoke == "" {
			fmt.Println("Error: role and type are required for revoke.")
			revokeCmd.Usage()
			os.Exit(1)
		}
		if err := revoke(*roleRevoke, *typeRevoke); err != nil {
			fmt.Printf("Error revoking type: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Revoked %s from role %s\n", strings.ToUpper(*typeRevoke), *roleRevoke)

	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := validatePolicy(); err != nil {
			fmt.Printf("Policy validation failed: %v\n", err)
			os.Exit(1)
		}

	case "show":
		showCmd.Parse(os.Args[2:])
		if err := show(); err != nil {
			fmt.Printf("Error reading policy: %v\n", err)
			os.Exit(1)
		}

	case "help":
		fallthrough
	default:
		help()
	}
}

func loadFile() (*registry.PolicyFile, error) {
	data, err := os.ReadFile(policyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &registry.PolicyFile{Version: "1", Roles: map[string][]string{}}, nil
		}
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	var file registry.PolicyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	if file.Roles == nil {
		file.Roles = map[string][]string{}
	}
	return &file, nil
}

func grant(role, typeName string) error {
	t, err := models.ParseNotificationType(typeName)
	if err != nil {
		return err
	}
	file, err := loadFile()
	if err != nil {
		return err
	}
	role = strings.ToLower(role)
	if lo.Contains(file.Roles[role], t.String()) {
		return fmt.Errorf("role %s already receives %s", role, t)
	}
	file.Roles[role] = append(file.Roles[role], t.String())
	return savePolicy(file, policyPath)
}

func revoke(role, typeName string) error {
	t, err := models.ParseNotificationType(typeName)
	if err != nil {
		return err
	}
	file, err := loadFile()
	if err != nil {
		return err
	}
	role = strings.ToLower(role)
	if !lo.Contains(file.Roles[role], t.String()) {
		return fmt.Errorf("role %s does not receive %s", role, t)
	}
	file.Roles[role] = lo.Without(file.Roles[role], t.String())
	return savePolicy(file, policyPath)
}

func validatePolicy() error {
	policy, err := registry.LoadPolicy(policyPath)
	if err != nil {
		return err
	}
	for _, t := range models.AllNotificationTypes {
		if len(policy.EligibleRoles(t)) == 0 {
			fmt.Printf("Warning: no role receives %s\n", t)
		}
	}
	fmt.Printf("Policy validation passed. Version %s.\n", policy.Version())
	return nil
}

func show() error {
	policy, err := registry.LoadPolicy(policyPath)
	if err != nil {
		return err
	}
	fmt.Printf("Policy version %s\n", policy.Version())
	for _, t := range models.AllNotificationTypes {
		fmt.Printf("  %-8s %s\n", t, strings.Join(policy.EligibleRoles(t), ", "))
	}
	return nil
}

// savePolicy writes the file with roles and types in a stable order.
func savePolicy(file *registry.PolicyFile, path string) error {
	for role := range file.Roles {
		sort.Strings(file.Roles[role])
	}
	file.LastUpdated = time.Now().Format(time.RFC3339)

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write policy file: %w", err)
	}
	return nil
}

func help() {
	fmt.Print(`
Usage: policy-updater <command> [flags]

Commands:
  grant    Allow a role to receive a notification type
  revoke   Stop a role from receiving a notification type
  validate Validate the policy file
  show     Print which roles receive each type
  help     Show this help message

Examples:
  policy-updater grant -role investor -type FOLLOW
  policy-updater revoke -role startup -type MESSAGE
  policy-updater validate -path configs/role_notifications.json

Use 'policy-updater <command> -h' for more information about a command.
` + "\n")
}
