// Package registry holds the static RoleNotificationPolicy: which notification
// types each platform role may receive.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/samber/lo"

	"forum-comms/internal/models"
)

// Policy maps role -> allowed notification types. It is read-only after load.
type Policy struct {
	version string
	roles   map[string][]models.NotificationType
}

// DefaultPolicy is used when no policy file is configured.
func DefaultPolicy() *Policy {
	return &Policy{
		version: "default",
		roles: map[string][]models.NotificationType{
			models.RoleInvestor: {models.TypeUpdate, models.TypeMessage},
			models.RoleStartup:  {models.TypeFollow, models.TypeMessage},
		},
	}
}

// LoadPolicy reads a policy file. An empty path yields DefaultPolicy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (*Policy, error) {
	var file PolicyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if len(file.Roles) == 0 {
		return nil, fmt.Errorf("policy defines no roles")
	}

	p := &Policy{version: file.Version, roles: make(map[string][]models.NotificationType, len(file.Roles))}
	for role, names := range file.Roles {
		types := make([]models.NotificationType, 0, len(names))
		for _, name := range names {
			t, err := models.ParseNotificationType(name)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", role, err)
			}
			types = append(types, t)
		}
		p.roles[role] = lo.Uniq(types)
	}
	return p, nil
}

func (p *Policy) Version() string {
	return p.version
}

// Allowed reports whether role may receive t.
func (p *Policy) Allowed(role string, t models.NotificationType) bool {
	return lo.Contains(p.roles[role], t)
}

// TypesForRole returns the types role may receive; nil for unknown roles.
func (p *Policy) TypesForRole(role string) []models.NotificationType {
	return append([]models.NotificationType(nil), p.roles[role]...)
}

// EligibleRoles returns, sorted, every role allowed to receive t.
func (p *Policy) EligibleRoles(t models.NotificationType) []string {
	roles := lo.Filter(lo.Keys(p.roles), func(role string, _ int) bool {
		return p.Allowed(role, t)
	})
	sort.Strings(roles)
	return roles
}

// HasRole reports whether role is known to the policy.
func (p *Policy) HasRole(role string) bool {
	_, ok := p.roles[role]
	return ok
}
