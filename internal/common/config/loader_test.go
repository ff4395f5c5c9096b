package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validKey() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
}

func baseYAML(key string) string {
	return `
database:
  postgres:
    host: localhost
    database: forum
    user: forum
    password: secret
  redis:
    address: localhost:6379
auth:
  jwt:
    secret: s3cret
crypto:
  message_key: "` + key + `"
`
}

// ==========================
// Loading and defaults
// ==========================

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, baseYAML(validKey())))
	require.NoError(t, err)

	assert.Equal(t, "forum-comms", cfg.App.Name)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 30000, cfg.Dispatch.MaxBackoff)
	assert.Equal(t, "comms:broadcast", cfg.Hub.RelayChannel)
	assert.Equal(t, 20, cfg.Database.Redis.PoolSize)
	assert.Equal(t, 3000, cfg.Database.Redis.ReadTimeout)
	assert.Equal(t, "forum-comms", cfg.Observability.ServiceName)
}

func TestLoadFromFile_ExpandsPlaceholders(t *testing.T) {
	t.Setenv("TEST_COMMS_DB_HOST", "db.internal")
	body := strings.Replace(baseYAML(validKey()), "host: localhost", "host: ${TEST_COMMS_DB_HOST}", 1)

	cfg, err := LoadFromFile(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing jwt secret",
			body:    strings.Replace(baseYAML(validKey()), "secret: s3cret", "secret: \"\"", 1),
			wantErr: "auth.jwt.secret",
		},
		{
			name:    "short message key",
			body:    baseYAML(base64.StdEncoding.EncodeToString([]byte("short"))),
			wantErr: "32 bytes",
		},
		{
			name:    "undecodable message key",
			body:    baseYAML("%%%"),
			wantErr: "crypto.message_key",
		},
		{
			name:    "email enabled without sender",
			body:    baseYAML(validKey()) + "notifications:\n  email:\n    enabled: true\n",
			wantErr: "from_email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPostgresConfig_GetDSN(t *testing.T) {
	p := PostgresConfig{Host: "h", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "require"}
	assert.Equal(t, "host=h port=5433 user=u password=p dbname=d sslmode=require", p.GetDSN())
}
