package config

import (
	"encoding/base64"
	"fmt"
)

// Config is the root configuration for the comms server.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Crypto        CryptoConfig        `mapstructure:"crypto"`
	Hub           HubConfig           `mapstructure:"hub"`
	Dispatch      DispatchConfig      `mapstructure:"dispatch"`
	Notifications NotificationConfig  `mapstructure:"notifications"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	SiteURL     string `mapstructure:"site_url"`
}

type HTTPConfig struct {
	Address        string   `mapstructure:"address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	ReadTimeout    int      `mapstructure:"read_timeout"`  // milliseconds
	IdleTimeout    int      `mapstructure:"idle_timeout"`  // milliseconds
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Badger   BadgerConfig   `mapstructure:"badger"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the lib/pq connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig timeouts are milliseconds.
type RedisConfig struct {
	Address      string `mapstructure:"address"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  int    `mapstructure:"dial_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// BadgerConfig locates the chat document store.
type BadgerConfig struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

type AuthConfig struct {
	JWT struct {
		Secret string `mapstructure:"secret"`
		Issuer string `mapstructure:"issuer"`
	} `mapstructure:"jwt"`
}

// CryptoConfig carries the process-wide message key, base64 encoded.
type CryptoConfig struct {
	MessageKey string `mapstructure:"message_key"`
}

// Key decodes the message key.
func (c CryptoConfig) Key() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.MessageKey)
	if err != nil {
		return nil, fmt.Errorf("decode crypto.message_key: %w", err)
	}
	return key, nil
}

type HubConfig struct {
	WriteWait      int    `mapstructure:"write_wait"` // milliseconds
	PongWait       int    `mapstructure:"pong_wait"`  // milliseconds
	MaxMessageSize int64  `mapstructure:"max_message_size"`
	SendBuffer     int    `mapstructure:"send_buffer"`
	RelayChannel   string `mapstructure:"relay_channel"`
}

// DispatchConfig sizes the notification worker pool and its retry policy.
type DispatchConfig struct {
	Workers        int `mapstructure:"workers"`
	QueueSize      int `mapstructure:"queue_size"`
	MaxAttempts    int `mapstructure:"max_attempts"`
	BaseBackoff    int `mapstructure:"base_backoff"`    // milliseconds
	MaxBackoff     int `mapstructure:"max_backoff"`     // milliseconds
	AttemptTimeout int `mapstructure:"attempt_timeout"` // milliseconds
	EnqueueTimeout int `mapstructure:"enqueue_timeout"` // milliseconds
	DedupeTTL      int `mapstructure:"dedupe_ttl"`      // milliseconds
}

type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	PolicyPath string `mapstructure:"policy_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}
