package dispatch

import (
	"time"

	"forum-comms/internal/common/config"
	"forum-comms/internal/common/errors"
)

type Config struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
	EnqueueTimeout time.Duration
	DedupeTTL      time.Duration
	Timeout        time.Duration

	EmailEnabled bool
	FromEmail    string
	SNSEnabled   bool
	TopicARN     string
	SiteURL      string
}

func LoadConfig(cfg *config.Config) *Config {
	d := cfg.Dispatch
	c := &Config{
		Workers:        d.Workers,
		QueueSize:      d.QueueSize,
		MaxAttempts:    d.MaxAttempts,
		BaseBackoff:    config.GetDuration(d.BaseBackoff),
		MaxBackoff:     config.GetDuration(d.MaxBackoff),
		AttemptTimeout: config.GetDuration(d.AttemptTimeout),
		EnqueueTimeout: config.GetDuration(d.EnqueueTimeout),
		DedupeTTL:      config.GetDuration(d.DedupeTTL),
		EmailEnabled:   cfg.Notifications.Email.Enabled,
		FromEmail:      cfg.Notifications.Email.FromEmail,
		SNSEnabled:     cfg.Notifications.SNS.Enabled,
		TopicARN:       cfg.Notifications.SNS.TopicARN,
		SiteURL:        cfg.App.SiteURL,
	}
	// One event may need every email attempt plus the backoff between them.
	n := time.Duration(c.emailAttempts())
	c.Timeout = n*c.AttemptTimeout + n*c.MaxBackoff
	return c
}

// emailAttempts falls back to the taxonomy's retry count when unset.
func (c *Config) emailAttempts() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return errors.GetRetryCount(errors.ErrCodeDeliveryTransient)
}
