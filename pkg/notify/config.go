package notify

import "time"

// Config tunes delivery of billing alerts.
type Config struct {
	Language    string        `env:"BILLING_NOTIFY_LANGUAGE" envDefault:"pt-BR"`
	Workers     int           `env:"BILLING_NOTIFY_WORKERS" envDefault:"4"`
	QueueSize   int           `env:"BILLING_NOTIFY_QUEUE_SIZE" envDefault:"256"`
	SendTimeout time.Duration `env:"BILLING_NOTIFY_SEND_TIMEOUT" envDefault:"10s"`
	MaxRetries  uint64        `env:"BILLING_NOTIFY_MAX_RETRIES" envDefault:"2"`
}

// DefaultConfig returns the values used when no Config is supplied.
func DefaultConfig() Config {
	return Config{
		Language:    "pt-BR",
		Workers:     4,
		QueueSize:   256,
		SendTimeout: 10 * time.Second,
		MaxRetries:  2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Language == "" {
		c.Language = d.Language
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	return c
}
