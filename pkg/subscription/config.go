package subscription

import "time"

// Config holds the billing rules of the subscription service.
type Config struct {
	GracePeriodDays int           `env:"BILLING_GRACE_PERIOD_DAYS" envDefault:"7"`
	PixExpiry       time.Duration `env:"BILLING_PIX_EXPIRY" envDefault:"24h"`
	InvoiceDueDays  int           `env:"BILLING_INVOICE_DUE_DAYS" envDefault:"3"`
	Currency        string        `env:"BILLING_CURRENCY" envDefault:"BRL"`
	// LockTimeout bounds how long a call waits for the per-subscription lock.
	LockTimeout time.Duration `env:"BILLING_LOCK_TIMEOUT" envDefault:"10s"`
}

// DefaultConfig returns the values used when no Config is supplied.
func DefaultConfig() Config {
	return Config{
		GracePeriodDays: 7,
		PixExpiry:       24 * time.Hour,
		InvoiceDueDays:  3,
		Currency:        "BRL",
		LockTimeout:     10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.GracePeriodDays < 0 {
		c.GracePeriodDays = 0
	}
	if c.PixExpiry <= 0 {
		c.PixExpiry = d.PixExpiry
	}
	if c.InvoiceDueDays <= 0 {
		c.InvoiceDueDays = d.InvoiceDueDays
	}
	if c.Currency == "" {
		c.Currency = d.Currency
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = d.LockTimeout
	}
	return c
}
