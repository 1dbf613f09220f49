package jobs

import (
	"fmt"
	"time"
)

// Config tunes the billing sweeps and the scheduler.
type Config struct {
	ReminderDays             int           `env:"BILLING_REMINDER_DAYS" envDefault:"3"`
	ExpireAfterSuspendedDays int           `env:"BILLING_EXPIRE_AFTER_SUSPENDED_DAYS" envDefault:"30"`
	BatchSize                int           `env:"BILLING_JOB_BATCH_SIZE" envDefault:"500"`
	CheckInterval            time.Duration `env:"BILLING_SCHEDULER_CHECK_INTERVAL" envDefault:"30s"`
	JobTimeout               time.Duration `env:"BILLING_JOB_TIMEOUT" envDefault:"10m"`
	// Schedules overrides single job schedules, e.g. "expire_pix_charges=@every 2m,send_renewal_reminders=daily 08:00".
	Schedules map[string]string `env:"BILLING_JOB_SCHEDULES" envSeparator:"," envKeyValSeparator:"="`
}

// DefaultConfig returns the values used when no Config is supplied.
func DefaultConfig() Config {
	return Config{
		ReminderDays:             3,
		ExpireAfterSuspendedDays: 30,
		BatchSize:                500,
		CheckInterval:            30 * time.Second,
		JobTimeout:               10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReminderDays <= 0 {
		c.ReminderDays = d.ReminderDays
	}
	if c.ExpireAfterSuspendedDays <= 0 {
		c.ExpireAfterSuspendedDays = d.ExpireAfterSuspendedDays
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	return c
}

// ResolveSchedules merges the configured overrides into DefaultSchedules.
func (c Config) ResolveSchedules() (map[string]Schedule, error) {
	out := DefaultSchedules()
	for name, spec := range c.Schedules {
		if _, ok := out[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
		}
		s, err := ParseSchedule(spec)
		if err != nil {
			return nil, fmt.Errorf("schedule for %s: %w", name, err)
		}
		out[name] = s
	}
	return out, nil
}
