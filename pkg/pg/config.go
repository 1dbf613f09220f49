package pg

import "time"

// Config holds the Postgres pool settings.
type Config struct {
	ConnectionString  string        `env:"BILLING_DATABASE_URL,required"`
	MaxOpenConns      int32         `env:"BILLING_DB_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns      int32         `env:"BILLING_DB_MAX_IDLE_CONNS" envDefault:"2"`
	HealthCheckPeriod time.Duration `env:"BILLING_DB_HEALTHCHECK_PERIOD" envDefault:"1m"`
	MaxConnIdleTime   time.Duration `env:"BILLING_DB_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	MaxConnLifetime   time.Duration `env:"BILLING_DB_MAX_CONN_LIFETIME" envDefault:"30m"`

	RetryAttempts int           `env:"BILLING_DB_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval time.Duration `env:"BILLING_DB_RETRY_INTERVAL" envDefault:"5s"`

	MigrationsTable string `env:"BILLING_DB_MIGRATIONS_TABLE" envDefault:"billing_schema_migrations"`
}
