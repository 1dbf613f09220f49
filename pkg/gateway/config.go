package gateway

import (
	"fmt"
	"log/slog"
	"time"
)

// Provider names accepted by New.
const (
	ProviderSimulated = "simulated"
	ProviderStripe    = "stripe"
	ProviderPaddle    = "paddle"
)

// Config selects and configures the single active gateway of a deployment.
type Config struct {
	Provider   string `env:"BILLING_PROVIDER" envDefault:"simulated"`
	Simulated  SimulatedConfig
	Stripe     StripeConfig
	Paddle     PaddleConfig
	Resilience ResilienceConfig
}

// SimulatedConfig configures the in-process gateway used in development and tests.
type SimulatedConfig struct {
	WebhookSecret      string        `env:"BILLING_SIMULATED_WEBHOOK_SECRET" envDefault:"whsec_simulated"`
	SignatureTolerance time.Duration `env:"BILLING_SIMULATED_SIGNATURE_TOLERANCE" envDefault:"5m"`
	PixKey             string        `env:"BILLING_SIMULATED_PIX_KEY" envDefault:"billing@example.com"`
	MerchantName       string        `env:"BILLING_SIMULATED_MERCHANT_NAME" envDefault:"Billing"`
	MerchantCity       string        `env:"BILLING_SIMULATED_MERCHANT_CITY" envDefault:"Sao Paulo"`
}

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey          string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret      string        `env:"STRIPE_WEBHOOK_SECRET"`
	SignatureTolerance time.Duration `env:"STRIPE_SIGNATURE_TOLERANCE" envDefault:"5m"`
}

// PaddleConfig holds Paddle credentials.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"sandbox"`
}

// New builds the configured provider wrapped with WithResilience.
func New(cfg Config, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var (
		p   Provider
		err error
	)

	switch cfg.Provider {
	case ProviderSimulated, "":
		p = NewSimulated(cfg.Simulated)
	case ProviderStripe:
		p, err = NewStripe(cfg.Stripe, WithStripeLogger(logger))
	case ProviderPaddle:
		p, err = NewPaddle(cfg.Paddle, WithPaddleLogger(logger))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return WithResilience(p, cfg.Resilience, WithResilienceLogger(logger)), nil
}
