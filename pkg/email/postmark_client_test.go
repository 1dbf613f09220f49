package email_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/email"
)

func postmarkConfig() email.Config {
	return email.Config{
		PostmarkServerToken:  "server-token",
		PostmarkAccountToken: "account-token",
		SenderEmail:          "cobranca@agendei.com.br",
		SupportEmail:         "suporte@agendei.com.br",
	}
}

func TestNewPostmarkClient(t *testing.T) {
	t.Parallel()

	t.Run("valid config", func(t *testing.T) {
		t.Parallel()
		client, err := email.NewPostmarkClient(postmarkConfig())
		require.NoError(t, err)
		assert.NotNil(t, client)
	})

	tests := []struct {
		name   string
		mutate func(c *email.Config)
		errMsg string
	}{
		{"no server token", func(c *email.Config) { c.PostmarkServerToken = "" }, "PostmarkServerToken is required"},
		{"no account token", func(c *email.Config) { c.PostmarkAccountToken = "" }, "PostmarkAccountToken is required"},
		{"no sender", func(c *email.Config) { c.SenderEmail = "" }, "SenderEmail is required"},
		{"bad sender", func(c *email.Config) { c.SenderEmail = "cobranca" }, "SenderEmail must be a valid email address"},
		{"no support", func(c *email.Config) { c.SupportEmail = "" }, "SupportEmail is required"},
		{"bad support", func(c *email.Config) { c.SupportEmail = "suporte@" }, "SupportEmail must be a valid email address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := postmarkConfig()
			tt.mutate(&cfg)

			client, err := email.NewPostmarkClient(cfg)
			assert.Nil(t, client)
			assert.ErrorIs(t, err, email.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestMustNewPostmarkClient(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { email.MustNewPostmarkClient(postmarkConfig()) })
	assert.Panics(t, func() { email.MustNewPostmarkClient(email.Config{}) })
}

func TestPostmarkClientValidatesBeforeSending(t *testing.T) {
	t.Parallel()

	client, err := email.NewPostmarkClient(postmarkConfig())
	require.NoError(t, err)

	p := validParams()
	p.Subject = ""
	err = client.SendEmail(context.Background(), p)
	assert.ErrorIs(t, err, email.ErrInvalidParams)
}

func TestNewSender(t *testing.T) {
	t.Parallel()

	t.Run("dev sender without tokens", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		sender, err := email.NewSender(email.Config{DevOutputDir: dir})
		require.NoError(t, err)
		assert.IsType(t, &email.DevSender{}, sender)
	})

	t.Run("postmark with tokens", func(t *testing.T) {
		t.Parallel()
		sender, err := email.NewSender(postmarkConfig())
		require.NoError(t, err)
		assert.IsType(t, &email.PostmarkSender{}, sender)
	})

	t.Run("one token is a config error", func(t *testing.T) {
		t.Parallel()
		cfg := postmarkConfig()
		cfg.PostmarkAccountToken = ""
		_, err := email.NewSender(cfg)
		assert.ErrorIs(t, err, email.ErrInvalidConfig)
	})
}
