package email

// Config holds the outbound mail settings.
// Without Postmark tokens NewSender falls back to writing messages to DevOutputDir.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"BILLING_SENDER_EMAIL,required"`
	SupportEmail         string `env:"BILLING_SUPPORT_EMAIL,required"`
	DevOutputDir         string `env:"BILLING_EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
}

// NewSender returns a Postmark sender when both tokens are set and a DevSender otherwise.
func NewSender(cfg Config) (EmailSender, error) {
	if cfg.PostmarkServerToken == "" && cfg.PostmarkAccountToken == "" {
		return NewDevSender(cfg.DevOutputDir), nil
	}
	return NewPostmarkClient(cfg)
}
