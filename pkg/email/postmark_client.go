package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// PostmarkSender delivers through the Postmark transactional API.
type PostmarkSender struct {
	client  *postmark.Client
	from    string
	replyTo string
}

// NewPostmarkClient validates cfg and returns a Postmark sender.
func NewPostmarkClient(cfg Config) (EmailSender, error) {
	for _, f := range []struct {
		name, value string
		address     bool
	}{
		{"PostmarkServerToken", cfg.PostmarkServerToken, false},
		{"PostmarkAccountToken", cfg.PostmarkAccountToken, false},
		{"SenderEmail", cfg.SenderEmail, true},
		{"SupportEmail", cfg.SupportEmail, true},
	} {
		if f.value == "" {
			return nil, fmt.Errorf("%w: %s is required", ErrInvalidConfig, f.name)
		}
		if f.address && !emailRegex.MatchString(f.value) {
			return nil, fmt.Errorf("%w: %s must be a valid email address", ErrInvalidConfig, f.name)
		}
	}

	return &PostmarkSender{
		client:  postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		from:    cfg.SenderEmail,
		replyTo: cfg.SupportEmail,
	}, nil
}

// MustNewPostmarkClient panics on invalid config.
func MustNewPostmarkClient(cfg Config) EmailSender {
	s, err := NewPostmarkClient(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// SendEmail sends one message. Replies go to the support address and opens
// are not tracked.
func (s *PostmarkSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:     s.from,
		ReplyTo:  s.replyTo,
		To:       params.SendTo,
		Subject:  params.Subject,
		Tag:      params.Tag,
		HTMLBody: params.BodyHTML,
	})
	switch {
	case err != nil:
		return errors.Join(ErrFailedToSendEmail, err)
	case resp.ErrorCode != 0:
		return fmt.Errorf("%w: postmark code %d: %s", ErrFailedToSendEmail, resp.ErrorCode, resp.Message)
	}
	return nil
}
