package email

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

// DevSender stores each message in dir as one JSON file. Nothing leaves the
// machine.
type DevSender struct {
	dir string
	now func() time.Time
	seq atomic.Uint64
}

// NewDevSender creates a DevSender. dir is created on first send.
func NewDevSender(dir string) EmailSender {
	return &DevSender{dir: dir, now: time.Now}
}

// DevMessage is the file layout written by DevSender.
type DevMessage struct {
	SentAt   time.Time `json:"sent_at"`
	SendTo   string    `json:"send_to"`
	Subject  string    `json:"subject"`
	Tag      string    `json:"tag,omitempty"`
	BodyHTML string    `json:"body_html"`
}

func (d *DevSender) SendEmail(_ context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create dir: %w", ErrFailedToSendEmail, err)
	}

	now := d.now()
	name := params.Tag
	if name == "" {
		name = params.Subject
	}
	// Notifications for a sweep land within the same second, so the
	// sequence keeps names unique.
	file := fmt.Sprintf("%s_%04d_%s.json", now.UTC().Format("20060102T150405"), d.seq.Add(1), slugify(name))

	data, err := json.MarshalIndent(DevMessage{
		SentAt:   now,
		SendTo:   params.SendTo,
		Subject:  params.Subject,
		Tag:      params.Tag,
		BodyHTML: params.BodyHTML,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode message: %w", ErrFailedToSendEmail, err)
	}
	if err := os.WriteFile(filepath.Join(d.dir, file), data, 0o644); err != nil {
		return fmt.Errorf("%w: write message: %w", ErrFailedToSendEmail, err)
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9_-]+`)

func slugify(s string) string {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "_"))
	s = unsafeChars.ReplaceAllString(s, "")
	if len(s) > 80 {
		s = s[:80]
	}
	if s == "" {
		return "message"
	}
	return s
}
