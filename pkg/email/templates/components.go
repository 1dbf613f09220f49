package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Layout wraps body in the shared billing mail frame.
func Layout(title string, body ...templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>`); err != nil {
			return err
		}
		if _, err := io.WriteString(w, templ.EscapeString(title)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `</title></head><body style="margin:0;padding:24px;background:#f4f5f7;font-family:Helvetica,Arial,sans-serif;color:#1f2933">`+
			`<table role="presentation" width="100%" cellpadding="0" cellspacing="0"><tr><td align="center">`+
			`<table role="presentation" width="560" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;padding:32px">`); err != nil {
			return err
		}
		for _, c := range body {
			if err := c.Render(ctx, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</table></td></tr></table></body></html>`)
		return err
	})
}

// Heading renders a section title.
func Heading(text string) templ.Component {
	return element(`<tr><td style="font-size:20px;font-weight:bold;padding-bottom:16px">`, text, `</td></tr>`)
}

// Text renders a paragraph.
func Text(text string) templ.Component {
	return element(`<tr><td style="font-size:15px;line-height:22px;padding-bottom:12px">`, text, `</td></tr>`)
}

// TextWarning renders a highlighted paragraph.
func TextWarning(text string) templ.Component {
	return element(`<tr><td style="font-size:15px;line-height:22px;padding:12px;background:#fff4e5;color:#8a4b00;border-radius:4px">`, text, `</td></tr>`)
}

// TextSecondary renders small print.
func TextSecondary(text string) templ.Component {
	return element(`<tr><td style="font-size:12px;line-height:18px;color:#6b7280;padding-top:16px">`, text, `</td></tr>`)
}

func element(open, text, close string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, open); err != nil {
			return err
		}
		if _, err := io.WriteString(w, templ.EscapeString(text)); err != nil {
			return err
		}
		_, err := io.WriteString(w, close)
		return err
	})
}
