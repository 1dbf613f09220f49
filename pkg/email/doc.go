// Package email sends transactional mail for billing alerts.
//
// EmailSender is the delivery interface. Two implementations exist:
// Postmark for production and DevSender, which writes every message to a
// local directory as an HTML file plus a JSON metadata file. NewSender
// picks Postmark when both tokens are configured.
//
//	sender, err := email.NewSender(cfg)
//	if err != nil {
//	    return err
//	}
//	err = sender.SendEmail(ctx, email.SendEmailParams{
//	    SendTo:   "owner@example.com",
//	    Subject:  "Your subscription renews in 3 days",
//	    BodyHTML: html,
//	    Tag:      "renewal_reminder",
//	})
//
// Parameters are validated before sending.
// Failures wrap ErrInvalidParams, ErrInvalidConfig or ErrFailedToSendEmail.
//
// The templates subpackage holds the shared mail layout, built as templ components.
package email
