// Package notify delivers billing alerts to tenant owners.
//
// Notifier is the delivery contract used by the billing jobs. EmailNotifier
// renders the alert with the shared templ mail layout and money formatted
// through golang.org/x/text, then sends it with an email.EmailSender.
// Dispatcher wraps any Notifier with a bounded queue, a worker pool and
// retries, so callers never wait on mail delivery:
//
//	mailer := notify.NewEmailNotifier(directory, sender, notify.WithLanguage("pt-BR"))
//	dispatcher := notify.NewDispatcher(mailer, cfg, notify.WithDispatcherLogger(log))
//	defer dispatcher.Close(shutdownCtx)
//
// Messages exist in Brazilian Portuguese and English.
package notify
