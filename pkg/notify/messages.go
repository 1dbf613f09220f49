package notify

import (
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	msgGreeting = "greeting"
	msgFooter   = "footer"
	msgReason   = "reason"
)

func subjectKey(k Kind) string { return "subject." + string(k) }
func bodyKey(k Kind) string    { return "body." + string(k) }

var translations = map[language.Tag]map[string]string{
	language.BrazilianPortuguese: {
		msgGreeting: "Olá, %s",
		msgFooter:   "Esta é uma mensagem automática de cobrança. Em caso de dúvidas, responda este e-mail.",
		msgReason:   "Motivo informado pelo banco: %s",

		subjectKey(KindRenewalReminder): "Sua assinatura %s renova em %s",
		bodyKey(KindRenewalReminder):    "O valor de %s do plano %s será cobrado em %s.",
		subjectKey(KindTrialEnded):      "Seu período de teste terminou",
		bodyKey(KindTrialEnded):         "Conclua o pagamento de %s do plano %s até %s para manter o acesso.",
		subjectKey(KindPaymentFailed):   "Não conseguimos processar seu pagamento",
		bodyKey(KindPaymentFailed):      "A cobrança de %s do plano %s não foi concluída. O acesso continua até %s.",
		subjectKey(KindSuspended):       "Sua assinatura foi suspensa",
		bodyKey(KindSuspended):          "O acesso ao plano %s foi suspenso por falta de pagamento. Pague %s para reativar.",
	},
	language.English: {
		msgGreeting: "Hi %s",
		msgFooter:   "This is an automated billing message. Reply to this email if you have questions.",
		msgReason:   "Reason given by the bank: %s",

		subjectKey(KindRenewalReminder): "Your %s subscription renews on %s",
		bodyKey(KindRenewalReminder):    "%s for the %s plan will be charged on %s.",
		subjectKey(KindTrialEnded):      "Your trial has ended",
		bodyKey(KindTrialEnded):         "Pay %s for the %s plan by %s to keep access.",
		subjectKey(KindPaymentFailed):   "We could not process your payment",
		bodyKey(KindPaymentFailed):      "The %s charge for the %s plan did not go through. Access continues until %s.",
		subjectKey(KindSuspended):       "Your subscription is suspended",
		bodyKey(KindSuspended):          "Access to the %s plan is suspended for non-payment. Pay %s to reactivate.",
	},
}

var dateLayouts = map[language.Tag]string{
	language.BrazilianPortuguese: "02/01/2006",
	language.English:             "Jan 2, 2006",
}

var messages = newCatalog()

func newCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.BrazilianPortuguese))
	for tag, msgs := range translations {
		for key, msg := range msgs {
			if err := b.SetString(tag, key, msg); err != nil {
				panic(err)
			}
		}
	}
	return b
}

var matcher = language.NewMatcher([]language.Tag{language.BrazilianPortuguese, language.English})

// resolveLanguage maps a BCP 47 string onto a supported language.
func resolveLanguage(s string) language.Tag {
	tag, _, _ := matcher.Match(language.Make(s))
	base, _ := tag.Base()
	if base.String() == "en" {
		return language.English
	}
	return language.BrazilianPortuguese
}

func newPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(messages))
}

func formatDate(tag language.Tag, t time.Time) string {
	layout, ok := dateLayouts[tag]
	if !ok {
		layout = dateLayouts[language.BrazilianPortuguese]
	}
	return t.Format(layout)
}
