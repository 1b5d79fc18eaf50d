package mail

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Template names.
const (
	TplInvoiceSent       = "invoice_sent"
	TplCreditNote        = "credit_note"
	TplReminderFriendly  = "reminder_friendly"
	TplReminderFirst     = "reminder_first"
	TplReminderSecond    = "reminder_second"
	TplReminderFinal     = "reminder_final"
	TplPasswordReset     = "password_reset"
	TplNewsletterConfirm = "newsletter_confirm"
	TplInvitation        = "invitation"
	TplQuoteSigning      = "quote_signing"
)

// Each template starts with "Subject: ..." on its first line.
var sources = map[string]string{
	TplInvoiceSent: `Subject: Factuur {{.Number}} van {{.Company}}
Beste {{.CustomerName}},

Hierbij ontvangt u factuur {{.Number}} ter hoogte van {{.Amount}}.
Wij verzoeken u het bedrag vóór {{.DueDate}} over te maken{{if .IBAN}} op {{.IBAN}} onder vermelding van het factuurnummer{{end}}.
{{if .PaymentURL}}
U kunt ook direct online betalen: {{.PaymentURL}}
{{end}}
Met vriendelijke groet,
{{.Company}}
`,
	TplCreditNote: `Subject: Creditnota {{.Number}} van {{.Company}}
Beste {{.CustomerName}},

Hierbij ontvangt u creditnota {{.Number}} bij factuur {{.InvoiceNumber}} ter hoogte van {{.Amount}}.

Met vriendelijke groet,
{{.Company}}
`,
	TplReminderFriendly: `Subject: Herinnering: factuur {{.Number}} vervalt binnenkort
Beste {{.CustomerName}},

Een vriendelijke herinnering dat factuur {{.Number}} ({{.Amount}}) op {{.DueDate}} vervalt.
{{if .PaymentURL}}Betalen kan via {{.PaymentURL}}
{{end}}
Met vriendelijke groet,
{{.Company}}
`,
	TplReminderFirst: `Subject: Betalingsherinnering factuur {{.Number}}
Beste {{.CustomerName}},

Volgens onze administratie is factuur {{.Number}} ({{.Amount}}) met vervaldatum {{.DueDate}} nog niet betaald.
Wilt u het bedrag zo spoedig mogelijk overmaken?
{{if .PaymentURL}}Betalen kan via {{.PaymentURL}}
{{end}}
Met vriendelijke groet,
{{.Company}}
`,
	TplReminderSecond: `Subject: Tweede herinnering factuur {{.Number}}
Beste {{.CustomerName}},

Factuur {{.Number}} ({{.Amount}}) is inmiddels {{.DaysOverdue}} dagen over de vervaldatum.
Wij verzoeken u dringend het bedrag binnen 7 dagen te voldoen.

Met vriendelijke groet,
{{.Company}}
`,
	TplReminderFinal: `Subject: Laatste aanmaning factuur {{.Number}}
Beste {{.CustomerName}},

Ondanks eerdere herinneringen hebben wij de betaling van factuur {{.Number}} ({{.Amount}}) nog niet ontvangen.
Dit is de laatste aanmaning. Zonder betaling binnen 14 dagen dragen wij de vordering over aan een incassobureau.

Met vriendelijke groet,
{{.Company}}
`,
	TplPasswordReset: `Subject: Wachtwoord herstellen
Hallo,

Via onderstaande link stel je een nieuw wachtwoord in. De link is een uur geldig.

{{.URL}}

Heb je dit niet aangevraagd? Dan kun je deze e-mail negeren.
`,
	TplNewsletterConfirm: `Subject: Bevestig je inschrijving
Hallo,

Bevestig je inschrijving voor de nieuwsbrief via {{.ConfirmURL}}

Afmelden kan altijd: {{.UnsubscribeURL}}
`,
	TplInvitation: `Subject: Uitnodiging voor {{.Company}}
Hallo,

{{.InvitedBy}} nodigt je uit voor de administratie van {{.Company}}.
Accepteer de uitnodiging vóór {{.ExpiresAt}} via {{.URL}}
`,
	TplQuoteSigning: `Subject: Offerte {{.Number}} van {{.Company}}
Beste {{.CustomerName}},

Bekijk en onderteken offerte {{.Number}} ({{.Amount}}) online: {{.URL}}
De link is geldig tot {{.ExpiresAt}}.

Met vriendelijke groet,
{{.Company}}
`,
}

var templates = func() map[string]*template.Template {
	out := make(map[string]*template.Template, len(sources))
	for name, src := range sources {
		out[name] = template.Must(template.New(name).Option("missingkey=error").Parse(src))
	}
	return out
}()

// Render executes the named template and splits off the subject line.
func Render(name string, data any) (subject, body string, err error) {
	tpl, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown mail template %q", name)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", "", err
	}
	first, rest, _ := strings.Cut(buf.String(), "\n")
	return strings.TrimSpace(strings.TrimPrefix(first, "Subject:")), rest, nil
}

// Compose renders name into a message to the given address.
func Compose(to, name string, data any) (Message, error) {
	subject, body, err := Render(name, data)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: subject, Body: body, Tag: name}, nil
}

// InvoiceData fills the invoice, credit note and reminder templates.
type InvoiceData struct {
	Number        string
	InvoiceNumber string
	Company       string
	CustomerName  string
	Amount        string
	DueDate       string
	IBAN          string
	PaymentURL    string
	DaysOverdue   int
}

// QuoteData fills the quote signing template.
type QuoteData struct {
	Number       string
	Company      string
	CustomerName string
	Amount       string
	URL          string
	ExpiresAt    string
}

// NewsletterData fills the newsletter confirmation template.
type NewsletterData struct {
	ConfirmURL     string
	UnsubscribeURL string
}

// LinkData fills templates that only carry a link, like password reset.
type LinkData struct {
	URL string
}

type InvitationData struct {
	Company   string
	InvitedBy string
	ExpiresAt string
	URL       string
}
