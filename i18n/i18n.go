// Package i18n holds the user-facing messages for API error codes.
// Dutch is the default language; English is the only other translation.
package i18n

import (
	"context"
	"strings"
)

const DefaultLang = "nl"

type ctxKey struct{}

var messages = map[string]map[string]string{
	"nl": {
		"required":              "Verplicht veld",
		"invalid":               "Ongeldige waarde",
		"invalid_email":         "Ongeldig e-mailadres",
		"invalid_date":          "Ongeldige datum",
		"invalid_amount":        "Ongeldig bedrag",
		"invalid_vat_rate":      "Ongeldig btw-tarief (0, 9 of 21)",
		"must_be_positive":      "Moet groter dan nul zijn",
		"out_of_range":          "Waarde buiten bereik",
		"too_short":             "Te kort",
		"invalid_json":          "Ongeldige invoer",
		"validation_failed":     "Controleer de ingevulde gegevens",
		"unauthorized":          "Je bent niet ingelogd",
		"invalid_credentials":   "Onjuist e-mailadres of wachtwoord",
		"forbidden":             "Je hebt geen toegang tot deze actie",
		"feature_not_available": "Deze functie is niet beschikbaar in je abonnement",
		"signing_disabled":      "Ondertekenen is niet ingeschakeld voor deze offerte",
		"not_found":             "Niet gevonden",
		"conflict":              "Deze actie is niet mogelijk in de huidige status",
		"already_exists":        "Bestaat al",
		"invalid_transition":    "Deze statuswijziging is niet toegestaan",
		"invoice_not_draft":     "Alleen conceptfacturen kunnen worden gewijzigd",
		"time_entry_invoiced":   "Gefactureerde uren kunnen niet meer worden gewijzigd",
		"report_submitted":      "Deze btw-aangifte is al ingediend",
		"code_exhausted":        "Deze kortingscode is niet meer geldig",
		"expired":               "Deze link is verlopen",
		"already_signed":        "Deze offerte is al ondertekend",
		"already_declined":      "Deze offerte is al afgewezen",
		"already_used":          "Deze link is al gebruikt",
		"rate_limited":          "Te veel pogingen, probeer het later opnieuw",
		"internal_error":        "Er is iets misgegaan, probeer het later opnieuw",
		"password_reset_sent":   "Als dit e-mailadres bij ons bekend is, ontvang je een e-mail met instructies",
		"taken":                 "Is al in gebruik",
		"code_already_exists":   "Deze code bestaat al",
		"code_inactive":         "Deze kortingscode is niet actief",
		"code_expired":          "Deze kortingscode is verlopen",
		"invalid_token":         "Deze link is ongeldig of verlopen",
		"invalid_signature":     "Ongeldige handtekening",
		"invalid_option":        "Ongeldige exportoptie",
		"unknown_column":        "Onbekende kolom",
		"unknown_currency":      "Onbekende valuta",
		"no_rate":               "Geen wisselkoers beschikbaar voor deze valuta",
		"mixed_customers":       "Alle uren moeten bij dezelfde klant horen",
		"empty_file":            "Het bestand bevat geen regels",
		"too_many_rows":         "Het bestand bevat te veel regels",
		"missing_columns":       "Het bestand mist verplichte kolommen",
		"not_creditable":        "Deze factuur kan niet worden gecrediteerd",
		"already_credited":      "Voor deze factuur bestaat al een creditnota",
		"entries_unavailable":   "Een of meer uren zijn niet factureerbaar of al gefactureerd",
		"no_recipient":          "De klant heeft geen e-mailadres",
		"quote_not_draft":       "Alleen conceptoffertes kunnen worden gewijzigd",
		"not_signable":          "Deze offerte kan niet ter ondertekening worden aangeboden",
		"not_accepted":          "Alleen geaccepteerde offertes kunnen worden omgezet",
		"unsupported_vat_rate":  "Deze periode bevat een niet ondersteund btw-tarief",
		"not_payable":           "Deze factuur kan niet online worden betaald",
		"already_subscribed":    "Je hebt al een actief abonnement",
		"payment_unavailable":   "De betaaldienst is tijdelijk niet beschikbaar",
		"system_profile":        "Systeemprofielen kunnen niet worden hernoemd of verwijderd",
		"profile_has_users":     "Dit profiel is nog aan gebruikers gekoppeld",
	},
	"en": {
		"required":              "Required",
		"invalid":               "Invalid value",
		"invalid_email":         "Invalid email address",
		"invalid_date":          "Invalid date",
		"invalid_amount":        "Invalid amount",
		"invalid_vat_rate":      "Invalid VAT rate (0, 9 or 21)",
		"must_be_positive":      "Must be greater than zero",
		"out_of_range":          "Value out of range",
		"too_short":             "Too short",
		"invalid_json":          "Invalid input",
		"validation_failed":     "Please check the submitted data",
		"unauthorized":          "You are not signed in",
		"invalid_credentials":   "Incorrect email or password",
		"forbidden":             "You are not allowed to perform this action",
		"feature_not_available": "This feature is not available on your plan",
		"signing_disabled":      "Signing is not enabled for this quote",
		"not_found":             "Not found",
		"conflict":              "This action is not possible in the current state",
		"already_exists":        "Already exists",
		"invalid_transition":    "This status change is not allowed",
		"invoice_not_draft":     "Only draft invoices can be changed",
		"time_entry_invoiced":   "Invoiced time entries can no longer be changed",
		"report_submitted":      "This VAT return has already been submitted",
		"code_exhausted":        "This discount code is no longer valid",
		"expired":               "This link has expired",
		"already_signed":        "This quote has already been signed",
		"already_declined":      "This quote has already been declined",
		"already_used":          "This link has already been used",
		"rate_limited":          "Too many attempts, please try again later",
		"internal_error":        "Something went wrong, please try again later",
		"password_reset_sent":   "If this email address is known to us, you will receive an email with instructions",
		"taken":                 "Already in use",
		"code_already_exists":   "This code already exists",
		"code_inactive":         "This discount code is not active",
		"code_expired":          "This discount code has expired",
		"invalid_token":         "This link is invalid or has expired",
		"invalid_signature":     "Invalid signature",
		"invalid_option":        "Invalid export option",
		"unknown_column":        "Unknown column",
		"unknown_currency":      "Unknown currency",
		"no_rate":               "No exchange rate available for this currency",
		"mixed_customers":       "All time entries must belong to the same customer",
		"empty_file":            "The file contains no rows",
		"too_many_rows":         "The file contains too many rows",
		"missing_columns":       "The file lacks required columns",
		"not_creditable":        "This invoice cannot be credited",
		"already_credited":      "This invoice already has a credit note",
		"entries_unavailable":   "One or more time entries are not billable or already invoiced",
		"no_recipient":          "The customer has no email address",
		"quote_not_draft":       "Only draft quotes can be changed",
		"not_signable":          "This quote cannot be offered for signing",
		"not_accepted":          "Only accepted quotes can be converted",
		"unsupported_vat_rate":  "This period contains an unsupported VAT rate",
		"not_payable":           "This invoice cannot be paid online",
		"already_subscribed":    "You already have an active subscription",
		"payment_unavailable":   "The payment service is temporarily unavailable",
		"system_profile":        "System profiles cannot be renamed or deleted",
		"profile_has_users":     "This profile is still assigned to users",
	},
}

// T returns the message for code in lang, falling back to Dutch and then to
// the code itself.
func T(lang, code string) string {
	if m, ok := messages[lang]; ok {
		if s, ok := m[code]; ok {
			return s
		}
	}
	if s, ok := messages[DefaultLang][code]; ok {
		return s
	}
	return code
}

// DetectLanguage picks a supported language from an Accept-Language header.
func DetectLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		base, _, _ := strings.Cut(strings.ToLower(tag), "-")
		if _, ok := messages[base]; ok {
			return base
		}
	}
	return DefaultLang
}

func WithLang(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, ctxKey{}, lang)
}

func LangFromContext(ctx context.Context) string {
	if l, ok := ctx.Value(ctxKey{}).(string); ok && l != "" {
		return l
	}
	return DefaultLang
}
