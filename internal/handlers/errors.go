package handlers

import (
	"errors"

	"github.com/dkortekaas/declair/httpx"
	"github.com/dkortekaas/declair/internal/account"
	"github.com/dkortekaas/declair/internal/currency"
	"github.com/dkortekaas/declair/internal/discount"
	"github.com/dkortekaas/declair/internal/expenses"
	"github.com/dkortekaas/declair/internal/export"
	"github.com/dkortekaas/declair/internal/importer"
	"github.com/dkortekaas/declair/internal/invitations"
	"github.com/dkortekaas/declair/internal/invoicing"
	"github.com/dkortekaas/declair/internal/newsletter"
	"github.com/dkortekaas/declair/internal/payments"
	"github.com/dkortekaas/declair/internal/policy"
	"github.com/dkortekaas/declair/internal/quotes"
	"github.com/dkortekaas/declair/internal/recurring"
	"github.com/dkortekaas/declair/internal/timetracking"
	"github.com/dkortekaas/declair/internal/vat"
	"github.com/dkortekaas/declair/validation"
	"gorm.io/gorm"
)

type errMapping struct {
	target error
	to     func() *httpx.Error
}

func conflict(code string) func() *httpx.Error {
	return func() *httpx.Error { return httpx.Conflict(code) }
}

func invalidField(field, code string) func() *httpx.Error {
	return func() *httpx.Error { return httpx.Invalid(validation.Violations{field: code}) }
}

func kind(k httpx.Kind, code string) func() *httpx.Error {
	return func() *httpx.Error { return httpx.NewError(k, code) }
}

// Checked in order; the first match wins.
var errMappings = []errMapping{
	{invoicing.ErrNotFound, httpx.NotFound},
	{invoicing.ErrCreditNoteNotFound, httpx.NotFound},
	{quotes.ErrNotFound, httpx.NotFound},
	{recurring.ErrNotFound, httpx.NotFound},
	{timetracking.ErrNotFound, httpx.NotFound},
	{expenses.ErrNotFound, httpx.NotFound},
	{vat.ErrReportNotFound, httpx.NotFound},
	{discount.ErrNotFound, httpx.NotFound},
	{invitations.ErrNotFound, httpx.NotFound},
	{newsletter.ErrNotFound, httpx.NotFound},
	{payments.ErrLinkNotFound, httpx.NotFound},
	{export.ErrUnknownEntity, httpx.NotFound},
	{gorm.ErrRecordNotFound, httpx.NotFound},

	{invoicing.ErrCustomerNotFound, invalidField("customer_id", "not_found")},
	{quotes.ErrCustomerNotFound, invalidField("customer_id", "not_found")},
	{recurring.ErrCustomerNotFound, invalidField("customer_id", "not_found")},
	{timetracking.ErrProjectNotFound, invalidField("project_id", "not_found")},
	{invoicing.ErrMixedCustomers, invalidField("entry_ids", "mixed_customers")},
	{invoicing.ErrNoRate, invalidField("currency", "no_rate")},
	{expenses.ErrNoRate, invalidField("currency", "no_rate")},
	{currency.ErrNoRate, invalidField("currency", "no_rate")},
	{currency.ErrUnknownCurrency, invalidField("currency", "unknown_currency")},
	{recurring.ErrInvalidFrequency, invalidField("frequency", "invalid")},
	{recurring.ErrInvalidInterval, invalidField("interval", "must_be_positive")},
	{export.ErrUnknownColumn, invalidField("columns", "unknown_column")},
	{export.ErrInvalidOption, kind(httpx.KindValidation, "invalid_option")},
	{importer.ErrEmpty, invalidField("file", "empty_file")},
	{importer.ErrTooManyRows, invalidField("file", "too_many_rows")},
	{importer.ErrMissingColumns, invalidField("file", "missing_columns")},
	{discount.ErrInactive, invalidField("code", "code_inactive")},
	{discount.ErrExpired, invalidField("code", "code_expired")},
	{discount.ErrExhausted, invalidField("code", "code_exhausted")},

	{invoicing.ErrNotDraft, conflict("invoice_not_draft")},
	{invoicing.ErrInvalidTransition, conflict("invalid_transition")},
	{invoicing.ErrNotCreditable, conflict("not_creditable")},
	{invoicing.ErrAlreadyCredited, conflict("already_credited")},
	{invoicing.ErrEntriesUnavailable, conflict("entries_unavailable")},
	{invoicing.ErrNoRecipient, conflict("no_recipient")},
	{quotes.ErrNoRecipient, conflict("no_recipient")},
	{quotes.ErrNotDraft, conflict("quote_not_draft")},
	{quotes.ErrNotSignable, conflict("not_signable")},
	{quotes.ErrNotAccepted, conflict("not_accepted")},
	{recurring.ErrInvalidTransition, conflict("invalid_transition")},
	{timetracking.ErrTimeEntryInvoiced, conflict("time_entry_invoiced")},
	{vat.ErrReportSubmitted, conflict("report_submitted")},
	{vat.ErrUnsupportedRate, conflict("unsupported_vat_rate")},
	{payments.ErrNotPayable, conflict("not_payable")},
	{payments.ErrAlreadySubscribed, conflict("already_subscribed")},
	{invitations.ErrUsed, conflict("already_used")},
	{gorm.ErrDuplicatedKey, conflict("already_exists")},

	{invitations.ErrExpired, kind(httpx.KindGone, "expired")},
	{account.ErrInvalidCredentials, kind(httpx.KindUnauthorized, "invalid_credentials")},
	{account.ErrInvalidToken, kind(httpx.KindValidation, "invalid_token")},
	{newsletter.ErrInvalidToken, kind(httpx.KindValidation, "invalid_token")},
	{payments.ErrInvalidSignature, kind(httpx.KindValidation, "invalid_signature")},
	{httpx.ErrBadJSON, kind(httpx.KindValidation, "invalid_json")},
	{payments.ErrProviderDown, kind(httpx.KindUpstream, "payment_unavailable")},
	{payments.ErrProviderFailed, kind(httpx.KindUpstream, "payment_unavailable")},
}

// apiError turns a service error into the *httpx.Error the client sees.
func apiError(err error) error {
	var he *httpx.Error
	if errors.As(err, &he) {
		return he
	}
	var v validation.Violations
	if errors.As(err, &v) {
		return httpx.Invalid(v)
	}
	if errors.Is(err, policy.ErrFeatureNotAvailable) {
		return policy.FeatureError(err)
	}
	for _, m := range errMappings {
		if errors.Is(err, m.target) {
			e := m.to()
			e.Err = err
			return e
		}
	}
	return httpx.Internal(err)
}
