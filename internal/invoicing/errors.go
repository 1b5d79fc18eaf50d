package invoicing

import "errors"

var (
	ErrNotFound           = errors.New("invoice not found")
	ErrCustomerNotFound   = errors.New("customer not found")
	ErrNotDraft           = errors.New("invoice is not a draft")
	ErrInvalidTransition  = errors.New("invalid invoice status transition")
	ErrNotCreditable      = errors.New("invoice cannot be credited")
	ErrAlreadyCredited    = errors.New("invoice already has a credit note")
	ErrNoRecipient        = errors.New("customer has no email address")
	ErrEntriesUnavailable = errors.New("time entries missing, not billable or already invoiced")
	ErrMixedCustomers     = errors.New("time entries belong to different customers")
	ErrNoRate             = errors.New("no exchange rate for invoice currency")
)
