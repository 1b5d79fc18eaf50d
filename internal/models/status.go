package models

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "DRAFT"
	InvoiceSent      InvoiceStatus = "SENT"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceOverdue   InvoiceStatus = "OVERDUE"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceDraft:     {InvoiceSent, InvoiceCancelled},
	InvoiceSent:      {InvoicePaid, InvoiceOverdue, InvoiceCancelled},
	InvoiceOverdue:   {InvoicePaid, InvoiceCancelled},
	InvoicePaid:      nil,
	InvoiceCancelled: nil,
}

func (s InvoiceStatus) Valid() bool {
	_, ok := invoiceTransitions[s]
	return ok
}

func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	return contains(invoiceTransitions[s], next)
}

// Open reports whether payment is still expected.
func (s InvoiceStatus) Open() bool { return s == InvoiceSent || s == InvoiceOverdue }

// Terminal reports whether no further transition exists.
func (s InvoiceStatus) Terminal() bool { return s.Valid() && len(invoiceTransitions[s]) == 0 }

// QuoteStatus is the commercial state of a quote.
type QuoteStatus string

const (
	QuoteDraft     QuoteStatus = "DRAFT"
	QuoteSent      QuoteStatus = "SENT"
	QuoteAccepted  QuoteStatus = "ACCEPTED"
	QuoteDeclined  QuoteStatus = "DECLINED"
	QuoteExpired   QuoteStatus = "EXPIRED"
	QuoteConverted QuoteStatus = "CONVERTED"
)

var quoteTransitions = map[QuoteStatus][]QuoteStatus{
	QuoteDraft:     {QuoteSent},
	QuoteSent:      {QuoteAccepted, QuoteDeclined, QuoteExpired},
	QuoteAccepted:  {QuoteConverted},
	QuoteDeclined:  nil,
	QuoteExpired:   nil,
	QuoteConverted: nil,
}

func (s QuoteStatus) CanTransitionTo(next QuoteStatus) bool {
	return contains(quoteTransitions[s], next)
}

// SigningStatus is the state of the public signing link of a quote.
type SigningStatus string

const (
	SigningPending  SigningStatus = "PENDING"
	SigningSigned   SigningStatus = "SIGNED"
	SigningDeclined SigningStatus = "DECLINED"
)

// RecurringStatus is the state of a recurring invoice template. ENDED is
// only reached by the generator once the end date has passed.
type RecurringStatus string

const (
	RecurringActive    RecurringStatus = "ACTIVE"
	RecurringPaused    RecurringStatus = "PAUSED"
	RecurringEnded     RecurringStatus = "ENDED"
	RecurringCancelled RecurringStatus = "CANCELLED"
)

var recurringTransitions = map[RecurringStatus][]RecurringStatus{
	RecurringActive:    {RecurringPaused, RecurringEnded, RecurringCancelled},
	RecurringPaused:    {RecurringActive, RecurringCancelled},
	RecurringEnded:     nil,
	RecurringCancelled: nil,
}

func (s RecurringStatus) CanTransitionTo(next RecurringStatus) bool {
	return contains(recurringTransitions[s], next)
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
