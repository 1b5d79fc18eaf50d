// Package models contains the gorm models. Money is always decimal.Decimal;
// every tenant-owned model implements GetUserID for the ownership policy.
package models

// All returns every model in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&Permission{},
		&Profile{},
		&User{},
		&CompanySettings{},
		&Customer{},
		&Project{},
		&InvoiceSequence{},
		&Invoice{},
		&InvoiceItem{},
		&CreditNote{},
		&CreditNoteItem{},
		&PaymentReminder{},
		&PaymentLink{},
		&Quote{},
		&QuoteItem{},
		&RecurringInvoice{},
		&RecurringInvoiceItem{},
		&Expense{},
		&CategoryCorrection{},
		&VendorCategoryStat{},
		&TimeEntry{},
		&VATReport{},
		&DiscountCode{},
		&Invitation{},
		&PasswordResetToken{},
		&AuditLog{},
		&Currency{},
		&ExchangeRate{},
		&NewsletterSubscriber{},
	}
}
