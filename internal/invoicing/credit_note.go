package invoicing

import (
	"context"
	"errors"
	"strings"

	"github.com/dkortekaas/declair/internal/audit"
	"github.com/dkortekaas/declair/internal/events"
	"github.com/dkortekaas/declair/internal/mail"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/money"
	"github.com/dkortekaas/declair/internal/numbering"
	"github.com/dkortekaas/declair/internal/pdf"
	"gorm.io/gorm"
)

var ErrCreditNoteNotFound = errors.New("credit note not found")

// CreditNote fully credits a SENT, OVERDUE or PAID invoice. The credit note
// mirrors the invoice lines with negated amounts; an unpaid invoice is
// cancelled in the same transaction.
func (s *Service) CreditNote(ctx context.Context, userID, invoiceID uint, reason string) (*models.CreditNote, error) {
	inv, err := s.Get(ctx, userID, invoiceID)
	if err != nil {
		return nil, err
	}
	if !inv.Status.Open() && inv.Status != models.InvoicePaid {
		return nil, ErrNotCreditable
	}

	issue := s.today()
	cn := &models.CreditNote{
		UserID:       userID,
		InvoiceID:    inv.ID,
		IssueDate:    issue,
		Reason:       strings.TrimSpace(reason),
		VATTreatment: inv.VATTreatment,
		Currency:     inv.Currency,
		ExchangeRate: inv.ExchangeRate,
		Subtotal:     inv.Subtotal.Neg(),
		VATAmount:    inv.VATAmount.Neg(),
		Total:        inv.Total.Neg(),
	}
	for i, it := range inv.Items {
		cn.Items = append(cn.Items, models.CreditNoteItem{
			Description: it.Description,
			Quantity:    it.Quantity.Neg(),
			UnitPrice:   it.UnitPrice,
			VATRate:     it.VATRate,
			NetAmount:   it.NetAmount.Neg(),
			VATAmount:   it.VATAmount.Neg(),
			Position:    i,
		})
	}

	err = numbering.Allocate(ctx, s.db, userID, numbering.KindCreditNote, issue.Year(), func(tx *gorm.DB, number string) error {
		var n int64
		if err := tx.Model(&models.CreditNote{}).Where("invoice_id = ?", inv.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyCredited
		}
		cn.ID = 0
		for i := range cn.Items {
			cn.Items[i].ID, cn.Items[i].CreditNoteID = 0, 0
		}
		cn.Number = number
		if err := tx.Omit("Invoice").Create(cn).Error; err != nil {
			return err
		}
		if inv.Status.Open() {
			res := tx.Model(&models.Invoice{}).Where("id = ? AND status = ?", inv.ID, inv.Status).
				Update("status", models.InvoiceCancelled)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrInvalidTransition
			}
			if _, err := s.audit.Record(ctx, tx, audit.Entry{
				UserID: userID, EntityType: EntityInvoice, EntityID: inv.ID, Action: audit.ActionCancel,
				Changes: map[string]any{"from": inv.Status, "to": models.InvoiceCancelled, "credit_note": number},
			}); err != nil {
				return err
			}
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityCreditNote, EntityID: cn.ID, Action: audit.ActionCreate,
			Changes: map[string]any{"number": number, "invoice": inv.Number, "total": cn.Total},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if inv.Status.Open() {
		inv.Status = models.InvoiceCancelled
	}
	cn.Invoice = inv
	events.Emit(ctx, s.events, events.Event{
		Type: events.CreditNoteCreated, UserID: userID, EntityID: cn.ID, OccurredAt: s.now(),
		Data: map[string]any{"number": cn.Number, "invoice": inv.Number, "total": cn.Total.String()},
	})
	return cn, nil
}

func (s *Service) GetCreditNote(ctx context.Context, userID, id uint) (*models.CreditNote, error) {
	var cn models.CreditNote
	err := s.db.WithContext(ctx).
		Preload("Items", itemsByPosition).
		Preload("Invoice.Customer", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Where("user_id = ?", userID).First(&cn, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCreditNoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cn, nil
}

func (s *Service) ListCreditNotes(ctx context.Context, userID uint) ([]models.CreditNote, error) {
	var out []models.CreditNote
	err := s.db.WithContext(ctx).Preload("Invoice").Where("user_id = ?", userID).
		Order("issue_date desc, number desc").Find(&out).Error
	return out, err
}

// CreditNotePDF renders a credit note.
func (s *Service) CreditNotePDF(ctx context.Context, userID, id uint) ([]byte, string, error) {
	cn, err := s.GetCreditNote(ctx, userID, id)
	if err != nil {
		return nil, "", err
	}
	company, plan, err := Sender(s.db.WithContext(ctx), userID)
	if err != nil {
		return nil, "", err
	}
	out, err := pdf.Render(pdf.FromCreditNote(cn, company, plan))
	return out, "creditnota-" + cn.Number + ".pdf", err
}

// SendCreditNote emails a credit note with its PDF to the invoice's customer.
func (s *Service) SendCreditNote(ctx context.Context, userID, id uint) error {
	cn, err := s.GetCreditNote(ctx, userID, id)
	if err != nil {
		return err
	}
	if cn.Invoice == nil || cn.Invoice.Customer == nil || cn.Invoice.Customer.Email == "" {
		return ErrNoRecipient
	}
	company, plan, err := Sender(s.db.WithContext(ctx), userID)
	if err != nil {
		return err
	}
	file, err := pdf.Render(pdf.FromCreditNote(cn, company, plan))
	if err != nil {
		return err
	}
	msg, err := mail.Compose(cn.Invoice.Customer.Email, mail.TplCreditNote, mail.InvoiceData{
		Number:        cn.Number,
		InvoiceNumber: cn.Invoice.Number,
		Company:       company.Name,
		CustomerName:  cn.Invoice.Customer.Name,
		Amount:        money.Format(cn.Total, cn.Currency),
	})
	if err != nil {
		return err
	}
	msg.Attachments = []mail.Attachment{{Name: "creditnota-" + cn.Number + ".pdf", ContentType: "application/pdf", Data: file}}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return err
	}
	_, err = s.audit.Record(ctx, nil, audit.Entry{
		UserID: userID, EntityType: EntityCreditNote, EntityID: cn.ID, Action: audit.ActionSend,
		Changes: map[string]any{"to": cn.Invoice.Customer.Email},
	})
	return err
}
