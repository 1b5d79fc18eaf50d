package handlers

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/dkortekaas/declair/internal/audit"
	"github.com/dkortekaas/declair/internal/invoicing"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/validation"
	"gorm.io/gorm"
)

var (
	kvkPattern  = regexp.MustCompile(`^\d{8}$`)
	ibanPattern = regexp.MustCompile(`^[A-Z]{2}\d{2}[A-Z0-9]{10,30}$`)
)

type CompanyHandler struct {
	db    *gorm.DB
	audit *audit.Log
}

func NewCompanyHandler(db *gorm.DB) *CompanyHandler {
	return &CompanyHandler{db: db, audit: audit.New(db)}
}

// Get returns the stored settings, or the defaults derived from the user
// when nothing was saved yet.
func (h *CompanyHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, _, err := invoicing.Sender(h.db.WithContext(r.Context()), currentUser(r))
	respond(w, r, http.StatusOK, settings, err)
}

type companyInput struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Website         string `json:"website"`
	Address         string `json:"address"`
	City            string `json:"city"`
	PostalCode      string `json:"postal_code"`
	Country         string `json:"country"`
	KvKNumber       string `json:"kvk_number"`
	VATNumber       string `json:"vat_number"`
	IBAN            string `json:"iban"`
	PaymentTermDays int    `json:"payment_term_days"`
	LogoURL         string `json:"logo_url"`
}

// Update saves the company settings that appear on invoices and emails.
func (h *CompanyHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	var in companyInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}

	var settings models.CompanySettings
	err := h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ?", userID).Take(&settings).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return err
		}
		settings.UserID = userID
		if v := in.apply(&settings); !v.Empty() {
			return v
		}
		if err := tx.Save(&settings).Error; err != nil {
			return err
		}
		_, err = h.audit.Record(r.Context(), tx, audit.Entry{
			UserID:     userID,
			EntityType: "company_settings",
			EntityID:   settings.ID,
			Action:     audit.ActionUpdate,
			Changes:    map[string]any{"name": settings.Name, "kvk_number": settings.KvKNumber, "vat_number": settings.VATNumber, "iban": settings.IBAN},
		})
		return err
	})
	respond(w, r, http.StatusOK, settings, err)
}

func (in companyInput) apply(s *models.CompanySettings) validation.Violations {
	s.Name = strings.TrimSpace(in.Name)
	s.Email = strings.ToLower(strings.TrimSpace(in.Email))
	s.Phone = strings.TrimSpace(in.Phone)
	s.Website = strings.TrimSpace(in.Website)
	s.Address = strings.TrimSpace(in.Address)
	s.City = strings.TrimSpace(in.City)
	s.PostalCode = strings.ToUpper(strings.TrimSpace(in.PostalCode))
	s.Country = strings.ToUpper(strings.TrimSpace(in.Country))
	if s.Country == "" {
		s.Country = "NL"
	}
	s.KvKNumber = strings.ReplaceAll(in.KvKNumber, " ", "")
	s.VATNumber = strings.ToUpper(strings.ReplaceAll(in.VATNumber, " ", ""))
	s.IBAN = strings.ToUpper(strings.ReplaceAll(in.IBAN, " ", ""))
	s.PaymentTermDays = in.PaymentTermDays
	if s.PaymentTermDays == 0 {
		s.PaymentTermDays = 30
	}
	s.LogoURL = strings.TrimSpace(in.LogoURL)

	v := validation.Violations{}
	validation.Required("name", s.Name, v)
	if s.Email != "" {
		validation.Email("email", s.Email, v)
	}
	if s.KvKNumber != "" && !kvkPattern.MatchString(s.KvKNumber) {
		v.Add("kvk_number", "invalid")
	}
	if s.IBAN != "" && !ibanPattern.MatchString(s.IBAN) {
		v.Add("iban", "invalid")
	}
	if s.PaymentTermDays < 1 || s.PaymentTermDays > 365 {
		v.Add("payment_term_days", "out_of_range")
	}
	return v
}
