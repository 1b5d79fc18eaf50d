package models

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// VATTreatment decides which VAT return bucket an invoice lands in.
type VATTreatment string

const (
	VATStandard      VATTreatment = "STANDARD"
	VATReverseCharge VATTreatment = "REVERSE_CHARGE"
	VATIntraEU       VATTreatment = "EU"
	VATExport        VATTreatment = "EXPORT"
)

func (t VATTreatment) Valid() bool {
	switch t {
	case VATStandard, VATReverseCharge, VATIntraEU, VATExport:
		return true
	}
	return false
}

// euCountries are the EU member states other than NL (ISO 3166-1 alpha-2).
var euCountries = []string{
	"AT", "BE", "BG", "CY", "CZ", "DE", "DK", "EE", "ES", "FI", "FR", "GR", "HR",
	"HU", "IE", "IT", "LT", "LU", "LV", "MT", "PL", "PT", "RO", "SE", "SI", "SK",
}

type Customer struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID uint `gorm:"index;not null" json:"user_id"`

	Name        string `gorm:"size:255;not null" json:"name"`
	CompanyName string `gorm:"size:255" json:"company_name,omitempty"`
	Email       string `gorm:"size:255" json:"email,omitempty"`
	Phone       string `gorm:"size:50" json:"phone,omitempty"`

	Address    string `gorm:"size:500" json:"address,omitempty"`
	PostalCode string `gorm:"size:20" json:"postal_code,omitempty"`
	City       string `gorm:"size:100" json:"city,omitempty"`
	Country    string `gorm:"size:2;default:'NL'" json:"country"`

	VATNumber string `gorm:"size:20" json:"vat_number,omitempty"`
	Notes     string `gorm:"type:text" json:"notes,omitempty"`
}

func (c *Customer) GetUserID() uint { return c.UserID }

// FullAddress formats the address block the Dutch way: street, "postcode city", country.
func (c *Customer) FullAddress() string {
	var lines []string
	if c.Address != "" {
		lines = append(lines, c.Address)
	}
	if pc := strings.Join(strings.Fields(c.PostalCode+" "+c.City), " "); pc != "" {
		lines = append(lines, pc)
	}
	if c.Country != "" && !strings.EqualFold(c.Country, "NL") {
		lines = append(lines, strings.ToUpper(c.Country))
	}
	return strings.Join(lines, "\n")
}

// DefaultVATTreatment derives the treatment from the customer's country:
// domestic customers pay Dutch VAT, EU businesses with a VAT number are
// reverse-charged intra-community, non-EU customers are export.
func (c *Customer) DefaultVATTreatment() VATTreatment {
	country := strings.ToUpper(strings.TrimSpace(c.Country))
	switch {
	case country == "" || country == "NL":
		return VATStandard
	case slices.Contains(euCountries, country):
		if strings.TrimSpace(c.VATNumber) != "" {
			return VATIntraEU
		}
		return VATStandard
	default:
		return VATExport
	}
}

type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "ACTIVE"
	ProjectArchived ProjectStatus = "ARCHIVED"
)

type Project struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID     uint      `gorm:"index;not null" json:"user_id"`
	CustomerID uint      `gorm:"index;not null" json:"customer_id"`
	Customer   *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`

	Name        string          `gorm:"size:255;not null" json:"name"`
	Description string          `gorm:"type:text" json:"description,omitempty"`
	HourlyRate  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"hourly_rate"`
	Status      ProjectStatus   `gorm:"size:20;default:'ACTIVE'" json:"status"`
}

func (p *Project) GetUserID() uint { return p.UserID }
