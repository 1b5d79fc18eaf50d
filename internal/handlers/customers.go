package handlers

import (
	"net/http"
	"strings"

	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/validation"
	"gorm.io/gorm"
)

const pageSize = 20

type CustomerHandler struct {
	db *gorm.DB
}

func NewCustomerHandler(db *gorm.DB) *CustomerHandler {
	return &CustomerHandler{db: db}
}

type customerInput struct {
	Name        string `json:"name"`
	CompanyName string `json:"company_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	PostalCode  string `json:"postal_code"`
	City        string `json:"city"`
	Country     string `json:"country"`
	VATNumber   string `json:"vat_number"`
	Notes       string `json:"notes"`
}

func (in customerInput) apply(c *models.Customer) validation.Violations {
	c.Name = strings.TrimSpace(in.Name)
	c.CompanyName = strings.TrimSpace(in.CompanyName)
	c.Email = strings.ToLower(strings.TrimSpace(in.Email))
	c.Phone = strings.TrimSpace(in.Phone)
	c.Address = strings.TrimSpace(in.Address)
	c.PostalCode = strings.ToUpper(strings.TrimSpace(in.PostalCode))
	c.City = strings.TrimSpace(in.City)
	c.Country = strings.ToUpper(strings.TrimSpace(in.Country))
	if c.Country == "" {
		c.Country = "NL"
	}
	c.VATNumber = strings.ToUpper(strings.ReplaceAll(in.VATNumber, " ", ""))
	c.Notes = in.Notes

	v := validation.Violations{}
	validation.Required("name", c.Name, v)
	if c.Email != "" {
		validation.Email("email", c.Email, v)
	}
	if len(c.Country) != 2 {
		v.Add("country", "invalid")
	}
	return v
}

type page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

// List pages through the customers, optionally filtered by ?q= on name,
// company name or email.
func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	query := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	p := queryInt(r, "page", 1)
	if p < 1 {
		p = 1
	}

	db := h.db.WithContext(r.Context()).Model(&models.Customer{}).Where("user_id = ?", userID)
	if query != "" {
		like := "%" + query + "%"
		db = db.Where("LOWER(name) LIKE ? OR LOWER(company_name) LIKE ? OR LOWER(email) LIKE ?", like, like, like)
	}
	out := page[models.Customer]{Items: []models.Customer{}, Page: p, Limit: pageSize}
	if err := db.Count(&out.Total).Error; err != nil {
		fail(w, r, err)
		return
	}
	err := db.Order("name").Limit(pageSize).Offset((p - 1) * pageSize).Find(&out.Items).Error
	respond(w, r, http.StatusOK, out, err)
}

func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.load(r)
	respond(w, r, http.StatusOK, c, err)
}

func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in customerInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	c := models.Customer{UserID: currentUser(r)}
	if v := in.apply(&c); !v.Empty() {
		fail(w, r, v)
		return
	}
	err := h.db.WithContext(r.Context()).Create(&c).Error
	respond(w, r, http.StatusCreated, c, err)
}

func (h *CustomerHandler) Update(w http.ResponseWriter, r *http.Request) {
	c, err := h.load(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var in customerInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	if v := in.apply(c); !v.Empty() {
		fail(w, r, v)
		return
	}
	err = h.db.WithContext(r.Context()).Save(c).Error
	respond(w, r, http.StatusOK, c, err)
}

// Delete is a soft delete; invoices still resolve the customer.
func (h *CustomerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	c, err := h.load(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	err = h.db.WithContext(r.Context()).Delete(c).Error
	respond(w, r, http.StatusNoContent, nil, err)
}

func (h *CustomerHandler) load(r *http.Request) (*models.Customer, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	var c models.Customer
	if err := h.db.WithContext(r.Context()).Where("id = ? AND user_id = ?", id, currentUser(r)).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}
