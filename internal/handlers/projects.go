package handlers

import (
	"net/http"
	"strings"

	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/validation"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ProjectHandler struct {
	db *gorm.DB
}

func NewProjectHandler(db *gorm.DB) *ProjectHandler {
	return &ProjectHandler{db: db}
}

type projectInput struct {
	CustomerID  uint                 `json:"customer_id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	HourlyRate  decimal.Decimal      `json:"hourly_rate"`
	Status      models.ProjectStatus `json:"status"`
}

// List returns the projects, optionally of one ?customer_id= or ?status=.
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	db := h.db.WithContext(r.Context()).Preload("Customer").Where("user_id = ?", currentUser(r))
	if id := queryUint(r, "customer_id"); id != 0 {
		db = db.Where("customer_id = ?", id)
	}
	if st := r.URL.Query().Get("status"); st != "" {
		db = db.Where("status = ?", strings.ToUpper(st))
	}
	out := []models.Project{}
	err := db.Order("name").Find(&out).Error
	respond(w, r, http.StatusOK, out, err)
}

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.load(r)
	respond(w, r, http.StatusOK, p, err)
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in projectInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	p := models.Project{UserID: currentUser(r), Status: models.ProjectActive}
	if err := h.apply(r, in, &p); err != nil {
		fail(w, r, err)
		return
	}
	err := h.db.WithContext(r.Context()).Create(&p).Error
	respond(w, r, http.StatusCreated, p, err)
}

func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, err := h.load(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var in projectInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.apply(r, in, p); err != nil {
		fail(w, r, err)
		return
	}
	p.Customer = nil
	err = h.db.WithContext(r.Context()).Save(p).Error
	respond(w, r, http.StatusOK, p, err)
}

// Delete is a soft delete; time entries still resolve the project.
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, err := h.load(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	err = h.db.WithContext(r.Context()).Delete(p).Error
	respond(w, r, http.StatusNoContent, nil, err)
}

func (h *ProjectHandler) apply(r *http.Request, in projectInput, p *models.Project) error {
	p.CustomerID = in.CustomerID
	p.Name = strings.TrimSpace(in.Name)
	p.Description = in.Description
	p.HourlyRate = in.HourlyRate
	if in.Status != "" {
		p.Status = models.ProjectStatus(strings.ToUpper(string(in.Status)))
	}

	v := validation.Violations{}
	validation.Required("name", p.Name, v)
	validation.NonNegativeDecimal("hourly_rate", p.HourlyRate, v)
	validation.OneOf("status", p.Status, []models.ProjectStatus{models.ProjectActive, models.ProjectArchived}, v)
	if p.CustomerID == 0 {
		v.Add("customer_id", "required")
	} else {
		var n int64
		if err := h.db.WithContext(r.Context()).Model(&models.Customer{}).
			Where("id = ? AND user_id = ?", p.CustomerID, p.UserID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			v.Add("customer_id", "not_found")
		}
	}
	return v.Err()
}

func (h *ProjectHandler) load(r *http.Request) (*models.Project, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	var p models.Project
	err = h.db.WithContext(r.Context()).Preload("Customer").
		Where("id = ? AND user_id = ?", id, currentUser(r)).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}
