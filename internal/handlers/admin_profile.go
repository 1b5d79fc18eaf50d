package handlers

import (
	"net/http"
	"strings"

	"github.com/dkortekaas/declair/httpx"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/policy"
	"github.com/dkortekaas/declair/validation"
	"gorm.io/gorm"
)

// AdminProfileHandler manages profiles, their permissions and which
// profile each user has. Every change drops the cached permission sets.
type AdminProfileHandler struct {
	db   *gorm.DB
	gate *policy.AuthGate
}

func NewAdminProfileHandler(db *gorm.DB, gate *policy.AuthGate) *AdminProfileHandler {
	return &AdminProfileHandler{db: db, gate: gate}
}

type profileSummary struct {
	models.Profile
	UserCount int64 `json:"user_count"`
}

// List returns all profiles with their permissions and number of users.
func (h *AdminProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	var profiles []models.Profile
	if err := h.db.WithContext(r.Context()).Preload("Permissions").Order("name").Find(&profiles).Error; err != nil {
		fail(w, r, err)
		return
	}
	out := make([]profileSummary, len(profiles))
	for i, p := range profiles {
		out[i].Profile = p
		if err := h.db.WithContext(r.Context()).Model(&models.User{}).Where("profile_id = ?", p.ID).Count(&out[i].UserCount).Error; err != nil {
			fail(w, r, err)
			return
		}
	}
	respond(w, r, http.StatusOK, out, nil)
}

type profileInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (in profileInput) apply(p *models.Profile) validation.Violations {
	p.Name = strings.TrimSpace(in.Name)
	p.Description = strings.TrimSpace(in.Description)
	v := validation.Violations{}
	validation.Required("name", p.Name, v)
	return v
}

func (h *AdminProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in profileInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	var p models.Profile
	if v := in.apply(&p); !v.Empty() {
		fail(w, r, v)
		return
	}
	err := h.db.WithContext(r.Context()).Create(&p).Error
	respond(w, r, http.StatusCreated, p, err)
}

// Update renames a profile. System profiles keep their name.
func (h *AdminProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, err := h.load(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var in profileInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	name := p.Name
	if v := in.apply(p); !v.Empty() {
		fail(w, r, v)
		return
	}
	if p.IsSystem && p.Name != name {
		fail(w, r, httpx.Conflict("system_profile"))
		return
	}
	err = h.db.WithContext(r.Context()).Save(p).Error
	respond(w, r, http.StatusOK, p, err)
}

// Delete refuses system profiles and profiles that still have users.
func (h *AdminProfileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, err := h.load(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if p.IsSystem {
		fail(w, r, httpx.Conflict("system_profile"))
		return
	}
	var users int64
	if err := h.db.WithContext(r.Context()).Model(&models.User{}).Where("profile_id = ?", p.ID).Count(&users).Error; err != nil {
		fail(w, r, err)
		return
	}
	if users > 0 {
		fail(w, r, httpx.Conflict("profile_has_users"))
		return
	}
	if err := h.db.WithContext(r.Context()).Delete(p).Error; err != nil {
		fail(w, r, err)
		return
	}
	h.gate.InvalidateAll()
	w.WriteHeader(http.StatusNoContent)
}

type permissionsInput struct {
	PermissionIDs []uint `json:"permission_ids"`
}

// SetPermissions replaces the permission set of a profile.
func (h *AdminProfileHandler) SetPermissions(w http.ResponseWriter, r *http.Request) {
	p, err := h.load(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var in permissionsInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	perms := []models.Permission{}
	if len(in.PermissionIDs) > 0 {
		if err := h.db.WithContext(r.Context()).Where("id IN ?", in.PermissionIDs).Find(&perms).Error; err != nil {
			fail(w, r, err)
			return
		}
		if len(perms) != len(in.PermissionIDs) {
			fail(w, r, validation.Violations{"permission_ids": "not_found"})
			return
		}
	}
	if err := h.db.WithContext(r.Context()).Model(p).Association("Permissions").Replace(perms); err != nil {
		fail(w, r, err)
		return
	}
	h.gate.InvalidateAll()
	p.Permissions = perms
	respond(w, r, http.StatusOK, p, nil)
}

func (h *AdminProfileHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms := []models.Permission{}
	err := h.db.WithContext(r.Context()).Order("resource_type, action").Find(&perms).Error
	respond(w, r, http.StatusOK, perms, err)
}

type userProfile struct {
	ID        uint   `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	ProfileID *uint  `json:"profile_id"`
}

func (h *AdminProfileHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	out := []userProfile{}
	err := h.db.WithContext(r.Context()).Model(&models.User{}).
		Select("id", "email", "name", "profile_id").Order("email").Find(&out).Error
	respond(w, r, http.StatusOK, out, err)
}

type assignInput struct {
	ProfileID *uint `json:"profile_id"`
}

// AssignProfile sets or clears (null) the profile of user {id}.
func (h *AdminProfileHandler) AssignProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var in assignInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	if in.ProfileID != nil {
		var n int64
		if err := h.db.WithContext(r.Context()).Model(&models.Profile{}).Where("id = ?", *in.ProfileID).Count(&n).Error; err != nil {
			fail(w, r, err)
			return
		}
		if n == 0 {
			fail(w, r, validation.Violations{"profile_id": "not_found"})
			return
		}
	}
	res := h.db.WithContext(r.Context()).Model(&models.User{}).Where("id = ?", userID).Update("profile_id", in.ProfileID)
	if res.Error != nil {
		fail(w, r, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		fail(w, r, httpx.NotFound())
		return
	}
	h.gate.InvalidateUser(userID)
	respond(w, r, http.StatusOK, map[string]any{"user_id": userID, "profile_id": in.ProfileID}, nil)
}

func (h *AdminProfileHandler) load(r *http.Request) (*models.Profile, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	var p models.Profile
	if err := h.db.WithContext(r.Context()).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
