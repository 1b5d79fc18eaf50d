package handlers

import (
	"net/http"
	"strings"

	"github.com/dkortekaas/declair/internal/analytics"
	"github.com/dkortekaas/declair/internal/audit"
	"github.com/dkortekaas/declair/internal/invitations"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/payments"
)

type InvitationHandler struct {
	invitations *invitations.Service
}

func NewInvitationHandler(svc *invitations.Service) *InvitationHandler {
	return &InvitationHandler{invitations: svc}
}

func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.invitations.List(r.Context(), currentUser(r))
	if list == nil {
		list = []models.Invitation{}
	}
	respond(w, r, http.StatusOK, list, err)
}

func (h *InvitationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in invitations.Input
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	inv, err := h.invitations.Create(r.Context(), currentUser(r), in)
	respond(w, r, http.StatusCreated, inv, err)
}

func (h *InvitationHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil, h.invitations.Revoke(r.Context(), currentUser(r), id))
}

type BillingHandler struct {
	billing *payments.Billing
}

func NewBillingHandler(b *payments.Billing) *BillingHandler {
	return &BillingHandler{billing: b}
}

type checkoutInput struct {
	DiscountCode string `json:"discount_code"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

// Checkout starts the PRO subscription checkout. The body is optional.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var in checkoutInput
	if r.ContentLength != 0 {
		if err := decode(r, &in); err != nil {
			fail(w, r, err)
			return
		}
	}
	sess, err := h.billing.Checkout(r.Context(), currentUser(r), strings.TrimSpace(in.DiscountCode))
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, checkoutResponse{URL: sess.URL}, nil)
}

type DashboardHandler struct {
	analytics *analytics.Service
	audit     *audit.Log
}

func NewDashboardHandler(a *analytics.Service, log *audit.Log) *DashboardHandler {
	return &DashboardHandler{analytics: a, audit: log}
}

func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.analytics.Dashboard(r.Context(), currentUser(r))
	respond(w, r, http.StatusOK, d, err)
}

// VerifyAudit walks the audit chain of the signed in user.
func (h *DashboardHandler) VerifyAudit(w http.ResponseWriter, r *http.Request) {
	rep, err := h.audit.Verify(r.Context(), currentUser(r))
	respond(w, r, http.StatusOK, rep, err)
}

// AuditLog lists entries, optionally of ?entity_type=&entity_id=.
func (h *DashboardHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	list, err := h.audit.List(r.Context(), currentUser(r),
		r.URL.Query().Get("entity_type"), queryUint(r, "entity_id"), queryInt(r, "limit", 100))
	if list == nil {
		list = []models.AuditLog{}
	}
	respond(w, r, http.StatusOK, list, err)
}
