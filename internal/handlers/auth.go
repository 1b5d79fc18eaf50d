package handlers

import (
	"net/http"

	"github.com/dkortekaas/declair/auth"
	"github.com/dkortekaas/declair/httpx"
	"github.com/dkortekaas/declair/i18n"
	"github.com/dkortekaas/declair/internal/account"
	"github.com/dkortekaas/declair/internal/invitations"
)

type AuthHandler struct {
	accounts    *account.Service
	invitations *invitations.Service
}

func NewAuthHandler(accounts *account.Service, inv *invitations.Service) *AuthHandler {
	return &AuthHandler{accounts: accounts, invitations: inv}
}

type loginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in loginInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	user, err := h.accounts.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		fail(w, r, err)
		return
	}
	auth.CreateSession(w, user.ID)
	httpx.JSON(w, http.StatusOK, user)
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var in account.SignupInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	user, err := h.accounts.Signup(r.Context(), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	auth.CreateSession(w, user.ID)
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

type resetRequest struct {
	Email string `json:"email"`
}

// RequestReset answers the same for known and unknown addresses.
func (h *AuthHandler) RequestReset(w http.ResponseWriter, r *http.Request) {
	var in resetRequest
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.accounts.RequestReset(r.Context(), in.Email); err != nil {
		fail(w, r, err)
		return
	}
	lang := i18n.LangFromContext(r.Context())
	httpx.JSON(w, http.StatusAccepted, map[string]string{"message": i18n.T(lang, "password_reset_sent")})
}

func (h *AuthHandler) ConfirmReset(w http.ResponseWriter, r *http.Request) {
	var in account.ResetInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil, h.accounts.ResetPassword(r.Context(), in))
}

// AcceptInvitation creates the invited user and signs them in.
func (h *AuthHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var in invitations.AcceptInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	user, err := h.invitations.Accept(r.Context(), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	auth.CreateSession(w, user.ID)
	httpx.JSON(w, http.StatusCreated, user)
}
