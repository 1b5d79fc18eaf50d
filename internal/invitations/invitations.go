// Package invitations onboards users into an administration with a preset
// profile.
package invitations

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dkortekaas/declair/internal/account"
	"github.com/dkortekaas/declair/internal/invoicing"
	"github.com/dkortekaas/declair/internal/mail"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/validation"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("invitation not found")
	ErrExpired  = errors.New("invitation expired")
	ErrUsed     = errors.New("invitation already used")
)

const TTL = 7 * 24 * time.Hour

type Service struct {
	db      *gorm.DB
	mailer  mail.Mailer
	baseURL string
	now     func() time.Time
}

type Option func(*Service)

func WithMailer(m mail.Mailer) Option       { return func(s *Service) { s.mailer = m } }
func WithBaseURL(u string) Option           { return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{db: db, mailer: mail.LogMailer{}, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

type Input struct {
	Email     string `json:"email"`
	ProfileID *uint  `json:"profile_id"`
}

// Create stores a pending invitation and mails the accept link. A pending
// invitation for the same address is replaced.
func (s *Service) Create(ctx context.Context, invitedBy uint, in Input) (*models.Invitation, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	v := validation.Violations{}
	validation.Email("email", email, v)
	if !v.Empty() {
		return nil, v
	}
	inv := &models.Invitation{
		Email:     email,
		Token:     uuid.NewString(),
		ProfileID: in.ProfileID,
		InvitedBy: invitedBy,
		ExpiresAt: s.now().Add(TTL),
		Status:    models.InvitationPending,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return validation.Violations{"email": "taken"}
		}
		if in.ProfileID != nil {
			var n int64
			if err := tx.Model(&models.Profile{}).Where("id = ?", *in.ProfileID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return validation.Violations{"profile_id": "not_found"}
			}
		}
		if err := tx.Model(&models.Invitation{}).
			Where("email = ? AND status = ?", email, models.InvitationPending).
			Update("status", models.InvitationRevoked).Error; err != nil {
			return err
		}
		if err := tx.Create(inv).Error; err != nil {
			return err
		}
		company, _, err := invoicing.Sender(tx, invitedBy)
		if err != nil {
			return err
		}
		var inviter models.User
		if err := tx.Select("id", "name", "email").First(&inviter, invitedBy).Error; err != nil {
			return err
		}
		by := inviter.Name
		if by == "" {
			by = inviter.Email
		}
		msg, err := mail.Compose(email, mail.TplInvitation, mail.InvitationData{
			Company:   company.Name,
			InvitedBy: by,
			ExpiresAt: inv.ExpiresAt.Format("02-01-2006"),
			URL:       s.baseURL + "/invitations/accept?token=" + inv.Token,
		})
		if err != nil {
			return err
		}
		return s.mailer.Send(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// List returns the invitations sent by invitedBy, newest first.
func (s *Service) List(ctx context.Context, invitedBy uint) ([]models.Invitation, error) {
	var out []models.Invitation
	err := s.db.WithContext(ctx).Where("invited_by = ?", invitedBy).Order("id desc").Find(&out).Error
	return out, err
}

// Revoke withdraws a pending invitation.
func (s *Service) Revoke(ctx context.Context, invitedBy, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("id = ? AND invited_by = ? AND status = ?", id, invitedBy, models.InvitationPending).
		Update("status", models.InvitationRevoked)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type AcceptInput struct {
	Token    string `json:"token"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Accept creates the invited user with the invitation's profile.
func (s *Service) Accept(ctx context.Context, in AcceptInput) (*models.User, error) {
	v := validation.Violations{}
	validation.Required("token", in.Token, v)
	validation.MinLength("password", in.Password, account.MinPasswordLength, v)
	if !v.Empty() {
		return nil, v
	}
	var user *models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv models.Invitation
		err := tx.Where("token = ?", strings.TrimSpace(in.Token)).Take(&inv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		now := s.now()
		switch {
		case inv.Status == models.InvitationAccepted:
			return ErrUsed
		case inv.Status == models.InvitationRevoked:
			return ErrNotFound
		case !now.Before(inv.ExpiresAt):
			return ErrExpired
		}
		u, err := account.CreateUser(ctx, tx, inv.Email, in.Password, in.Name, inv.ProfileID)
		if err != nil {
			return err
		}
		res := tx.Model(&inv).Where("status = ?", models.InvitationPending).
			Updates(map[string]any{"status": models.InvitationAccepted, "accepted_at": now, "user_id": u.ID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUsed
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
