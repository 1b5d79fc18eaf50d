// Package account covers signup, login and password reset.
package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dkortekaas/declair/auth"
	"github.com/dkortekaas/declair/httpx"
	"github.com/dkortekaas/declair/internal/db"
	"github.com/dkortekaas/declair/internal/logger"
	"github.com/dkortekaas/declair/internal/mail"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/ratelimit"
	"github.com/dkortekaas/declair/validation"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("reset token invalid or expired")
)

const (
	ResetTokenTTL     = time.Hour
	MinPasswordLength = 8
)

type Service struct {
	conn    *gorm.DB
	limiter ratelimit.Limiter
	mailer  mail.Mailer
	baseURL string
	now     func() time.Time
}

type Option func(*Service)

func WithMailer(m mail.Mailer) Option        { return func(s *Service) { s.mailer = m } }
func WithLimiter(l ratelimit.Limiter) Option { return func(s *Service) { s.limiter = l } }
func WithBaseURL(u string) Option            { return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") } }
func WithClock(now func() time.Time) Option  { return func(s *Service) { s.now = now } }

func NewService(conn *gorm.DB, opts ...Option) *Service {
	s := &Service{conn: conn, limiter: ratelimit.NewMemory(), mailer: mail.LogMailer{}, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func normalizeEmail(e string) string { return strings.ToLower(strings.TrimSpace(e)) }

type SignupInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (in SignupInput) Validate() validation.Violations {
	v := validation.Violations{}
	validation.Email("email", normalizeEmail(in.Email), v)
	validation.Required("password", in.Password, v)
	validation.MinLength("password", in.Password, MinPasswordLength, v)
	return v
}

// Signup creates a FREE user with the default profile.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*models.User, error) {
	if v := in.Validate(); !v.Empty() {
		return nil, v
	}
	var profileID *uint
	var p models.Profile
	if err := s.conn.WithContext(ctx).Where("name = ?", db.DefaultProfile).Take(&p).Error; err == nil {
		profileID = &p.ID
	}
	return CreateUser(ctx, s.conn, in.Email, in.Password, in.Name, profileID)
}

// CreateUser hashes the password and stores a FREE user. A taken email
// comes back as a violation.
func CreateUser(ctx context.Context, tx *gorm.DB, email, password, name string, profileID *uint) (*models.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		Email:     normalizeEmail(email),
		Password:  hash,
		Name:      strings.TrimSpace(name),
		ProfileID: profileID,
		Plan:      models.PlanFree,
	}
	err = tx.WithContext(ctx).Create(u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, validation.Violations{"email": "taken"}
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Login checks credentials. Attempts are limited per email address.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, error) {
	email = normalizeEmail(email)
	if err := s.limit(ctx, "login:"+email, ratelimit.LoginLimit); err != nil {
		return nil, err
	}
	var u models.User
	err := s.conn.WithContext(ctx).Where("email = ?", email).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(u.Password, password) {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

func (s *Service) limit(ctx context.Context, key string, l ratelimit.Limit) error {
	dec, err := s.limiter.Check(ctx, key, l)
	if err != nil {
		return err
	}
	if !dec.Allowed {
		return httpx.RateLimited(dec.RetryAfter(s.now()))
	}
	return nil
}

// RequestReset mails a one hour reset link. Unknown addresses get the same
// nil result so the endpoint does not reveal which emails have accounts.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	v := validation.Violations{}
	validation.Email("email", email, v)
	if !v.Empty() {
		return v
	}
	if err := s.limit(ctx, "reset:"+email, ratelimit.PasswordResetLimit); err != nil {
		return err
	}
	var u models.User
	err := s.conn.WithContext(ctx).Where("email = ?", email).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Ctx(ctx).Info().Msg("password reset for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	plain, digest, err := auth.NewToken()
	if err != nil {
		return err
	}
	return s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.PasswordResetToken{
			UserID: u.ID, TokenHash: digest, ExpiresAt: s.now().Add(ResetTokenTTL),
		}).Error; err != nil {
			return err
		}
		msg, err := mail.Compose(u.Email, mail.TplPasswordReset, mail.LinkData{URL: s.baseURL + "/reset-password?token=" + plain})
		if err != nil {
			return err
		}
		return s.mailer.Send(ctx, msg)
	})
}

type ResetInput struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ResetPassword consumes a reset token and sets the new password. Other
// outstanding tokens of the user are burned with it.
func (s *Service) ResetPassword(ctx context.Context, in ResetInput) error {
	v := validation.Violations{}
	validation.Required("token", in.Token, v)
	validation.MinLength("password", in.Password, MinPasswordLength, v)
	if !v.Empty() {
		return v
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return err
	}
	now := s.now()
	return s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tok models.PasswordResetToken
		err := tx.Where("token_hash = ? AND used_at IS NULL AND expires_at > ?", auth.HashToken(in.Token), now).Take(&tok).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		res := tx.Model(&models.PasswordResetToken{}).
			Where("user_id = ? AND used_at IS NULL", tok.UserID).
			Update("used_at", now)
		if res.Error != nil {
			return res.Error
		}
		return tx.Model(&models.User{}).Where("id = ?", tok.UserID).Update("password", hash).Error
	})
}
