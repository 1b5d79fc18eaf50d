// Package newsletter manages double opt-in subscriptions. Unsubscribe links
// carry an HMAC so they work without a login and cannot be forged for
// another address.
package newsletter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dkortekaas/declair/internal/mail"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/validation"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInvalidToken = errors.New("invalid newsletter token")
	ErrNotFound     = errors.New("subscriber not found")
)

// Token is the lowercase hex HMAC-SHA256 of "unsubscribe:<id>:<email>".
func Token(secret string, subscriberID uint, email string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "unsubscribe:%d:%s", subscriberID, email)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares token with the expected one in constant time.
func Verify(secret string, subscriberID uint, email, token string) bool {
	want := Token(secret, subscriberID, email)
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(token))) == 1
}

type Service struct {
	db      *gorm.DB
	secret  string
	mailer  mail.Mailer
	baseURL string
	now     func() time.Time
}

type Option func(*Service)

func WithMailer(m mail.Mailer) Option       { return func(s *Service) { s.mailer = m } }
func WithBaseURL(u string) Option           { return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(db *gorm.DB, secret string, opts ...Option) *Service {
	s := &Service{db: db, secret: secret, mailer: mail.LogMailer{}, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func normalize(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// UnsubscribeURL is the one-click link put in every newsletter.
func (s *Service) UnsubscribeURL(sub *models.NewsletterSubscriber) string {
	q := url.Values{}
	q.Set("id", strconv.FormatUint(uint64(sub.ID), 10))
	q.Set("email", sub.Email)
	q.Set("token", Token(s.secret, sub.ID, sub.Email))
	return s.baseURL + "/api/newsletter/unsubscribe?" + q.Encode()
}

func (s *Service) confirmURL(token string) string {
	return s.baseURL + "/api/newsletter/confirm?token=" + url.QueryEscape(token)
}

// Subscribe registers email and mails a confirmation link. Confirmed
// addresses are left alone and the caller sees the same result either way.
func (s *Service) Subscribe(ctx context.Context, email string) error {
	email = normalize(email)
	v := validation.Violations{}
	validation.Email("email", email, v)
	if !v.Empty() {
		return v
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.NewsletterSubscriber
		err := tx.Where("email = ?", email).Take(&sub).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			sub = models.NewsletterSubscriber{Email: email, Status: models.SubscriberPending}
		case err != nil:
			return err
		case sub.Status == models.SubscriberConfirmed:
			return nil
		}
		sub.Status = models.SubscriberPending
		sub.ConfirmToken = uuid.NewString()
		sub.UnsubscribedAt = nil
		if err := tx.Save(&sub).Error; err != nil {
			return err
		}
		msg, err := mail.Compose(sub.Email, mail.TplNewsletterConfirm, mail.NewsletterData{
			ConfirmURL:     s.confirmURL(sub.ConfirmToken),
			UnsubscribeURL: s.UnsubscribeURL(&sub),
		})
		if err != nil {
			return err
		}
		return s.mailer.Send(ctx, msg)
	})
}

// Confirm completes the opt-in for the subscriber holding token.
func (s *Service) Confirm(ctx context.Context, token string) (*models.NewsletterSubscriber, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}
	var sub models.NewsletterSubscriber
	err := s.db.WithContext(ctx).Where("confirm_token = ? AND status = ?", token, models.SubscriberPending).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	now := s.now()
	sub.Status = models.SubscriberConfirmed
	sub.ConfirmedAt = &now
	sub.ConfirmToken = ""
	if err := s.db.WithContext(ctx).Select("status", "confirmed_at", "confirm_token").Updates(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// Unsubscribe verifies the link token and opts the subscriber out.
// Repeating it is harmless.
func (s *Service) Unsubscribe(ctx context.Context, subscriberID uint, email, token string) error {
	email = normalize(email)
	if !Verify(s.secret, subscriberID, email, token) {
		return ErrInvalidToken
	}
	var sub models.NewsletterSubscriber
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&sub, subscriberID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if sub.Status == models.SubscriberUnsubscribed {
		return nil
	}
	now := s.now()
	return s.db.WithContext(ctx).Model(&sub).Updates(map[string]any{
		"status":          models.SubscriberUnsubscribed,
		"unsubscribed_at": now,
		"confirm_token":   "",
	}).Error
}

// Confirmed lists the addresses a newsletter goes to.
func (s *Service) Confirmed(ctx context.Context) ([]models.NewsletterSubscriber, error) {
	var out []models.NewsletterSubscriber
	err := s.db.WithContext(ctx).Where("status = ?", models.SubscriberConfirmed).Order("id").Find(&out).Error
	return out, err
}
