package quotes

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dkortekaas/declair/httpx"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/ratelimit"
	"gorm.io/gorm"
)

// Reasons reported by the guard. They double as API error codes.
const (
	ReasonRateLimited     = "rate_limited"
	ReasonNotFound        = "not_found"
	ReasonSigningDisabled = "signing_disabled"
	ReasonExpired         = "expired"
	ReasonAlreadySigned   = "already_signed"
	ReasonAlreadyDeclined = "already_declined"
)

// Result is the outcome of a guard check. Quote is set once the token
// resolved, also when the check fails on the quote's state.
type Result struct {
	OK         bool
	Quote      *models.Quote
	Status     int
	Reason     string
	RetryAfter time.Duration
}

// Err converts a failed result into the API error to answer with.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	switch r.Status {
	case http.StatusTooManyRequests:
		return httpx.RateLimited(r.RetryAfter)
	case http.StatusNotFound:
		return httpx.NotFound()
	case http.StatusForbidden:
		return httpx.NewError(httpx.KindForbidden, r.Reason)
	default:
		return httpx.NewError(httpx.KindGone, r.Reason)
	}
}

func deny(status int, reason string, q *models.Quote) Result {
	return Result{Status: status, Reason: reason, Quote: q}
}

// Guard decides whether a public signing token may be used. Every call
// counts against the token's rate limit, including unknown tokens, so the
// answer for a guessed token never differs from a real one that is throttled.
type Guard struct {
	db      *gorm.DB
	limiter ratelimit.Limiter
	limit   ratelimit.Limit
	now     func() time.Time
}

func NewGuard(db *gorm.DB, limiter ratelimit.Limiter) *Guard {
	return &Guard{db: db, limiter: limiter, limit: ratelimit.SigningLimit, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Check runs, in order, the rate limit, the token lookup and the state
// checks. The error is reserved for storage failures.
func (g *Guard) Check(ctx context.Context, token string) (Result, error) {
	token = strings.TrimSpace(token)
	dec, err := g.limiter.Check(ctx, "quote-sign:"+token, g.limit)
	if err != nil {
		return Result{}, err
	}
	if !dec.Allowed {
		r := deny(http.StatusTooManyRequests, ReasonRateLimited, nil)
		r.RetryAfter = dec.RetryAfter(g.now())
		return r, nil
	}

	if token == "" {
		return deny(http.StatusNotFound, ReasonNotFound, nil), nil
	}
	var q models.Quote
	err = g.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position, id") }).
		Preload("Customer", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Where("signing_token = ?", token).First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return deny(http.StatusNotFound, ReasonNotFound, nil), nil
	}
	if err != nil {
		return Result{}, err
	}

	switch {
	case !q.SigningEnabled:
		return deny(http.StatusForbidden, ReasonSigningDisabled, &q), nil
	case q.SigningStatus == models.SigningSigned:
		return deny(http.StatusGone, ReasonAlreadySigned, &q), nil
	case q.SigningStatus == models.SigningDeclined:
		return deny(http.StatusGone, ReasonAlreadyDeclined, &q), nil
	case q.SigningExpiresAt != nil && g.now().After(*q.SigningExpiresAt),
		q.Status == models.QuoteExpired:
		return deny(http.StatusGone, ReasonExpired, &q), nil
	}
	return Result{OK: true, Status: http.StatusOK, Quote: &q}, nil
}
