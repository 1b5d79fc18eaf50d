package policy

import (
	"context"
	"net/http"
	"time"

	"github.com/dkortekaas/declair/auth"
	"github.com/dkortekaas/declair/gate"
	"github.com/dkortekaas/declair/httpx"
	"gorm.io/gorm"
)

// AuthGate is the single authorization entry point of the API: profile
// permissions from the database (cached), ownership policies per resource
// type and plan features.
type AuthGate struct {
	Gate     *gate.Gate[uint]
	Resolver *gate.CachedResolver[uint]
	plans    *PlanResolver
}

// NewAuthGate builds the gate with a profile cache of cacheTTL and registers
// the ownership policy for every tenant-owned resource type.
func NewAuthGate(db *gorm.DB, cacheTTL time.Duration) *AuthGate {
	cached := gate.NewCachedResolver[uint](NewDBProfileResolver(db), cacheTTL)
	ag := &AuthGate{
		Gate:     gate.New[uint](cached),
		Resolver: cached,
		plans:    NewPlanResolver(db),
	}
	owned := NewOwnershipPolicy()
	for _, res := range OwnedResources {
		ag.Gate.Register(res, owned)
	}
	return ag
}

// OwnedResources are the resource types whose records belong to one user.
var OwnedResources = []string{
	"customer", "project", "time_entry", "expense", "invoice", "credit_note",
	"quote", "recurring_invoice", "vat_report", "company",
}

// Authorize checks the current user against action on resourceType and, if
// given, the loaded resource. Errors are httpx errors ready for WriteError.
func (ag *AuthGate) Authorize(ctx context.Context, action gate.Action, resourceType string, resource any) error {
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return httpx.Unauthorized()
	}
	if err := ag.Gate.Authorize(ctx, userID, action, resourceType, resource); err != nil {
		// A record of another tenant is reported as absent.
		if resource != nil && ag.Gate.CanProfile(ctx, userID, action, resourceType) {
			return httpx.NotFound()
		}
		return httpx.Forbidden()
	}
	return nil
}

func (ag *AuthGate) CanProfile(ctx context.Context, action gate.Action, resourceType string) bool {
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return false
	}
	return ag.Gate.CanProfile(ctx, userID, action, resourceType)
}

// InvalidateUser drops the cached profile of one user after reassignment.
func (ag *AuthGate) InvalidateUser(userID uint) { ag.Resolver.Invalidate(userID) }

// InvalidateAll drops every cached profile after a permission change.
func (ag *AuthGate) InvalidateAll() { ag.Resolver.InvalidateAll() }

// IsAdmin reports whether the user's profile holds "*:*".
func (ag *AuthGate) IsAdmin(ctx context.Context, userID uint) bool {
	p, err := ag.Resolver.Resolve(ctx, userID)
	return err == nil && p != nil && p.HasPermission(gate.SuperAdmin)
}

// RequirePermission answers 401/403 unless the profile grants resource:action.
func (ag *AuthGate) RequirePermission(resourceType string, action gate.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.UserIDFromContext(r.Context()); !ok {
				httpx.WriteError(w, r, httpx.Unauthorized())
				return
			}
			if !ag.CanProfile(r.Context(), action, resourceType) {
				httpx.WriteError(w, r, httpx.Forbidden())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin only lets "*:*" profiles through.
func (ag *AuthGate) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				httpx.WriteError(w, r, httpx.Unauthorized())
				return
			}
			if !ag.IsAdmin(r.Context(), userID) {
				httpx.WriteError(w, r, httpx.Forbidden())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireFeature answers 403 feature_not_available when the user's plan
// lacks f.
func (ag *AuthGate) RequireFeature(f Feature) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				httpx.WriteError(w, r, httpx.Unauthorized())
				return
			}
			if err := ag.plans.Check(r.Context(), userID, f); err != nil {
				httpx.WriteError(w, r, FeatureError(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Plans exposes the plan resolver for field level feature checks.
func (ag *AuthGate) Plans() *PlanResolver { return ag.plans }
