package policy_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkortekaas/declair/auth"
	"github.com/dkortekaas/declair/gate"
	"github.com/dkortekaas/declair/httpx"
	"github.com/dkortekaas/declair/internal/db/dbtest"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/policy"
)

type owned struct{ userID uint }

func (o *owned) GetUserID() uint { return o.userID }

type notOwned struct{ ID uint }

func TestOwnershipPolicy(t *testing.T) {
	p := policy.NewOwnershipPolicy()
	ctx := context.Background()

	if !p.Can(ctx, 1, gate.ActionList, nil) {
		t.Error("list without a record must pass")
	}
	if !p.Can(ctx, 42, gate.ActionUpdate, &owned{42}) {
		t.Error("owner must pass")
	}
	if p.Can(ctx, 99, gate.ActionView, &owned{42}) {
		t.Error("other user must be denied")
	}
	if p.Can(ctx, 1, gate.ActionView, &notOwned{1}) {
		t.Error("records without an owner must be denied")
	}
}

func TestAdminBypassPolicy(t *testing.T) {
	isAdmin := func(_ context.Context, userID uint) bool { return userID == 1 }
	p := policy.NewAdminBypassPolicy(policy.NewOwnershipPolicy(), isAdmin)
	ctx := context.Background()

	if !p.Can(ctx, 1, gate.ActionDelete, &owned{42}) {
		t.Error("admin must bypass ownership")
	}
	if !p.Can(ctx, 42, gate.ActionView, &owned{42}) || p.Can(ctx, 99, gate.ActionView, &owned{42}) {
		t.Error("non-admins fall back to ownership")
	}
}

func TestAllows(t *testing.T) {
	if policy.Allows(models.PlanFree, policy.FeatureRecurring) {
		t.Error("free plan must not get recurring invoices")
	}
	if !policy.Allows(models.PlanPro, policy.FeatureXLSXExport) {
		t.Error("pro plan gets every feature")
	}
	if !policy.Allows(models.PlanFree, policy.Feature("csv_export")) {
		t.Error("features outside the pro list are free")
	}
}

func TestAuthGate(t *testing.T) {
	conn := dbtest.Seeded(t)
	owner := dbtest.User(t, conn, "owner@example.nl", models.PlanFree)
	dbtest.AssignProfile(t, conn, &owner, "owner")
	viewer := dbtest.User(t, conn, "viewer@example.nl", models.PlanPro)
	dbtest.AssignProfile(t, conn, &viewer, "viewer")
	admin := dbtest.User(t, conn, "admin@example.nl", models.PlanFree)
	dbtest.AssignProfile(t, conn, &admin, "admin")

	ag := policy.NewAuthGate(conn, time.Minute)
	ownerCtx := auth.WithUserID(context.Background(), owner.ID)
	viewerCtx := auth.WithUserID(context.Background(), viewer.ID)

	if err := ag.Authorize(ownerCtx, gate.ActionUpdate, "invoice", &models.Invoice{UserID: owner.ID}); err != nil {
		t.Fatalf("owner update own invoice: %v", err)
	}
	var he *httpx.Error
	err := ag.Authorize(ownerCtx, gate.ActionView, "invoice", &models.Invoice{UserID: viewer.ID})
	if !errors.As(err, &he) || he.Kind != httpx.KindNotFound {
		t.Fatalf("foreign invoice must look absent, got %v", err)
	}
	err = ag.Authorize(viewerCtx, gate.ActionUpdate, "invoice", nil)
	if !errors.As(err, &he) || he.Kind != httpx.KindForbidden {
		t.Fatalf("viewer update must be forbidden, got %v", err)
	}
	err = ag.Authorize(context.Background(), gate.ActionList, "invoice", nil)
	if !errors.As(err, &he) || he.Kind != httpx.KindUnauthorized {
		t.Fatalf("anonymous must be unauthorized, got %v", err)
	}
	if !ag.IsAdmin(context.Background(), admin.ID) || ag.IsAdmin(context.Background(), owner.ID) {
		t.Fatal("only the admin profile is admin")
	}
}

func TestAuthGate_Middleware(t *testing.T) {
	conn := dbtest.Seeded(t)
	free := dbtest.User(t, conn, "free@example.nl", models.PlanFree)
	dbtest.AssignProfile(t, conn, &free, "owner")
	pro := dbtest.User(t, conn, "pro@example.nl", models.PlanPro)
	dbtest.AssignProfile(t, conn, &pro, "owner")
	ag := policy.NewAuthGate(conn, time.Minute)

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := ag.RequirePermission("recurring_invoice", gate.ActionCreate)(ag.RequireFeature(policy.FeatureRecurring)(ok))

	cases := []struct {
		name   string
		userID uint
		want   int
	}{
		{"anonymous", 0, http.StatusUnauthorized},
		{"free plan", free.ID, http.StatusForbidden},
		{"pro plan", pro.ID, http.StatusNoContent},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/recurring-invoices", nil)
			if c.userID != 0 {
				r = r.WithContext(auth.WithUserID(r.Context(), c.userID))
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != c.want {
				t.Fatalf("expected %d got %d: %s", c.want, w.Code, w.Body.String())
			}
		})
	}
}
