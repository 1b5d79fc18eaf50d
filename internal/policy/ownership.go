// Package policy wires the gate to the database: profile lookup, tenant
// ownership and subscription plan features.
package policy

import (
	"context"

	"github.com/dkortekaas/declair/gate"
)

// Ownable is implemented by every tenant-owned model.
type Ownable interface {
	GetUserID() uint
}

// OwnershipPolicy allows an action on a record only to the user owning it.
// Records that are not Ownable are denied.
type OwnershipPolicy struct{}

func NewOwnershipPolicy() *OwnershipPolicy { return &OwnershipPolicy{} }

func (p *OwnershipPolicy) Can(_ context.Context, userID uint, _ gate.Action, resource any) bool {
	if resource == nil {
		return true
	}
	o, ok := resource.(Ownable)
	return ok && o.GetUserID() == userID
}

// AdminBypassPolicy lets admins past the inner policy.
type AdminBypassPolicy struct {
	inner   gate.Policy[uint]
	isAdmin func(ctx context.Context, userID uint) bool
}

func NewAdminBypassPolicy(inner gate.Policy[uint], isAdmin func(ctx context.Context, userID uint) bool) *AdminBypassPolicy {
	return &AdminBypassPolicy{inner: inner, isAdmin: isAdmin}
}

func (p *AdminBypassPolicy) Can(ctx context.Context, userID uint, action gate.Action, resource any) bool {
	return p.isAdmin(ctx, userID) || p.inner.Can(ctx, userID, action, resource)
}
