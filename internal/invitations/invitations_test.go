package invitations

import (
	"context"
	"testing"
	"time"

	"github.com/dkortekaas/declair/internal/db/dbtest"
	"github.com/dkortekaas/declair/internal/mail"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvitationFlow(t *testing.T) {
	conn := dbtest.Seeded(t)
	admin := dbtest.User(t, conn, "baas@example.nl", models.PlanPro)
	require.NoError(t, conn.Create(&models.CompanySettings{UserID: admin.ID, Name: "Kortekaas ICT"}).Error)
	var accountant models.Profile
	require.NoError(t, conn.Where("name = ?", "accountant").First(&accountant).Error)

	now := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	out := &mail.Outbox{}
	svc := NewService(conn, WithMailer(out), WithBaseURL("https://app.example"), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	inv, err := svc.Create(ctx, admin.ID, Input{Email: "Boekhouder@Example.nl", ProfileID: &accountant.ID})
	require.NoError(t, err)
	assert.Equal(t, "boekhouder@example.nl", inv.Email)
	assert.Equal(t, now.Add(TTL), inv.ExpiresAt)

	msgs := out.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Uitnodiging voor Kortekaas ICT", msgs[0].Subject)
	assert.Contains(t, msgs[0].Body, "https://app.example/invitations/accept?token="+inv.Token)

	_, err = svc.Create(ctx, admin.ID, Input{Email: "baas@example.nl"})
	assert.Equal(t, validation.Violations{"email": "taken"}, err)
	missing := uint(9999)
	_, err = svc.Create(ctx, admin.ID, Input{Email: "x@example.nl", ProfileID: &missing})
	assert.Equal(t, validation.Violations{"profile_id": "not_found"}, err)

	u, err := svc.Accept(ctx, AcceptInput{Token: inv.Token, Name: "Bob", Password: "boekhouden1"})
	require.NoError(t, err)
	require.NotNil(t, u.ProfileID)
	assert.Equal(t, accountant.ID, *u.ProfileID)
	assert.Equal(t, "boekhouder@example.nl", u.Email)

	_, err = svc.Accept(ctx, AcceptInput{Token: inv.Token, Password: "boekhouden1"})
	assert.ErrorIs(t, err, ErrUsed)

	t.Run("expired", func(t *testing.T) {
		late, err := svc.Create(ctx, admin.ID, Input{Email: "laat@example.nl"})
		require.NoError(t, err)
		now = now.Add(TTL)
		defer func() { now = now.Add(-TTL) }()
		_, err = svc.Accept(ctx, AcceptInput{Token: late.Token, Password: "welkom1234"})
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("revoke", func(t *testing.T) {
		first, err := svc.Create(ctx, admin.ID, Input{Email: "later@example.nl"})
		require.NoError(t, err)
		second, err := svc.Create(ctx, admin.ID, Input{Email: "later@example.nl"})
		require.NoError(t, err)

		_, err = svc.Accept(ctx, AcceptInput{Token: first.Token, Password: "welkom1234"})
		assert.ErrorIs(t, err, ErrNotFound, "a new invitation replaces the pending one")

		require.NoError(t, svc.Revoke(ctx, admin.ID, second.ID))
		assert.ErrorIs(t, svc.Revoke(ctx, admin.ID, second.ID), ErrNotFound)
		_, err = svc.Accept(ctx, AcceptInput{Token: second.Token, Password: "welkom1234"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	list, err := svc.List(ctx, admin.ID)
	require.NoError(t, err)
	assert.Len(t, list, 4)
}
