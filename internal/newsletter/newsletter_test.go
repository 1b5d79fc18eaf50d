package newsletter

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dkortekaas/declair/internal/db/dbtest"
	"github.com/dkortekaas/declair/internal/mail"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestToken(t *testing.T) {
	tok := Token("s3cret", 42, "jan@example.nl")
	assert.Regexp(t, hex64, tok)
	assert.Equal(t, tok, Token("s3cret", 42, "jan@example.nl"))

	assert.NotEqual(t, tok, Token("s3cret!", 42, "jan@example.nl"))
	assert.NotEqual(t, tok, Token("s3cret", 43, "jan@example.nl"))
	assert.NotEqual(t, tok, Token("s3cret", 42, "piet@example.nl"))

	assert.True(t, Verify("s3cret", 42, "jan@example.nl", tok))
	assert.True(t, Verify("s3cret", 42, "jan@example.nl", strings.ToUpper(tok)))
	assert.False(t, Verify("s3cret", 42, "jan@example.nl", tok[:63]))
	assert.False(t, Verify("s3cret", 42, "jan@example.nl", ""))
}

func TestSubscribeConfirmUnsubscribe(t *testing.T) {
	conn := dbtest.New(t)
	out := &mail.Outbox{}
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(conn, "s3cret", WithMailer(out), WithBaseURL("https://app.declair.nl/"),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	assert.IsType(t, validation.Violations{}, svc.Subscribe(ctx, "geen-adres"))

	require.NoError(t, svc.Subscribe(ctx, " Jan@Example.nl "))
	msgs := out.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "jan@example.nl", msgs[0].To)
	assert.Equal(t, "Bevestig je inschrijving", msgs[0].Subject)

	var sub models.NewsletterSubscriber
	require.NoError(t, conn.Where("email = ?", "jan@example.nl").Take(&sub).Error)
	assert.Equal(t, models.SubscriberPending, sub.Status)
	assert.Contains(t, msgs[0].Body, "https://app.declair.nl/api/newsletter/confirm?token="+sub.ConfirmToken)

	_, err := svc.Confirm(ctx, "onbekend")
	assert.ErrorIs(t, err, ErrInvalidToken)
	confirmed, err := svc.Confirm(ctx, sub.ConfirmToken)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriberConfirmed, confirmed.Status)
	assert.Equal(t, now, confirmed.ConfirmedAt.UTC())

	require.NoError(t, svc.Subscribe(ctx, "jan@example.nl"), "confirmed address answers the same")
	assert.Len(t, out.Messages(), 1)

	list, err := svc.Confirmed(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	link, err := url.Parse(svc.UnsubscribeURL(&list[0]))
	require.NoError(t, err)
	q := link.Query()
	id, _ := strconv.ParseUint(q.Get("id"), 10, 64)
	assert.Equal(t, "/api/newsletter/unsubscribe", link.Path)

	assert.ErrorIs(t, svc.Unsubscribe(ctx, uint(id), "piet@example.nl", q.Get("token")), ErrInvalidToken)
	require.NoError(t, svc.Unsubscribe(ctx, uint(id), q.Get("email"), q.Get("token")))
	require.NoError(t, svc.Unsubscribe(ctx, uint(id), q.Get("email"), q.Get("token")))

	require.NoError(t, conn.First(&sub, id).Error)
	assert.Equal(t, models.SubscriberUnsubscribed, sub.Status)
	assert.NotNil(t, sub.UnsubscribedAt)

	require.NoError(t, svc.Subscribe(ctx, "jan@example.nl"), "resubscribing restarts the opt-in")
	require.NoError(t, conn.First(&sub, id).Error)
	assert.Equal(t, models.SubscriberPending, sub.Status)
	assert.Len(t, out.Messages(), 2)
}
