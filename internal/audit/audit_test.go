package audit

import (
	"context"
	"testing"
	"time"

	"github.com/dkortekaas/declair/internal/db/dbtest"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	a, err := Canonical(map[string]any{"b": 1, "a": "x"})
	require.NoError(t, err)
	b, err := Canonical([]byte(`{ "a" : "x",  "b": 1 }`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1}`, string(a))
	assert.Equal(t, string(a), string(b))

	n, err := Canonical(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(n))

	num, err := Canonical([]byte(`{"total":1210.50}`))
	require.NoError(t, err)
	assert.Equal(t, `{"total":1210.50}`, string(num), "numbers keep their text")
}

func TestRecordChainsPerUser(t *testing.T) {
	conn := dbtest.New(t)
	u1 := dbtest.User(t, conn, "a@test.nl", models.PlanFree)
	u2 := dbtest.User(t, conn, "b@test.nl", models.PlanFree)
	clock := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	log := New(conn).WithClock(func() time.Time { clock = clock.Add(time.Second); return clock })
	ctx := context.Background()

	first, err := log.Record(ctx, nil, Entry{UserID: u1.ID, EntityType: "invoice", EntityID: 1, Action: ActionCreate, Changes: map[string]any{"number": "2025-0001"}})
	require.NoError(t, err)
	assert.Equal(t, GenesisHash, first.PreviousHash)
	assert.Len(t, first.Hash, 64)

	other, err := log.Record(ctx, nil, Entry{UserID: u2.ID, EntityType: "invoice", EntityID: 2, Action: ActionCreate})
	require.NoError(t, err)
	assert.Equal(t, GenesisHash, other.PreviousHash, "each user has an own chain")

	second, err := log.Record(ctx, nil, Entry{UserID: u1.ID, EntityType: "invoice", EntityID: 1, Action: ActionSend})
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.PreviousHash)

	rep, err := log.Verify(ctx, u1.ID)
	require.NoError(t, err)
	assert.True(t, rep.Valid)
	assert.Equal(t, 2, rep.Checked)
}

func TestVerifyDetectsTampering(t *testing.T) {
	conn := dbtest.New(t)
	u := dbtest.User(t, conn, "tamper@test.nl", models.PlanFree)
	log := New(conn)
	ctx := context.Background()

	var ids []uint
	for i := 0; i < 3; i++ {
		e, err := log.Record(ctx, nil, Entry{UserID: u.ID, EntityType: "expense", EntityID: uint(i + 1), Action: ActionCreate, Changes: map[string]any{"i": i}})
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	// SQLite has no append-only trigger, so the row can be altered here.
	require.NoError(t, conn.Model(&models.AuditLog{}).Where("id = ?", ids[1]).Update("action", ActionDelete).Error)

	rep, err := log.Verify(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, rep.Valid)
	require.NotNil(t, rep.BrokenAt)
	assert.Equal(t, ids[1], *rep.BrokenAt)
	assert.Equal(t, 1, rep.Checked)
	assert.Equal(t, "hash does not match contents", rep.Reason)
}

func TestVerifyDetectsRemovedEntry(t *testing.T) {
	conn := dbtest.New(t)
	u := dbtest.User(t, conn, "gap@test.nl", models.PlanFree)
	log := New(conn)
	ctx := context.Background()

	var ids []uint
	for i := 0; i < 3; i++ {
		e, err := log.Record(ctx, nil, Entry{UserID: u.ID, EntityType: "quote", EntityID: 7, Action: ActionUpdate})
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	require.NoError(t, conn.Delete(&models.AuditLog{}, ids[1]).Error)

	rep, err := log.Verify(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, rep.Valid)
	assert.Equal(t, ids[2], *rep.BrokenAt)
	assert.Equal(t, "previous hash does not match", rep.Reason)
}
