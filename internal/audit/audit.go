// Package audit writes the per-user hash chained audit trail.
//
// Every entry stores the hash of the previous entry of the same user; the
// first entry of a user chains on GenesisHash. The hash covers
//
//	previousHash|userID|entityType|entityID|action|changes|createdAt
//
// where changes is the canonical JSON of the change set (object keys sorted,
// no insignificant whitespace) and createdAt is RFC 3339 in UTC with
// microsecond precision.
package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dkortekaas/declair/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GenesisHash is the previous hash of the first entry of every chain.
var GenesisHash = strings.Repeat("0", 64)

// Common actions.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionSend    = "send"
	ActionPay     = "pay"
	ActionCancel  = "cancel"
	ActionSign    = "sign"
	ActionDecline = "decline"
	ActionConvert = "convert"
	ActionSubmit  = "submit"
)

// Entry is what a caller records.
type Entry struct {
	UserID     uint
	EntityType string
	EntityID   uint
	Action     string
	Changes    any
	IPAddress  string
}

type ipKey struct{}

// WithIP stores the client address recorded on entries written under ctx.
func WithIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey{}, ip)
}

func IPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ipKey{}).(string)
	return ip
}

// Log appends entries and verifies chains.
type Log struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Log {
	return &Log{db: db, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Record appends e to its user's chain. Pass the caller's transaction so the
// entry commits or rolls back with the change it describes; a nil tx uses a
// transaction of its own.
func (l *Log) Record(ctx context.Context, tx *gorm.DB, e Entry) (*models.AuditLog, error) {
	if tx == nil {
		var out *models.AuditLog
		err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) (err error) {
			out, err = l.Record(ctx, tx, e)
			return err
		})
		return out, err
	}

	if e.IPAddress == "" {
		e.IPAddress = IPFromContext(ctx)
	}
	changes, err := Canonical(e.Changes)
	if err != nil {
		return nil, err
	}

	// Serialize appends per user so two writers cannot fork the chain.
	if tx.Dialector.Name() != "sqlite" {
		var u models.User
		if err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
			Select("id").First(&u, e.UserID).Error; err != nil {
			return nil, err
		}
	}

	prev := GenesisHash
	var last models.AuditLog
	err = tx.Where("user_id = ?", e.UserID).Order("id desc").Limit(1).Take(&last).Error
	switch {
	case err == nil:
		prev = last.Hash
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	entry := models.AuditLog{
		CreatedAt:    l.now().UTC().Truncate(time.Microsecond),
		UserID:       e.UserID,
		EntityType:   e.EntityType,
		EntityID:     e.EntityID,
		Action:       e.Action,
		Changes:      datatypes.JSON(changes),
		IPAddress:    e.IPAddress,
		PreviousHash: prev,
	}
	entry.Hash = Hash(&entry, changes)
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// Hash computes the chain hash of entry with its canonical change set.
func Hash(entry *models.AuditLog, canonicalChanges []byte) string {
	h := sha256.New()
	for i, part := range []string{
		entry.PreviousHash,
		strconv.FormatUint(uint64(entry.UserID), 10),
		entry.EntityType,
		strconv.FormatUint(uint64(entry.EntityID), 10),
		entry.Action,
		string(canonicalChanges),
		entry.CreatedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
	} {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Canonical returns the canonical JSON of v. Raw JSON input is normalized,
// so entries read back from a jsonb column hash the same as when written.
func Canonical(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	var raw []byte
	switch t := v.(type) {
	case datatypes.JSON:
		raw = t
	case json.RawMessage:
		raw = t
	case []byte:
		raw = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	// encoding/json sorts map keys.
	return json.Marshal(generic)
}

// Report is the outcome of Verify.
type Report struct {
	Valid    bool   `json:"valid"`
	Checked  int    `json:"checked"`
	BrokenAt *uint  `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Verify walks the chain of userID oldest first and reports the first entry
// whose link or hash does not match.
func (l *Log) Verify(ctx context.Context, userID uint) (Report, error) {
	var entries []models.AuditLog
	if err := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("id asc").Find(&entries).Error; err != nil {
		return Report{}, err
	}
	prev := GenesisHash
	for i := range entries {
		e := &entries[i]
		if e.PreviousHash != prev {
			return broken(i, e.ID, "previous hash does not match"), nil
		}
		changes, err := Canonical(e.Changes)
		if err != nil {
			return broken(i, e.ID, "changes are not valid JSON"), nil
		}
		if Hash(e, changes) != e.Hash {
			return broken(i, e.ID, "hash does not match contents"), nil
		}
		prev = e.Hash
	}
	return Report{Valid: true, Checked: len(entries)}, nil
}

func broken(checked int, id uint, reason string) Report {
	return Report{Valid: false, Checked: checked, BrokenAt: &id, Reason: reason}
}

// List returns the newest entries of a user, optionally for one entity.
func (l *Log) List(ctx context.Context, userID uint, entityType string, entityID uint, limit int) ([]models.AuditLog, error) {
	q := l.db.WithContext(ctx).Where("user_id = ?", userID)
	if entityType != "" {
		q = q.Where("entity_type = ? AND entity_id = ?", entityType, entityID)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.AuditLog
	err := q.Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}
