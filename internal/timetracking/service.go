// Package timetracking records worked time per project. Entries that have
// been invoiced are frozen.
package timetracking

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/dkortekaas/declair/internal/audit"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/validation"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const EntityTimeEntry = "time_entry"

var (
	ErrNotFound          = errors.New("time entry not found")
	ErrProjectNotFound   = errors.New("project not found")
	ErrTimeEntryInvoiced = errors.New("time entry is invoiced")
)

var sixty = decimal.NewFromInt(60)

// Input is the body of create and update. Times are RFC 3339. Without an
// end time DurationMinutes must be given.
type Input struct {
	ProjectID       uint             `json:"project_id"`
	Description     string           `json:"description"`
	StartTime       string           `json:"start_time"`
	EndTime         string           `json:"end_time"`
	DurationMinutes int              `json:"duration_minutes"`
	HourlyRate      *decimal.Decimal `json:"hourly_rate"`
	Billable        *bool            `json:"billable"`
}

func (in Input) Validate() validation.Violations {
	v := validation.Violations{}
	if in.ProjectID == 0 {
		v.Add("project_id", "required")
	}
	start, err := time.Parse(time.RFC3339, in.StartTime)
	if err != nil {
		v.Add("start_time", "invalid_date")
	}
	switch {
	case in.EndTime != "":
		end, err := time.Parse(time.RFC3339, in.EndTime)
		if err != nil {
			v.Add("end_time", "invalid_date")
		} else if !end.After(start) {
			v.Add("end_time", "out_of_range")
		}
	case in.DurationMinutes <= 0:
		v.Add("duration_minutes", "must_be_positive")
	}
	if in.DurationMinutes < 0 || in.DurationMinutes > 24*60 {
		v.Add("duration_minutes", "out_of_range")
	}
	if in.HourlyRate != nil {
		validation.NonNegativeDecimal("hourly_rate", *in.HourlyRate, v)
	}
	return v
}

// Duration is the whole minutes between start and end, rounded to the
// nearest minute.
func Duration(start, end time.Time) int {
	return int(math.Round(end.Sub(start).Minutes()))
}

// Amount is hours × rate rounded to cents.
func Amount(minutes int, rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(minutes)).Mul(rate).Div(sixty).Round(2)
}

type Service struct {
	db    *gorm.DB
	audit *audit.Log
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, audit: audit.New(db)}
}

func (s *Service) apply(ctx context.Context, e *models.TimeEntry, in Input) error {
	var p models.Project
	err := s.db.WithContext(ctx).Where("user_id = ?", e.UserID).First(&p, in.ProjectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrProjectNotFound
	}
	if err != nil {
		return err
	}
	e.ProjectID = p.ID
	e.Description = in.Description
	e.StartTime, _ = time.Parse(time.RFC3339, in.StartTime)
	e.StartTime = e.StartTime.UTC()
	e.EndTime = nil
	e.DurationMinutes = in.DurationMinutes
	if end, err := time.Parse(time.RFC3339, in.EndTime); err == nil {
		end = end.UTC()
		e.EndTime = &end
		e.DurationMinutes = Duration(e.StartTime, end)
	}
	e.HourlyRate = p.HourlyRate
	if in.HourlyRate != nil {
		e.HourlyRate = *in.HourlyRate
	}
	e.Billable = true
	if in.Billable != nil {
		e.Billable = *in.Billable
	}
	e.Amount = Amount(e.DurationMinutes, e.HourlyRate)
	return nil
}

func (s *Service) Create(ctx context.Context, userID uint, in Input) (*models.TimeEntry, error) {
	if v := in.Validate(); !v.Empty() {
		return nil, v
	}
	e := &models.TimeEntry{UserID: userID}
	if err := s.apply(ctx, e, in); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Billable is written explicitly; its column default is true.
		if err := tx.Create(e).Error; err != nil {
			return err
		}
		if !e.Billable {
			if err := tx.Model(e).Update("billable", false).Error; err != nil {
				return err
			}
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityTimeEntry, EntityID: e.ID, Action: audit.ActionCreate,
			Changes: map[string]any{"minutes": e.DurationMinutes, "amount": e.Amount},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, userID, id uint) (*models.TimeEntry, error) {
	var e models.TimeEntry
	err := s.db.WithContext(ctx).Preload("Project").Where("user_id = ?", userID).First(&e, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Update rewrites an entry that has not been invoiced.
func (s *Service) Update(ctx context.Context, userID, id uint, in Input) (*models.TimeEntry, error) {
	if v := in.Validate(); !v.Empty() {
		return nil, v
	}
	e, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if e.Invoiced {
		return nil, ErrTimeEntryInvoiced
	}
	if err := s.apply(ctx, e, in); err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.TimeEntry{}).Where("id = ? AND invoiced = ?", e.ID, false).
			Select("project_id", "description", "start_time", "end_time", "duration_minutes", "hourly_rate", "amount", "billable").
			Updates(e)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTimeEntryInvoiced
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityTimeEntry, EntityID: e.ID, Action: audit.ActionUpdate,
			Changes: map[string]any{"minutes": e.DurationMinutes, "amount": e.Amount},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Delete removes an entry that has not been invoiced.
func (s *Service) Delete(ctx context.Context, userID, id uint) error {
	e, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if e.Invoiced {
		return ErrTimeEntryInvoiced
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND invoiced = ?", e.ID, false).Delete(&models.TimeEntry{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTimeEntryInvoiced
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityTimeEntry, EntityID: e.ID, Action: audit.ActionDelete,
		})
		return err
	})
}

// Filter narrows List. Unbilled selects billable entries not yet invoiced.
type Filter struct {
	ProjectID uint
	From, To  time.Time
	Unbilled  bool
}

func (s *Service) List(ctx context.Context, userID uint, f Filter) ([]models.TimeEntry, error) {
	q := s.db.WithContext(ctx).Preload("Project").Where("user_id = ?", userID)
	if f.ProjectID != 0 {
		q = q.Where("project_id = ?", f.ProjectID)
	}
	if !f.From.IsZero() {
		q = q.Where("start_time >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("start_time < ?", f.To)
	}
	if f.Unbilled {
		q = q.Where("billable = ? AND invoiced = ?", true, false)
	}
	var out []models.TimeEntry
	err := q.Order("start_time desc, id desc").Find(&out).Error
	return out, err
}
