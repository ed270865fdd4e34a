package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AvailabilityRule struct {
	bun.BaseModel `bun:"table:availability_rules"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	ProviderID string    `bun:"provider_id,notnull"`
	DayOfWeek  int       `bun:"day_of_week,notnull"`
	StartTime  TimeOfDay `bun:"start_minute,notnull"`
	EndTime    TimeOfDay `bun:"end_minute,notnull"`
	IsEnabled  bool      `bun:"is_enabled,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func (r *AvailabilityRule) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if r.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			r.ID = id
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		r.UpdatedAt = now
	}
	return nil
}

func (r AvailabilityRule) Window() WeeklyWindow {
	return WeeklyWindow{DayOfWeek: r.DayOfWeek, Range: TimeRange{Start: r.StartTime, End: r.EndTime}}
}

func (r AvailabilityRule) Validate() error {
	if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
		return ErrInvalidDayOfWeek
	}
	return r.Window().Range.Validate()
}

// IsOpen reports whether any enabled rule contains candidate. Overlapping rules act as a union,
// so a candidate straddling two touching rules is also open.
func IsOpen(rules []AvailabilityRule, candidate WeeklyWindow) bool {
	var ranges []TimeRange
	for _, r := range rules {
		if !r.IsEnabled || r.DayOfWeek != candidate.DayOfWeek {
			continue
		}
		if Contains(r.Window(), candidate) {
			return true
		}
		ranges = append(ranges, r.Window().Range)
	}
	for _, merged := range MergeRanges(ranges) {
		if merged.Covers(candidate.Range) {
			return true
		}
	}
	return false
}

// DayWindows lists the open (or free) ranges of a single date.
type DayWindows struct {
	Date      Date
	DayOfWeek int
	Windows   []TimeRange
}

// OpenWindows expands weekly rules into merged per-date windows for [from, to] inclusive.
func OpenWindows(rules []AvailabilityRule, from, to Date) []DayWindows {
	byDay := make(map[int][]TimeRange, 7)
	for _, r := range rules {
		if !r.IsEnabled {
			continue
		}
		byDay[r.DayOfWeek] = append(byDay[r.DayOfWeek], r.Window().Range)
	}
	for d, ranges := range byDay {
		byDay[d] = MergeRanges(ranges)
	}

	out := make([]DayWindows, 0, from.DaysUntil(to)+1)
	for d := from; !d.After(to); d = d.AddDays(1) {
		out = append(out, DayWindows{
			Date:      d,
			DayOfWeek: d.Weekday(),
			Windows:   byDay[d.Weekday()],
		})
	}
	return out
}
