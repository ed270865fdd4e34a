package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const MinutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time in minutes since local midnight. 24:00 (MinutesPerDay) is a
// valid end-of-day value.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || h < 0 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	return NewTimeOfDay(h, m), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// TimeRange is a half-open [Start, End) interval within a single day.
type TimeRange struct {
	Start TimeOfDay
	End   TimeOfDay
}

func (r TimeRange) Validate() error {
	if r.End <= r.Start {
		return ErrInvalidTimeRange
	}
	if r.Start < 0 || r.End > MinutesPerDay {
		return ErrCrossesDayBoundary
	}
	return nil
}

func (r TimeRange) Minutes() int {
	return int(r.End - r.Start)
}

func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start < o.End && o.Start < r.End
}

func (r TimeRange) Covers(o TimeRange) bool {
	return r.Start <= o.Start && o.End <= r.End
}

func (r TimeRange) String() string {
	return r.Start.String() + "-" + r.End.String()
}

// WeeklyWindow is a recurring range on a day of the week (0 = Sunday).
type WeeklyWindow struct {
	DayOfWeek int
	Range     TimeRange
}

func (w WeeklyWindow) Overlaps(o WeeklyWindow) bool {
	return w.DayOfWeek == o.DayOfWeek && w.Range.Overlaps(o.Range)
}

// Contains reports whether candidate lies entirely inside rule on the same weekday.
func Contains(rule, candidate WeeklyWindow) bool {
	return rule.DayOfWeek == candidate.DayOfWeek && rule.Range.Covers(candidate.Range)
}

// Slot is a concrete (date, start, end) interval in provider-local time.
type Slot struct {
	Date  Date
	Range TimeRange
}

func NewSlot(date Date, start, end TimeOfDay) (Slot, error) {
	if date.IsZero() {
		return Slot{}, fmt.Errorf("date is required")
	}
	s := Slot{Date: date, Range: TimeRange{Start: start, End: end}}
	if err := s.Range.Validate(); err != nil {
		return Slot{}, err
	}
	return s, nil
}

// SlotFromInstants converts absolute instants into a provider-local slot. A span that ends on a
// later local date than it starts (other than exactly at the following midnight) crosses the
// day boundary.
func SlotFromInstants(start, end time.Time, loc *time.Location) (Slot, error) {
	if loc == nil {
		loc = time.UTC
	}
	if !end.After(start) {
		return Slot{}, ErrInvalidTimeRange
	}
	ls := start.In(loc)
	le := end.In(loc)
	if ls.Second() != 0 || ls.Nanosecond() != 0 || le.Second() != 0 || le.Nanosecond() != 0 {
		return Slot{}, fmt.Errorf("slot times must be whole minutes")
	}

	date := DateOf(ls)
	startTOD := NewTimeOfDay(ls.Hour(), ls.Minute())
	endTOD := NewTimeOfDay(le.Hour(), le.Minute())

	endDate := DateOf(le)
	switch {
	case endDate == date:
	case endDate == date.AddDays(1) && endTOD == 0:
		endTOD = MinutesPerDay
	default:
		return Slot{}, ErrCrossesDayBoundary
	}
	return NewSlot(date, startTOD, endTOD)
}

func (s Slot) DayOfWeek() int {
	return s.Date.Weekday()
}

func (s Slot) Window() WeeklyWindow {
	return WeeklyWindow{DayOfWeek: s.DayOfWeek(), Range: s.Range}
}

func (s Slot) Minutes() int {
	return s.Range.Minutes()
}

func (s Slot) Overlaps(o Slot) bool {
	return s.Date == o.Date && s.Range.Overlaps(o.Range)
}

// StartsAt resolves the slot start to an absolute instant in loc.
func (s Slot) StartsAt(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(s.Date.Year, s.Date.Month, s.Date.Day, s.Range.Start.Hour(), s.Range.Start.Minute(), 0, 0, loc)
}

func (s Slot) String() string {
	return s.Date.String() + " " + s.Range.String()
}

// MergeRanges returns the union of ranges as sorted, non-overlapping, non-adjacent ranges.
func MergeRanges(ranges []TimeRange) []TimeRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]TimeRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	out := make([]TimeRange, 0, len(sorted))
	cur := sorted[0]
	for _, r := range sorted[1:] {
		if r.Start <= cur.End {
			if r.End > cur.End {
				cur.End = r.End
			}
			continue
		}
		out = append(out, cur)
		cur = r
	}
	return append(out, cur)
}

// SubtractRanges removes every busy range from open. Both inputs may be unsorted.
func SubtractRanges(open, busy []TimeRange) []TimeRange {
	free := MergeRanges(open)
	for _, b := range MergeRanges(busy) {
		next := make([]TimeRange, 0, len(free)+1)
		for _, f := range free {
			if !f.Overlaps(b) {
				next = append(next, f)
				continue
			}
			if f.Start < b.Start {
				next = append(next, TimeRange{Start: f.Start, End: b.Start})
			}
			if b.End < f.End {
				next = append(next, TimeRange{Start: b.End, End: f.End})
			}
		}
		free = next
	}
	return free
}
