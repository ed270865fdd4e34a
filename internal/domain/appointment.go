package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ActiveStatuses are the statuses that block an overlapping booking.
func ActiveStatuses() []Status {
	return []Status{StatusPending, StatusConfirmed, StatusInProgress}
}

func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusInProgress
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Actor string

const (
	ActorRequester Actor = "requester"
	ActorProvider  Actor = "provider"
	ActorSystem    Actor = "system"
)

func ParseActor(s string) (Actor, error) {
	switch a := Actor(s); a {
	case "":
		return ActorSystem, nil
	case ActorRequester, ActorProvider, ActorSystem:
		return a, nil
	default:
		return "", fmt.Errorf("unknown actor %q", s)
	}
}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid"`
	ProviderID   string     `bun:"provider_id,notnull"`
	RequesterID  string     `bun:"requester_id,notnull"`
	Date         Date       `bun:"date,notnull,type:date"`
	StartTime    TimeOfDay  `bun:"start_minute,notnull"`
	EndTime      TimeOfDay  `bun:"end_minute,notnull"`
	Status       Status     `bun:"status,notnull"`
	Timezone     string     `bun:"timezone,notnull"`
	AmountCents  int64      `bun:"amount_cents,notnull"`
	Currency     string     `bun:"currency,notnull"`
	Notes        string     `bun:"notes"`
	CancelledBy  Actor      `bun:"cancelled_by,nullzero"`
	CancelReason string     `bun:"cancel_reason,nullzero"`
	CancelledAt  *time.Time `bun:"cancelled_at"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

func (a Appointment) Slot() Slot {
	return Slot{Date: a.Date, Range: TimeRange{Start: a.StartTime, End: a.EndTime}}
}

// StartsAt is the absolute start instant in the appointment's provider-local zone.
func (a Appointment) StartsAt() (time.Time, error) {
	loc := time.UTC
	if a.Timezone != "" {
		l, err := time.LoadLocation(a.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("appointment %s: invalid time zone %q", a.ID, a.Timezone)
		}
		loc = l
	}
	return a.Slot().StartsAt(loc), nil
}

// SameRequest reports whether two appointments describe the same reservation payload. It is
// used to tell an idempotent replay apart from a key reused for a different booking.
func (a Appointment) SameRequest(o Appointment) bool {
	return a.ProviderID == o.ProviderID &&
		a.RequesterID == o.RequesterID &&
		a.Date == o.Date &&
		a.StartTime == o.StartTime &&
		a.EndTime == o.EndTime
}

// FirstOverlap returns the first active appointment in existing that overlaps slot.
func FirstOverlap(existing []Appointment, slot Slot) (Appointment, bool) {
	for _, e := range existing {
		if !e.Status.IsActive() {
			continue
		}
		if e.Slot().Overlaps(slot) {
			return e, true
		}
	}
	return Appointment{}, false
}

type Event string

const (
	EventConfirm Event = "confirm"
	EventCancel  Event = "cancel"
	EventStart   Event = "start"
	EventFinish  Event = "finish"
)

var eventTargets = map[Event]Status{
	EventConfirm: StatusConfirmed,
	EventCancel:  StatusCancelled,
	EventStart:   StatusInProgress,
	EventFinish:  StatusCompleted,
}

var allowedTransitions = map[Status]map[Event]bool{
	StatusPending:    {EventConfirm: true, EventCancel: true},
	StatusConfirmed:  {EventCancel: true, EventStart: true},
	StatusInProgress: {EventFinish: true},
}

func ParseEvent(s string) (Event, error) {
	e := Event(s)
	if _, ok := eventTargets[e]; !ok {
		return "", fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, s)
	}
	return e, nil
}

// NextStatus applies event to current. When current already equals the event's target the
// transition is an idempotent no-op and changed is false.
func NextStatus(current Status, event Event) (next Status, changed bool, err error) {
	target, ok := eventTargets[event]
	if !ok {
		return current, false, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, event)
	}
	if current == target {
		return current, false, nil
	}
	if !allowedTransitions[current][event] {
		return current, false, fmt.Errorf("%w: cannot %s an appointment that is %s", ErrInvalidTransition, event, current)
	}
	return target, true, nil
}
