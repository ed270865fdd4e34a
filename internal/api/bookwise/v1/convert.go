package bookwisev1

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"bookwise/backend/internal/domain"
	"bookwise/backend/internal/service/availability"
	"bookwise/backend/internal/service/booking"
)

// FieldError reports a request field that could not be parsed.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func FromAppointment(a domain.Appointment) *Appointment {
	out := &Appointment{
		ID:           a.ID.String(),
		ProviderID:   a.ProviderID,
		RequesterID:  a.RequesterID,
		Date:         a.Date.String(),
		StartTime:    a.StartTime.String(),
		EndTime:      a.EndTime.String(),
		Status:       string(a.Status),
		Timezone:     a.Timezone,
		AmountCents:  a.AmountCents,
		Currency:     a.Currency,
		Notes:        a.Notes,
		CancelledBy:  string(a.CancelledBy),
		CancelReason: a.CancelReason,
		CreatedAt:    a.CreatedAt.UTC(),
		UpdatedAt:    a.UpdatedAt.UTC(),
	}
	if a.CancelledAt != nil {
		t := a.CancelledAt.UTC()
		out.CancelledAt = &t
	}
	return out
}

func FromAppointments(in []domain.Appointment) []*Appointment {
	out := make([]*Appointment, 0, len(in))
	for _, a := range in {
		out = append(out, FromAppointment(a))
	}
	return out
}

func FromRules(in []domain.AvailabilityRule) []AvailabilityRule {
	out := make([]AvailabilityRule, 0, len(in))
	for _, r := range in {
		enabled := r.IsEnabled
		out = append(out, AvailabilityRule{
			ID:        r.ID.String(),
			DayOfWeek: r.DayOfWeek,
			StartTime: r.StartTime.String(),
			EndTime:   r.EndTime.String(),
			Enabled:   &enabled,
		})
	}
	return out
}

func FromDays(in []domain.DayWindows) []DayAvailability {
	out := make([]DayAvailability, 0, len(in))
	for _, d := range in {
		windows := make([]Window, 0, len(d.Windows))
		for _, w := range d.Windows {
			windows = append(windows, Window{Start: w.Start.String(), End: w.End.String()})
		}
		out = append(out, DayAvailability{Date: d.Date.String(), DayOfWeek: d.DayOfWeek, Windows: windows})
	}
	return out
}

func RuleInputs(in []AvailabilityRule) ([]availability.RuleInput, error) {
	out := make([]availability.RuleInput, 0, len(in))
	for i, r := range in {
		start, err := domain.ParseTimeOfDay(r.StartTime)
		if err != nil {
			return nil, &FieldError{Field: fmt.Sprintf("rules[%d].start_time", i), Err: err}
		}
		end, err := domain.ParseTimeOfDay(r.EndTime)
		if err != nil {
			return nil, &FieldError{Field: fmt.Sprintf("rules[%d].end_time", i), Err: err}
		}
		out = append(out, availability.RuleInput{DayOfWeek: r.DayOfWeek, Start: start, End: end, Enabled: r.Enabled})
	}
	return out, nil
}

// ReserveInput parses the request. idempotencyKey, when non-empty, overrides the body field.
func (r *ReserveRequest) ReserveInput(idempotencyKey string) (booking.ReserveInput, error) {
	in := booking.ReserveInput{
		ProviderID:     r.ProviderID,
		RequesterID:    r.RequesterID,
		Notes:          r.Notes,
		IdempotencyKey: r.IdempotencyKey,
	}
	if idempotencyKey != "" {
		in.IdempotencyKey = idempotencyKey
	}

	if r.StartsAt != nil || r.EndsAt != nil {
		if r.StartsAt == nil || r.EndsAt == nil {
			return booking.ReserveInput{}, &FieldError{Field: "starts_at", Err: fmt.Errorf("starts_at and ends_at must be given together")}
		}
		in.StartsAt, in.EndsAt = *r.StartsAt, *r.EndsAt
		return in, nil
	}

	date, err := ParseDate("date", r.Date)
	if err != nil {
		return booking.ReserveInput{}, err
	}
	start, err := domain.ParseTimeOfDay(r.StartTime)
	if err != nil {
		return booking.ReserveInput{}, &FieldError{Field: "start_time", Err: err}
	}
	end, err := domain.ParseTimeOfDay(r.EndTime)
	if err != nil {
		return booking.ReserveInput{}, &FieldError{Field: "end_time", Err: err}
	}
	in.Date, in.Start, in.End = date, start, end
	return in, nil
}

func (r *TransitionRequest) TransitionInput() (booking.TransitionInput, error) {
	id, err := ParseAppointmentID(r.AppointmentID)
	if err != nil {
		return booking.TransitionInput{}, err
	}
	ev, err := domain.ParseEvent(strings.TrimSpace(r.Event))
	if err != nil {
		return booking.TransitionInput{}, err
	}
	actor, err := domain.ParseActor(strings.TrimSpace(r.Actor))
	if err != nil {
		return booking.TransitionInput{}, &FieldError{Field: "actor", Err: err}
	}
	return booking.TransitionInput{AppointmentID: id, Event: ev, Actor: actor, Reason: r.Reason}, nil
}

func ParseAppointmentID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, &FieldError{Field: "appointment_id", Err: fmt.Errorf("must be a UUID")}
	}
	return id, nil
}

// ParseDate reads a YYYY-MM-DD value. An empty value yields the zero Date.
func ParseDate(field, s string) (domain.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.Date{}, nil
	}
	d, err := domain.ParseDate(s)
	if err != nil {
		return domain.Date{}, &FieldError{Field: field, Err: err}
	}
	return d, nil
}

// ParseOptionalDate is ParseDate returning nil for an empty value.
func ParseOptionalDate(field, s string) (*domain.Date, error) {
	d, err := ParseDate(field, s)
	if err != nil || d.IsZero() {
		return nil, err
	}
	return &d, nil
}
