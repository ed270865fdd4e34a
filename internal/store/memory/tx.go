package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bookwise/backend/internal/domain"
	"bookwise/backend/internal/store"
)

// providerTx buffers writes until the surrounding InProviderTransaction returns without error.
type providerTx struct {
	s          *Store
	providerID string

	rules        []domain.AvailabilityRule
	rulesChanged bool
	created      map[uuid.UUID]domain.Appointment
}

func (t *providerTx) ListRules(ctx context.Context, providerID string, dayOfWeek *int) ([]domain.AvailabilityRule, error) {
	if t.rulesChanged && providerID == t.providerID {
		return filterRules(t.rules, dayOfWeek), nil
	}
	return t.s.ListRules(ctx, providerID, dayOfWeek)
}

func (t *providerTx) ReplaceRules(ctx context.Context, providerID string, rules []domain.AvailabilityRule) ([]domain.AvailabilityRule, error) {
	now := time.Now().UTC()
	rows := make([]domain.AvailabilityRule, len(rules))
	for i, r := range rules {
		if r.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return nil, err
			}
			r.ID = id
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.UpdatedAt = now
		r.ProviderID = providerID
		rows[i] = r
	}
	t.rules = rows
	t.rulesChanged = true

	out := make([]domain.AvailabilityRule, len(rows))
	copy(out, rows)
	return out, nil
}

func (t *providerTx) ListActiveAppointments(ctx context.Context, providerID string, date domain.Date) ([]domain.Appointment, error) {
	keep := func(a domain.Appointment) bool {
		return a.ProviderID == providerID && a.Date == date && a.Status.IsActive()
	}
	out := t.s.filter(keep)
	for _, a := range t.created {
		if keep(a) {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return out, nil
}

func (t *providerTx) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	if a, ok := t.created[id]; ok {
		return a, nil
	}
	return t.s.GetAppointment(ctx, id)
}

func (t *providerTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if appt.ID != uuid.Nil {
		existing, err := t.GetAppointment(ctx, appt.ID)
		if err == nil {
			if !existing.SameRequest(appt) {
				return domain.Appointment{}, store.ErrIdempotencyConflict
			}
			return existing, nil
		}
	}

	if appt.Status.IsActive() {
		active, err := t.ListActiveAppointments(ctx, appt.ProviderID, appt.Date)
		if err != nil {
			return domain.Appointment{}, err
		}
		if _, taken := domain.FirstOverlap(active, appt.Slot()); taken {
			return domain.Appointment{}, store.ErrSlotTaken
		}
	}

	if appt.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, err
		}
		appt.ID = id
	}
	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	if appt.UpdatedAt.IsZero() {
		appt.UpdatedAt = now
	}
	t.created[appt.ID] = appt
	return appt, nil
}

func (t *providerTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.rulesChanged {
		t.s.rules[t.providerID] = t.rules
	}
	for id, a := range t.created {
		t.s.appointments[id] = a
	}
}
