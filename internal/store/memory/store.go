package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookwise/backend/internal/domain"
	"bookwise/backend/internal/store"
)

// Store keeps rules and appointments in process memory. Reservations for one provider are
// serialized by a per-provider mutex; transitions by a per-appointment mutex.
type Store struct {
	providerLocks    keyedMutex
	appointmentLocks keyedMutex

	mu           sync.RWMutex
	rules        map[string][]domain.AvailabilityRule
	appointments map[uuid.UUID]domain.Appointment
}

func New() *Store {
	return &Store{
		rules:        make(map[string][]domain.AvailabilityRule),
		appointments: make(map[uuid.UUID]domain.Appointment),
	}
}

func (s *Store) InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx store.ProviderTx) error) error {
	unlock, err := s.providerLocks.lock(ctx, providerID)
	if err != nil {
		return err
	}
	defer unlock()

	tx := &providerTx{s: s, providerID: providerID, created: make(map[uuid.UUID]domain.Appointment)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) UpdateAppointment(ctx context.Context, id uuid.UUID, fn func(cur domain.Appointment) (domain.Appointment, bool, error)) (domain.Appointment, error) {
	unlock, err := s.appointmentLocks.lock(ctx, id.String())
	if err != nil {
		return domain.Appointment{}, err
	}
	defer unlock()

	s.mu.RLock()
	cur, ok := s.appointments[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}

	next, changed, err := fn(cur)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !changed {
		return cur, nil
	}

	next.ID = cur.ID
	if next.UpdatedAt.IsZero() || next.UpdatedAt.Equal(cur.UpdatedAt) {
		next.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.appointments[id] = next
	s.mu.Unlock()
	return next, nil
}

func (s *Store) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListForProvider(ctx context.Context, providerID string, from, to domain.Date) ([]domain.Appointment, error) {
	return s.filter(func(a domain.Appointment) bool {
		return a.ProviderID == providerID && !a.Date.Before(from) && !a.Date.After(to)
	}), nil
}

func (s *Store) ListForRequester(ctx context.Context, requesterID string, from, to *domain.Date) ([]domain.Appointment, error) {
	return s.filter(func(a domain.Appointment) bool {
		if a.RequesterID != requesterID {
			return false
		}
		if from != nil && a.Date.Before(*from) {
			return false
		}
		if to != nil && a.Date.After(*to) {
			return false
		}
		return true
	}), nil
}

func (s *Store) ReplaceRules(ctx context.Context, providerID string, rules []domain.AvailabilityRule) ([]domain.AvailabilityRule, error) {
	var out []domain.AvailabilityRule
	err := s.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.ProviderTx) error {
		rows, err := tx.ReplaceRules(ctx, providerID, rules)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListRules(ctx context.Context, providerID string, dayOfWeek *int) ([]domain.AvailabilityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterRules(s.rules[providerID], dayOfWeek), nil
}

// Check is a readiness probe; the memory store is always ready.
func (s *Store) Check(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) filter(keep func(domain.Appointment) bool) []domain.Appointment {
	s.mu.RLock()
	out := []domain.Appointment{}
	for _, a := range s.appointments {
		if keep(a) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sortAppointments(out)
	return out
}

func sortAppointments(rows []domain.Appointment) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date.Before(rows[j].Date)
		}
		if rows[i].StartTime != rows[j].StartTime {
			return rows[i].StartTime < rows[j].StartTime
		}
		return rows[i].ID.String() < rows[j].ID.String()
	})
}

func filterRules(rules []domain.AvailabilityRule, dayOfWeek *int) []domain.AvailabilityRule {
	out := []domain.AvailabilityRule{}
	for _, r := range rules {
		if dayOfWeek != nil && r.DayOfWeek != *dayOfWeek {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}
