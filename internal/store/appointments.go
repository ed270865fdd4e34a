package store

import (
	"context"

	"github.com/google/uuid"

	"bookwise/backend/internal/domain"
)

type AppointmentRepository interface {
	// InProviderTransaction runs fn as one atomic unit serialized per provider.
	InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx ProviderTx) error) error

	// UpdateAppointment locks the appointment, passes the current row to fn and persists the
	// returned row when fn reports a change.
	UpdateAppointment(ctx context.Context, id uuid.UUID, fn func(cur domain.Appointment) (domain.Appointment, bool, error)) (domain.Appointment, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	ListForProvider(ctx context.Context, providerID string, from, to domain.Date) ([]domain.Appointment, error)
	ListForRequester(ctx context.Context, requesterID string, from, to *domain.Date) ([]domain.Appointment, error)
}

// ProviderTx is the view of one provider's calendar inside InProviderTransaction.
type ProviderTx interface {
	ListRules(ctx context.Context, providerID string, dayOfWeek *int) ([]domain.AvailabilityRule, error)
	ReplaceRules(ctx context.Context, providerID string, rules []domain.AvailabilityRule) ([]domain.AvailabilityRule, error)

	ListActiveAppointments(ctx context.Context, providerID string, date domain.Date) ([]domain.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	// CreateAppointment inserts appt. A duplicate id with the same request returns the stored
	// row; a duplicate id with a different request fails with ErrIdempotencyConflict.
	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
}
