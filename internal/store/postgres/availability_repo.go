package postgres

import (
	"context"

	"github.com/uptrace/bun"

	"bookwise/backend/internal/domain"
	"bookwise/backend/internal/store"
)

type AvailabilityRepo struct {
	db           *bun.DB
	appointments *AppointmentRepo
}

func NewAvailabilityRepo(db *bun.DB) *AvailabilityRepo {
	return &AvailabilityRepo{db: db, appointments: NewAppointmentRepo(db)}
}

// ReplaceRules swaps the provider's whole rule set under the same lock reservations take.
func (r *AvailabilityRepo) ReplaceRules(ctx context.Context, providerID string, rules []domain.AvailabilityRule) ([]domain.AvailabilityRule, error) {
	var out []domain.AvailabilityRule
	err := r.appointments.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.ProviderTx) error {
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

func (r *AvailabilityRepo) ListRules(ctx context.Context, providerID string, dayOfWeek *int) ([]domain.AvailabilityRule, error) {
	rows, err := listRules(ctx, r.db, providerID, dayOfWeek)
	if err != nil {
		return nil, translateError(err)
	}
	return rows, nil
}
