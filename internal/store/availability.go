package store

import (
	"context"

	"bookwise/backend/internal/domain"
)

type AvailabilityRepository interface {
	ReplaceRules(ctx context.Context, providerID string, rules []domain.AvailabilityRule) ([]domain.AvailabilityRule, error)
	ListRules(ctx context.Context, providerID string, dayOfWeek *int) ([]domain.AvailabilityRule, error)
}
