package availability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"bookwise/backend/internal/domain"
	"bookwise/backend/internal/store"
)

const (
	// MaxQueryDays bounds OpenWindows so one request cannot expand an unbounded calendar.
	MaxQueryDays = 62
	maxRules     = 200
)

type ValidationError struct {
	msg string
	err error
}

func (e *ValidationError) Error() string {
	return e.msg
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

func wrapValidation(prefix string, err error) error {
	return &ValidationError{msg: prefix + ": " + err.Error(), err: err}
}

type Service struct {
	repo store.AvailabilityRepository
	log  *slog.Logger
}

func NewService(repo store.AvailabilityRepository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log.With(slog.String("component", "availability"))}
}

type RuleInput struct {
	DayOfWeek int
	Start     domain.TimeOfDay
	End       domain.TimeOfDay
	// Enabled defaults to true when nil.
	Enabled *bool
}

// SetRules replaces the provider's whole rule set. Existing appointments are not touched.
func (s *Service) SetRules(ctx context.Context, providerID string, in []RuleInput) ([]domain.AvailabilityRule, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, validationError("provider_id is required")
	}
	if len(in) > maxRules {
		return nil, validationError(fmt.Sprintf("at most %d rules are allowed", maxRules))
	}

	rules := make([]domain.AvailabilityRule, 0, len(in))
	for i, r := range in {
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		rule := domain.AvailabilityRule{
			ProviderID: providerID,
			DayOfWeek:  r.DayOfWeek,
			StartTime:  r.Start,
			EndTime:    r.End,
			IsEnabled:  enabled,
		}
		if err := rule.Validate(); err != nil {
			return nil, wrapValidation(fmt.Sprintf("rules[%d]", i), err)
		}
		rules = append(rules, rule)
	}

	out, err := s.repo.ReplaceRules(ctx, providerID, rules)
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "availability replaced", slog.String("provider_id", providerID), slog.Int("rules", len(out)))
	return out, nil
}

func (s *Service) ListRules(ctx context.Context, providerID string, dayOfWeek *int) ([]domain.AvailabilityRule, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, validationError("provider_id is required")
	}
	if dayOfWeek != nil && (*dayOfWeek < 0 || *dayOfWeek > 6) {
		return nil, wrapValidation("day_of_week", domain.ErrInvalidDayOfWeek)
	}
	return s.repo.ListRules(ctx, providerID, dayOfWeek)
}

// IsOpen reports whether the provider is nominally open for the whole of r on dayOfWeek.
func (s *Service) IsOpen(ctx context.Context, providerID string, dayOfWeek int, r domain.TimeRange) (bool, error) {
	if err := r.Validate(); err != nil {
		return false, wrapValidation("time range", err)
	}
	rules, err := s.ListRules(ctx, providerID, &dayOfWeek)
	if err != nil {
		return false, err
	}
	return domain.IsOpen(rules, domain.WeeklyWindow{DayOfWeek: dayOfWeek, Range: r}), nil
}

// OpenWindows expands the provider's enabled rules into merged windows for each date in
// [from, to].
func (s *Service) OpenWindows(ctx context.Context, providerID string, from, to domain.Date) ([]domain.DayWindows, error) {
	if err := ValidateDateRange(from, to); err != nil {
		return nil, err
	}
	rules, err := s.ListRules(ctx, providerID, nil)
	if err != nil {
		return nil, err
	}
	return domain.OpenWindows(rules, from, to), nil
}

func ValidateDateRange(from, to domain.Date) error {
	if from.IsZero() || to.IsZero() {
		return validationError("from and to are required")
	}
	if to.Before(from) {
		return validationError("to must not be before from")
	}
	if from.DaysUntil(to) >= MaxQueryDays {
		return validationError(fmt.Sprintf("date range must be at most %d days", MaxQueryDays))
	}
	return nil
}
