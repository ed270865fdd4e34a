package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"bookwise/backend/internal/domain"
	"bookwise/backend/internal/store"
)

type AppointmentRepo struct {
	db *bun.DB
}

func NewAppointmentRepo(db *bun.DB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

type providerTx struct {
	tx bun.Tx
}

func (r *AppointmentRepo) InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx store.ProviderTx) error) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProvider(ctx, tx, providerID); err != nil {
			return err
		}
		return fn(ctx, providerTx{tx: tx})
	})
	return translateError(err)
}

func lockProvider(ctx context.Context, tx bun.Tx, providerID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", providerID).Exec(ctx)
	return err
}

func (r *AppointmentRepo) UpdateAppointment(ctx context.Context, id uuid.UUID, fn func(cur domain.Appointment) (domain.Appointment, bool, error)) (domain.Appointment, error) {
	var out domain.Appointment
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var cur domain.Appointment
		err := tx.NewSelect().
			Model(&cur).
			Where("id = ?", id).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return err
		}

		next, changed, err := fn(cur)
		if err != nil {
			return err
		}
		if !changed {
			out = cur
			return nil
		}

		next.ID = cur.ID
		if _, err := tx.NewUpdate().Model(&next).WherePK().Exec(ctx); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return domain.Appointment{}, translateError(err)
	}
	return out, nil
}

func (r *AppointmentRepo) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var a domain.Appointment
	err := r.db.NewSelect().
		Model(&a).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, translateError(err)
	}
	return a, nil
}

func (r *AppointmentRepo) ListForProvider(ctx context.Context, providerID string, from, to domain.Date) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("date >= ?", from).
		Where("date <= ?", to).
		OrderExpr("date ASC, start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	return rows, nil
}

func (r *AppointmentRepo) ListForRequester(ctx context.Context, requesterID string, from, to *domain.Date) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	q := r.db.NewSelect().
		Model(&rows).
		Where("requester_id = ?", requesterID)
	if from != nil {
		q = q.Where("date >= ?", *from)
	}
	if to != nil {
		q = q.Where("date <= ?", *to)
	}
	err := q.OrderExpr("date ASC, start_minute ASC").Scan(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	return rows, nil
}

func (r providerTx) ListRules(ctx context.Context, providerID string, dayOfWeek *int) ([]domain.AvailabilityRule, error) {
	return listRules(ctx, r.tx, providerID, dayOfWeek)
}

func (r providerTx) ReplaceRules(ctx context.Context, providerID string, rules []domain.AvailabilityRule) ([]domain.AvailabilityRule, error) {
	_, err := r.tx.NewDelete().
		Model((*domain.AvailabilityRule)(nil)).
		Where("provider_id = ?", providerID).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return []domain.AvailabilityRule{}, nil
	}

	rows := make([]domain.AvailabilityRule, len(rules))
	for i, rule := range rules {
		rule.ProviderID = providerID
		rows[i] = rule
	}
	if _, err := r.tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r providerTx) ListActiveAppointments(ctx context.Context, providerID string, date domain.Date) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.tx.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("date = ?", date).
		Where("status IN (?)", bun.In(domain.ActiveStatuses())).
		OrderExpr("start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r providerTx) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var a domain.Appointment
	err := r.tx.NewSelect().
		Model(&a).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return a, nil
}

func (r providerTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt

	res, err := r.tx.NewInsert().
		Model(&m).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, translateError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected > 0 {
		return m, nil
	}

	existing, err := r.GetAppointment(ctx, m.ID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !existing.SameRequest(appt) {
		return domain.Appointment{}, store.ErrIdempotencyConflict
	}
	return existing, nil
}

func listRules(ctx context.Context, db bun.IDB, providerID string, dayOfWeek *int) ([]domain.AvailabilityRule, error) {
	rows := []domain.AvailabilityRule{}
	q := db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID)
	if dayOfWeek != nil {
		q = q.Where("day_of_week = ?", *dayOfWeek)
	}
	err := q.OrderExpr("day_of_week ASC, start_minute ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
