package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"bookwise/backend/internal/domain"
	"bookwise/backend/internal/store"
	"bookwise/backend/migrations"
)

func TestPostgresIntegration_ReserveOverlapAndIdempotency(t *testing.T) {
	databaseURL := strings.TrimSpace(os.Getenv("BOOKWISE_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("BOOKWISE_TEST_DATABASE_URL not set")
	}

	db, err := Open(databaseURL, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "bookwise_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewRaw("SET LOCAL search_path TO " + schema + ", public").Exec(ctx); err != nil {
			return err
		}
		if err := applyMigrations(ctx, tx); err != nil {
			return err
		}

		p := providerTx{tx: tx}
		providerID := "prov-1"
		date := domain.NewDate(2026, 1, 5)

		rules, err := p.ReplaceRules(ctx, providerID, []domain.AvailabilityRule{
			{DayOfWeek: 1, StartTime: domain.NewTimeOfDay(9, 0), EndTime: domain.NewTimeOfDay(17, 0), IsEnabled: true},
		})
		if err != nil {
			return err
		}
		if len(rules) != 1 || rules[0].ID == uuid.Nil {
			return fmt.Errorf("rules = %+v, want one rule with an id", rules)
		}

		base := domain.Appointment{
			ProviderID:  providerID,
			RequesterID: "req-1",
			Date:        date,
			StartTime:   domain.NewTimeOfDay(10, 0),
			EndTime:     domain.NewTimeOfDay(11, 0),
			Status:      domain.StatusPending,
			Timezone:    "UTC",
			Currency:    "USD",
		}

		a1 := base
		a1.ID = uuid.MustParse("00000000-0000-0000-0000-000000000901")
		if _, err := p.CreateAppointment(ctx, a1); err != nil {
			return err
		}

		active, err := p.ListActiveAppointments(ctx, providerID, date)
		if err != nil {
			return err
		}
		if len(active) != 1 || active[0].ID != a1.ID {
			return fmt.Errorf("active = %+v, want only %s", active, a1.ID)
		}

		adjacent := base
		adjacent.ID = uuid.MustParse("00000000-0000-0000-0000-000000000903")
		adjacent.StartTime = domain.NewTimeOfDay(11, 0)
		adjacent.EndTime = domain.NewTimeOfDay(12, 0)
		if _, err := p.CreateAppointment(ctx, adjacent); err != nil {
			return fmt.Errorf("back-to-back insert: %w", err)
		}

		replay, err := p.CreateAppointment(ctx, a1)
		if err != nil {
			return err
		}
		if replay.ID != a1.ID {
			return fmt.Errorf("replay id = %s, want %s", replay.ID, a1.ID)
		}

		different := a1
		different.RequesterID = "req-2"
		if _, err := p.CreateAppointment(ctx, different); !errors.Is(err, store.ErrIdempotencyConflict) {
			return fmt.Errorf("idempotency err = %v, want %v", err, store.ErrIdempotencyConflict)
		}

		farFuture := base
		farFuture.ID = uuid.MustParse("00000000-0000-0000-0000-000000000904")
		farFuture.Date = domain.NewDate(9999, 12, 31)
		if _, err := p.CreateAppointment(ctx, farFuture); err != nil {
			return fmt.Errorf("far-future insert: %w", err)
		}

		// Last: the exclusion violation aborts the transaction.
		overlapping := base
		overlapping.ID = uuid.MustParse("00000000-0000-0000-0000-000000000902")
		overlapping.StartTime = domain.NewTimeOfDay(10, 30)
		overlapping.EndTime = domain.NewTimeOfDay(11, 30)
		if _, err := p.CreateAppointment(ctx, overlapping); !errors.Is(err, store.ErrSlotTaken) {
			return fmt.Errorf("overlap err = %v, want %v", err, store.ErrSlotTaken)
		}
		return errRollback
	})
	if !errors.Is(err, errRollback) {
		t.Fatalf("tx error: %v", err)
	}
}

var errRollback = errors.New("rollback")

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

// applyMigrations runs the embedded up migrations inside the caller's transaction so that they
// land in the per-test schema.
func applyMigrations(ctx context.Context, exec rawExecutor) error {
	names, err := fs.Glob(migrations.FS, "*.up.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return err
		}
		for _, stmt := range splitSQLStatements(string(b)) {
			if normalized, ok := normalizeExtensionStatement(stmt); ok {
				stmt = normalized
			}
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

func normalizeExtensionStatement(stmt string) (string, bool) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CREATE EXTENSION") {
		return "", false
	}
	if !strings.Contains(upper, "BTREE_GIST") {
		return "", false
	}
	if strings.Contains(upper, " SCHEMA ") {
		return "", false
	}
	return s + " SCHEMA public", true
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
