package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"bookwise/backend/internal/store"
)

const overlapConstraint = "appointments_no_overlap"

// translateError maps driver errors onto store sentinels. Errors that are already sentinels or
// that do not come from the driver pass through unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", store.ErrTransient, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23P01" && pgErr.ConstraintName == overlapConstraint:
			return store.ErrSlotTaken
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "55P03":
			return fmt.Errorf("%w: sqlstate %s", store.ErrTransient, pgErr.Code)
		case strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: sqlstate %s", store.ErrTransient, pgErr.Code)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", store.ErrTransient, err)
	}
	return err
}
