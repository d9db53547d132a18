package pg

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"intake.org/internal/allocation"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrSerialization       = "40001"
	pgErrDeadlock            = "40P01"
)

var ErrConflict = errors.New("pg: conflicting concurrent update")

// mapError turns Postgres error codes into domain errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrForeignKeyViolation:
		return fmt.Errorf("%w: %s", allocation.ErrNotFound, pgErr.ConstraintName)
	case pgErrSerialization, pgErrDeadlock:
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
	case pgErrUniqueViolation:
		return fmt.Errorf("%w: duplicate %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
