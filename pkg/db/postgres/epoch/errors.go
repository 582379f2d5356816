package epoch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConnection means the store could not be reached. Retrying is the caller's decision.
	ErrConnection = errors.New("postgres unavailable")
	// ErrSchema means partition DDL failed or a partition object is missing.
	ErrSchema = errors.New("partition schema error")
	// ErrDuplicateRecord means a block-data row already exists for a (transaction_id, slot) pair.
	ErrDuplicateRecord = errors.New("duplicate record")
	// ErrInvalidBatch means the batch was rejected before touching the store.
	ErrInvalidBatch = errors.New("invalid batch")
	// ErrBlockNotFound is returned by GetBlock when the partition has no row for the slot.
	ErrBlockNotFound = errors.New("block not found")
)

// DuplicateRecordError reports a primary-key collision in the commit stage.
type DuplicateRecordError struct {
	Schema     string
	Slot       uint64
	Table      string
	Constraint string
	Err        error
}

func (e *DuplicateRecordError) Error() string {
	return fmt.Sprintf("duplicate record in %s.%s for slot %d (constraint %s)", e.Schema, e.Table, e.Slot, e.Constraint)
}

func (e *DuplicateRecordError) Unwrap() []error { return []error{ErrDuplicateRecord, e.Err} }

const (
	pgUniqueViolation = "23505"
	pgInvalidSchema   = "3F000"
	pgUndefinedTable  = "42P01"
)

// ErrorKind names the taxonomy bucket of err for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrDuplicateRecord):
		return "duplicate"
	case errors.Is(err, ErrSchema):
		return "schema"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrInvalidBatch):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

// isConnectionError reports failures to reach or keep talking to the server.
func isConnectionError(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08: connection exception, 57P01-57P03: server shutting down or unavailable
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01" || pgErr.Code == "57P02" || pgErr.Code == "57P03"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

func isMissingObject(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUndefinedTable || pgErr.Code == pgInvalidSchema
	}
	return false
}

// classify wraps a store error with the taxonomy sentinel it belongs to.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case isConnectionError(err):
		return fmt.Errorf("%s: %w: %w", op, ErrConnection, err)
	case isMissingObject(err):
		return fmt.Errorf("%s: %w: %w", op, ErrSchema, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// classifyDDL is classify for partition DDL: anything that is not a connection problem is a schema error.
func classifyDDL(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConnectionError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classify(op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrSchema, err)
}

// asDuplicate converts a unique violation into a DuplicateRecordError, or returns nil.
func asDuplicate(schema string, slot uint64, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return nil
	}
	return &DuplicateRecordError{
		Schema:     schema,
		Slot:       slot,
		Table:      pgErr.TableName,
		Constraint: pgErr.ConstraintName,
		Err:        err,
	}
}
