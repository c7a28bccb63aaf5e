package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// SQLExecutor is the contract repositories and the job queue use for SQL.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// ErrUnmarkedSQL is returned for statements that do not open with a
// "--sql <uuid>" line.
var ErrUnmarkedSQL = errors.New("sql: statement has no --sql <uuid> marker")

var markerLine = regexp.MustCompile(`^--sql ([0-9a-f]{8}(?:-[0-9a-f]{4}){3}-[0-9a-f]{12})$`)

// SlowStatement is the duration after which a statement is logged at warn.
const SlowStatement = 500 * time.Millisecond

// SQLRunner executes inline queries from sqlinline. Every statement is logged
// under its marker, so log lines can be traced back to one constant.
type SQLRunner struct {
	db     SQLExecutor
	logger zerolog.Logger
}

// NewSQLRunner wraps db, usually a *pgxpool.Pool or a pgx.Tx.
func NewSQLRunner(db SQLExecutor, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{db: db, logger: logger}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	id, body, err := splitMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.db.Exec(ctx, body, args...)
	r.observe(id, "exec", start, err)
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	id, body, err := splitMarker(query)
	if err != nil {
		return failedRow{err: err}
	}
	start := time.Now()
	return &observedRow{row: r.db.QueryRow(ctx, body, args...), runner: r, id: id, start: start}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	id, body, err := splitMarker(query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := r.db.Query(ctx, body, args...)
	r.observe(id, "query", start, err)
	return rows, err
}

func (r *SQLRunner) observe(id, op string, start time.Time, err error) {
	took := time.Since(start)
	var ev *zerolog.Event
	switch {
	case err != nil && !IsNoRows(err):
		ev = r.logger.Error().Err(err)
	case took >= SlowStatement:
		ev = r.logger.Warn()
	default:
		ev = r.logger.Debug()
	}
	ev.Str("sql", id).Str("op", op).Dur("took", took).Msg("statement")
}

// observedRow defers logging to Scan, when pgx actually reports the outcome.
type observedRow struct {
	row    pgx.Row
	runner *SQLRunner
	id     string
	start  time.Time
}

func (o *observedRow) Scan(dest ...any) error {
	err := o.row.Scan(dest...)
	o.runner.observe(o.id, "query_row", o.start, err)
	return err
}

type failedRow struct{ err error }

func (f failedRow) Scan(...any) error { return f.err }

// IsNoRows reports whether err signals an empty result set.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// splitMarker returns the marker id and the statement without its marker line.
func splitMarker(query string) (string, string, error) {
	head, body, _ := strings.Cut(strings.TrimSpace(query), "\n")
	m := markerLine.FindStringSubmatch(strings.TrimSpace(head))
	if m == nil {
		return "", "", ErrUnmarkedSQL
	}
	return m[1], body, nil
}

var _ SQLExecutor = (*SQLRunner)(nil)
