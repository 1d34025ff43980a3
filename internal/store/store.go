package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
)

const (
	defaultTxAttempts       = 5
	defaultTxInitialBackoff = 10 * time.Millisecond
	defaultTxMaxBackoff     = 200 * time.Millisecond

	sqliteBusy                 = 5
	sqliteLocked               = 6
	sqliteConstraintUnique     = 2067
	sqliteConstraintPrimaryKey = 1555

	timeLayout = "2006-01-02T15:04:05.000000Z"
)

// Store is the relational persistence layer for contributors, drafts,
// records, media versions, follow-ups, sessions and settings.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time

	txAttempts int
	txBackoff  time.Duration
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for stored timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTxAttempts bounds how often WithTx retries a conflicting transaction.
func WithTxAttempts(attempts int) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.txAttempts = attempts
		}
	}
}

// WithTxBackoff sets the initial delay between transaction retries.
func WithTxBackoff(delay time.Duration) Option {
	return func(s *Store) {
		s.txBackoff = delay
	}
}

func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:         db,
		dialect:    dialect,
		now:        time.Now,
		txAttempts: defaultTxAttempts,
		txBackoff:  defaultTxInitialBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to databaseURL, applies pending migrations and returns a Store.
func Open(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	db, dialect, err := OpenDB(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, dialect, opts...), nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx is a promotion-scoped transaction handle.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
	now     time.Time
}

// WithTx runs fn inside a transaction. Unique violations and busy/lock
// errors are retried with backoff; when the attempts run out, or on any other
// storage failure, the transaction is rolled back and the error carries
// failure.ErrStorageUnavailable. Errors fn returns that already carry a
// failure kind (validation, not found, ...) pass through untouched.
func (s *Store) WithTx(ctx context.Context, op string, fn func(*Tx) error) error {
	delay := s.txBackoff
	var lastErr error
	for attempt := 1; attempt <= s.txAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if kind := failure.KindOf(err); kind != nil && kind != failure.ErrAllocationConflict {
			return err
		}
		if !isRetryable(err) {
			return failure.Wrap(failure.ErrStorageUnavailable, op, err)
		}
		lastErr = err
		if attempt == s.txAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return failure.Wrap(failure.ErrStorageUnavailable, op, ctx.Err())
		}
		if next := delay * 2; next <= defaultTxMaxBackoff {
			delay = next
		}
	}
	return failure.Wrap(failure.ErrStorageUnavailable, op,
		fmt.Errorf("gave up after %d attempts: %w", s.txAttempts, failure.Wrap(failure.ErrAllocationConflict, op, lastErr)))
}

func (s *Store) runTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &Tx{tx: sqlTx, dialect: s.dialect, now: s.now().UTC()}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		_ = sqlTx.Rollback()
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Now returns the transaction's timestamp.
func (t *Tx) Now() time.Time {
	return t.now
}

func (t *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, rebind(t.dialect, query), args...)
}

func (t *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, rebind(t.dialect, query), args...)
}

func (t *Tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, rebind(t.dialect, query), args...)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, rebind(s.dialect, query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, rebind(s.dialect, query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, rebind(s.dialect, query), args...)
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// rebind rewrites ? placeholders to $n for PostgreSQL. Queries in this
// package never contain a literal question mark.
func rebind(dialect Dialect, query string) string {
	if dialect != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func greatest(dialect Dialect) string {
	if dialect == Postgres {
		return "GREATEST"
	}
	return "MAX"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return parsed, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	parsed, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		code := coder.Code()
		if code == sqliteConstraintUnique || code == sqliteConstraintPrimaryKey {
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		primary := coder.Code() & 0xff
		if primary == sqliteBusy || primary == sqliteLocked {
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isRetryable(err error) bool {
	return errors.Is(err, failure.ErrAllocationConflict) || isUniqueViolation(err) || isBusy(err)
}

// fail classifies a storage error for callers outside a transaction.
func fail(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return failure.Wrap(failure.ErrNotFound, op, err)
	case failure.KindOf(err) != nil:
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return failure.Wrap(failure.ErrStorageUnavailable, op, err)
	}
}

// txFail classifies an error raised inside WithTx. Unique violations become
// allocation conflicts and other driver errors stay unclassified so WithTx
// can decide between retrying and giving up.
func txFail(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return failure.Wrap(failure.ErrNotFound, op, err)
	case failure.KindOf(err) != nil:
		return err
	case isUniqueViolation(err):
		return failure.Wrap(failure.ErrAllocationConflict, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
