package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var dbTracer = otel.Tracer("harvestsync.db")

// DB is the traced handle every repository uses. The sqlx handle shares
// the pool and does struct scanning.
type DB struct {
	*sql.DB
	x *sqlx.DB
}

func New(connStr string) (*DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Actions and propagation workers share the pool; the listener holds
	// its own connection outside it.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, x: sqlx.NewDb(db, "postgres")}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// startSpan opens a client span for one statement. The statement text is
// sanitized before it is attached.
func startSpan(ctx context.Context, name, query string) (context.Context, trace.Span) {
	return dbTracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", extractSQLVerb(query)),
			attribute.String("db.statement", sanitizeQuery(query)),
		),
	)
}

// finishSpan ends span, marking it failed for any error except a missing
// row, which repositories turn into a nil result.
func finishSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx, span := startSpan(ctx, "db.Query", query)
	rows, err := db.DB.QueryContext(ctx, query, args...)
	finishSpan(span, err)
	return rows, err
}

// tracedRow keeps the span open until Scan, where sql.Row reports its
// errors.
type tracedRow struct {
	row  *sql.Row
	span trace.Span
}

func (r *tracedRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if r.span != nil {
		finishSpan(r.span, err)
		r.span = nil
	}
	return err
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *tracedRow {
	ctx, span := startSpan(ctx, "db.QueryRow", query)
	return &tracedRow{row: db.DB.QueryRowContext(ctx, query, args...), span: span}
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, span := startSpan(ctx, "db.Exec", query)
	result, err := db.DB.ExecContext(ctx, query, args...)
	finishSpan(span, err)
	return result, err
}

// GetContext scans a single row into dest. It returns sql.ErrNoRows when
// nothing matches.
func (db *DB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	ctx, span := startSpan(ctx, "db.Get", query)
	err := db.x.GetContext(ctx, dest, query, args...)
	finishSpan(span, err)
	return err
}

// SelectContext scans all rows into the slice pointed to by dest.
func (db *DB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	ctx, span := startSpan(ctx, "db.Select", query)
	err := db.x.SelectContext(ctx, dest, query, args...)
	finishSpan(span, err)
	return err
}

// Ping checks the pool with a bounded round trip, for health checks.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	ctx, span := startSpan(ctx, "db.Ping", "SELECT 1")
	err := db.DB.PingContext(ctx)
	finishSpan(span, err)
	return err
}

// isUniqueViolation reports a unique-constraint race on insert.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// sanitizeQuery replaces string and numeric literals with '?' and caps the
// length. $N placeholders are kept.
func sanitizeQuery(q string) string {
	var b strings.Builder
	b.Grow(len(q))

	i := 0
	for i < len(q) {
		ch := q[i]

		if ch == '\'' {
			b.WriteString("'?'")
			i++
			for i < len(q) {
				if q[i] == '\'' {
					if i+1 < len(q) && q[i+1] == '\'' {
						i += 2 // escaped quote ''
						continue
					}
					i++ // closing quote
					break
				}
				i++
			}
			continue
		}

		if unicode.IsDigit(rune(ch)) && (i == 0 || !isIdentChar(q[i-1])) {
			b.WriteByte('?')
			for i < len(q) && (unicode.IsDigit(rune(q[i])) || q[i] == '.') {
				i++
			}
			continue
		}

		b.WriteByte(ch)
		i++
	}

	s := b.String()
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}

// isIdentChar covers identifier bytes and $N placeholders, whose digits
// must survive sanitizing.
func isIdentChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '$'
}

func extractSQLVerb(q string) string {
	q = strings.TrimSpace(q)
	if idx := strings.IndexFunc(q, unicode.IsSpace); idx > 0 {
		return strings.ToUpper(q[:idx])
	}
	return strings.ToUpper(q)
}
