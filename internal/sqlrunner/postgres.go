package sqlrunner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrEmptyQuery is returned when Run is called with blank SQL.
var ErrEmptyQuery = errors.New("empty query")

// Options tune a PostgresRunner.
type Options struct {
	MaxRows      int
	QueryTimeout time.Duration
}

// PostgresRunner runs SQL on a pgx connection pool.
type PostgresRunner struct {
	db     *pgxpool.Pool
	opts   Options
	logger *zap.Logger
}

// NewPostgres creates a PostgresRunner connected to dsn.
func NewPostgres(ctx context.Context, dsn string, opts Options, logger *zap.Logger) (*PostgresRunner, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = 1000
	}
	logger.Info("PostgreSQL connected", zap.Int("max_rows", opts.MaxRows))
	return &PostgresRunner{db: pool, opts: opts, logger: logger}, nil
}

// Run executes sql and returns at most MaxRows rows.
func (r *PostgresRunner) Run(ctx context.Context, sql string) (*Result, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return nil, ErrEmptyQuery
	}
	if r.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := r.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	res := &Result{Columns: make([]string, len(fields)), Rows: [][]any{}}
	for i, f := range fields {
		res.Columns[i] = f.Name
	}

	for rows.Next() {
		if len(res.Rows) >= r.opts.MaxRows {
			res.Truncated = true
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make([]any, len(vals))
		for i, v := range vals {
			row[i] = jsonValue(v)
		}
		res.Rows = append(res.Rows, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}

	tag := rows.CommandTag()
	if cmd := strings.Fields(tag.String()); len(cmd) > 0 {
		res.Command = cmd[0]
	}
	if len(fields) == 0 {
		res.RowsAffected = tag.RowsAffected()
	}
	res.RowCount = len(res.Rows)

	r.logger.Debug("query complete",
		zap.String("command", res.Command),
		zap.Int("rows", res.RowCount),
		zap.Bool("truncated", res.Truncated),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// Ping verifies the database connection.
func (r *PostgresRunner) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close shuts down the connection pool.
func (r *PostgresRunner) Close() {
	r.db.Close()
}

// jsonValue converts pgx decoded values that do not encode well as JSON.
func jsonValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		return string(val)
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return floatValue(f.Float64)
	case float64:
		return floatValue(val)
	case float32:
		return floatValue(float64(val))
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	}
	return v
}

// floatValue spells non-finite floats the way PostgreSQL prints them, since
// JSON has no encoding for them.
func floatValue(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}
