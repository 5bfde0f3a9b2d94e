// Package pgremote implements the remote store on top of a PostgreSQL table
// holding one row per (owner, slice, field).
package pgremote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/stacklok/statesync/internal/otel"
	"github.com/stacklok/statesync/pkg/remote"
	"github.com/stacklok/statesync/pkg/statetree"
)

// DefaultTable is the table used when none is configured
const DefaultTable = "statesync_settings"

// DB is the subset of *pgxpool.Pool used by the store
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Store is a remote.Store backed by PostgreSQL
type Store struct {
	db     DB
	table  string
	owner  string
	tracer trace.Tracer
}

var _ remote.Store = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithTable sets the table name
func WithTable(table string) Option {
	return func(s *Store) {
		s.table = table
	}
}

// WithTracer sets the OpenTelemetry tracer for database operations.
// If not set, tracing is disabled (no-op).
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) {
		s.tracer = tracer
	}
}

// New creates a store for the settings of owner
func New(db DB, owner string, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if owner == "" {
		return nil, fmt.Errorf("owner is required")
	}
	s := &Store{
		db:     db,
		table:  DefaultTable,
		owner:  owner,
		tracer: noop.NewTracerProvider().Tracer("pgremote"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.table == "" {
		return nil, fmt.Errorf("table name must not be empty")
	}
	return s, nil
}

// EnsureSchema creates the settings table when it does not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	owner      TEXT        NOT NULL,
	slice      TEXT        NOT NULL,
	field      TEXT        NOT NULL,
	value      JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (owner, slice, field)
)`, s.ident()))
	if err != nil {
		return fmt.Errorf("failed to create settings table: %w", err)
	}
	return nil
}

// Fetch implements remote.Store
func (s *Store) Fetch(ctx context.Context) (statetree.Envelope, error) {
	ctx, span := s.startSpan(ctx, "pgremote.Fetch")
	defer span.End()

	rows, err := s.db.Query(ctx,
		fmt.Sprintf(`SELECT slice, field, value FROM %s WHERE owner = $1`, s.ident()), s.owner)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to query settings: %w", err))
	}
	env, err := collectEnvelope(rows)
	if err != nil {
		return nil, s.fail(span, err)
	}
	span.SetAttributes(attribute.Int("statesync.slice_count", len(env)))
	return env, nil
}

// Update implements remote.Store. The diff is merged into the stored values
// inside a single transaction.
func (s *Store) Update(ctx context.Context, diff statetree.Envelope) (any, error) {
	ctx, span := s.startSpan(ctx, "pgremote.Update")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	keys := make([]string, 0, len(diff))
	for key := range diff {
		keys = append(keys, key)
	}
	rows, err := tx.Query(ctx, fmt.Sprintf(
		`SELECT slice, field, value FROM %s WHERE owner = $1 AND slice = ANY($2) FOR UPDATE`,
		s.ident()), s.owner, keys)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to lock settings: %w", err))
	}
	current, err := collectEnvelope(rows)
	if err != nil {
		return nil, s.fail(span, err)
	}

	merged := remote.Apply(current, diff)
	updated := 0
	upsert := fmt.Sprintf(`INSERT INTO %s (owner, slice, field, value, updated_at)
VALUES ($1, $2, $3, $4::jsonb, $5)
ON CONFLICT (owner, slice, field) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		s.ident())
	now := time.Now().UTC()
	for key, fields := range diff {
		for field := range fields {
			data, err := json.Marshal(merged[key][field].Value)
			if err != nil {
				return nil, s.fail(span, fmt.Errorf("failed to encode %s.%s: %w", key, field, err))
			}
			if _, err := tx.Exec(ctx, upsert, s.owner, key, field, string(data), now); err != nil {
				return nil, s.fail(span, fmt.Errorf("failed to write %s.%s: %w", key, field, err))
			}
			updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to commit settings update: %w", err))
	}

	span.SetAttributes(attribute.Int("statesync.updated_fields", updated))
	slog.Debug("Remote settings updated", "owner", s.owner, "fields", updated)
	return map[string]any{"updated": updated}, nil
}

func (s *Store) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

func (s *Store) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.StartSpan(ctx, s.tracer, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.sql.table", s.table),
			otel.AttrStoreType.String("postgres"),
		),
	)
}

func (*Store) fail(span trace.Span, err error) error {
	otel.RecordError(span, err)
	return err
}

func collectEnvelope(rows pgx.Rows) (statetree.Envelope, error) {
	defer rows.Close()

	env := statetree.Envelope{}
	for rows.Next() {
		var (
			slice, field string
			raw          []byte
		)
		if err := rows.Scan(&slice, &field, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan settings row: %w", err)
		}
		value, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s.%s: %w", slice, field, err)
		}
		if env[slice] == nil {
			env[slice] = map[string]statetree.Leaf{}
		}
		env[slice][field] = statetree.Leaf{Value: value}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read settings rows: %w", err)
	}
	return env, nil
}

func decodeValue(raw []byte) (any, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// PoolConfig holds connection pool sizing
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
}

// NewPool creates a connection pool for connString
func NewPool(ctx context.Context, connString string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	slog.Info("Database connection pool created successfully")
	return pool, nil
}
