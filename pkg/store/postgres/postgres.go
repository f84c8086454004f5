// Package postgres is the production CallStore backed by pgx.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/callsim/pkg/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.CallStore = (*Store)(nil)

// New connects to databaseURL and applies pending migrations.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return err
	}
	_, err = p.Up(ctx)
	return err
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const callColumns = `id, caller_name, caller_phone, caller_address, call_type, call_status,
	location_type, location_details, latitude, longitude, priority_level,
	description, dispatcher_notes, recording_url, transcript_url,
	start_time, end_time, duration, created_at, updated_at`

func (s *Store) CreateCall(ctx context.Context, call *store.Call) error {
	if err := store.Prepare(call, s.now()); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO emergency_calls (`+callColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		call.ID, call.CallerName, call.CallerPhone, call.CallerAddress,
		string(call.CallType), string(call.CallStatus),
		call.LocationType, call.LocationDetails, call.Latitude, call.Longitude,
		call.PriorityLevel, call.Description, call.DispatcherNotes,
		call.RecordingURL, call.TranscriptURL,
		call.StartTime, call.EndTime, call.DurationSeconds,
		call.CreatedAt, call.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

func scanCall(row pgx.Row) (*store.Call, error) {
	var (
		c        store.Call
		callType string
		status   string
	)
	err := row.Scan(
		&c.ID, &c.CallerName, &c.CallerPhone, &c.CallerAddress, &callType, &status,
		&c.LocationType, &c.LocationDetails, &c.Latitude, &c.Longitude, &c.PriorityLevel,
		&c.Description, &c.DispatcherNotes, &c.RecordingURL, &c.TranscriptURL,
		&c.StartTime, &c.EndTime, &c.DurationSeconds, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CallType = store.CallType(callType)
	c.CallStatus = store.CallStatus(status)
	return &c, nil
}

func (s *Store) GetCall(ctx context.Context, id string) (*store.Call, error) {
	return scanCall(s.pool.QueryRow(ctx,
		`SELECT `+callColumns+` FROM emergency_calls WHERE id = $1`, strings.TrimSpace(id)))
}

func (s *Store) LatestCall(ctx context.Context) (*store.Call, error) {
	return scanCall(s.pool.QueryRow(ctx,
		`SELECT `+callColumns+` FROM emergency_calls ORDER BY created_at DESC, id DESC LIMIT 1`))
}

func (s *Store) ListCalls(ctx context.Context, filter store.ListFilter) ([]store.Call, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+callColumns+` FROM emergency_calls
		 WHERE ($1 = '' OR call_status = $1)
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		string(filter.Status), store.ListLimit(filter.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []store.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *c)
	}
	return calls, rows.Err()
}

func (s *Store) UpdateCallerDetails(ctx context.Context, id string, d store.CallerDetails) (*store.Call, error) {
	return scanCall(s.pool.QueryRow(ctx,
		`UPDATE emergency_calls
		 SET caller_name = COALESCE($1, caller_name),
		     caller_address = COALESCE($2, caller_address),
		     caller_phone = COALESCE($3, caller_phone),
		     description = COALESCE($4, description),
		     updated_at = $5
		 WHERE id = $6
		 RETURNING `+callColumns,
		d.CallerName, d.CallerAddress, d.CallerPhone, d.Description, s.now().UTC(), id))
}
