// Package sqlite is a single-file CallStore for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/callsim/pkg/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements store.CallStore using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.CallStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return err
	}
	_, err = p.Up(ctx)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

const callColumns = `id, caller_name, caller_phone, caller_address, call_type, call_status,
	location_type, location_details, latitude, longitude, priority_level,
	description, dispatcher_notes, recording_url, transcript_url,
	start_time, end_time, duration, created_at, updated_at`

func (s *Store) CreateCall(ctx context.Context, call *store.Call) error {
	if err := store.Prepare(call, s.now()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emergency_calls (`+callColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*store.Call, error) {
	var (
		c        store.Call
		callType string
		status   string
		lat, lng sql.NullFloat64
		end      sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.CallerName, &c.CallerPhone, &c.CallerAddress, &callType, &status,
		&c.LocationType, &c.LocationDetails, &lat, &lng, &c.PriorityLevel,
		&c.Description, &c.DispatcherNotes, &c.RecordingURL, &c.TranscriptURL,
		&c.StartTime, &end, &c.DurationSeconds, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.CallType = store.CallType(callType)
	c.CallStatus = store.CallStatus(status)
	if lat.Valid {
		c.Latitude = &lat.Float64
	}
	if lng.Valid {
		c.Longitude = &lng.Float64
	}
	if end.Valid {
		t := end.Time.UTC()
		c.EndTime = &t
	}
	c.StartTime = c.StartTime.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func (s *Store) GetCall(ctx context.Context, id string) (*store.Call, error) {
	c, err := scanCall(s.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM emergency_calls WHERE id = ?`, strings.TrimSpace(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return c, err
}

func (s *Store) LatestCall(ctx context.Context) (*store.Call, error) {
	c, err := scanCall(s.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM emergency_calls ORDER BY created_at DESC, id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return c, err
}

func (s *Store) ListCalls(ctx context.Context, filter store.ListFilter) ([]store.Call, error) {
	query := `SELECT ` + callColumns + ` FROM emergency_calls`
	var args []any
	if filter.Status != "" {
		query += ` WHERE call_status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, store.ListLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE emergency_calls
		 SET caller_name = COALESCE(?, caller_name),
		     caller_address = COALESCE(?, caller_address),
		     caller_phone = COALESCE(?, caller_phone),
		     description = COALESCE(?, description),
		     updated_at = ?
		 WHERE id = ?`,
		d.CallerName, d.CallerAddress, d.CallerPhone, d.Description, s.now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update call: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetCall(ctx, id)
}
