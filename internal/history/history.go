// Package history keeps a log of every lookup made from the CLI so past results can be
// listed without hitting the portal again.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"payticket-backend/internal/components/chrono"
	"payticket-backend/internal/ticket"
	"payticket-backend/pkg/sqliteutil"
	"time"

	"github.com/google/uuid"
)

//go:embed schema.sql
var Schema string

var ErrNoEntry = errors.New("no history entry")

type Entry struct {
	Id      string
	Request ticket.LookupRequest
	// Outcome is how the lookup ended, see bulk.Kind for the values written by this repo.
	Outcome string
	Payload json.RawMessage
	Error   string
	Elapsed time.Duration
	At      time.Time
}

type Store struct {
	db   *sql.DB
	time chrono.API
}

// Open opens the database described by config and applies the schema.
func Open(ctx context.Context, config sqliteutil.Config, time chrono.API) (Store, error) {
	db, err := config.OpenDB()
	if err != nil {
		return Store{}, err
	}
	err = sqliteutil.Migrate(ctx, db, Schema)
	if err != nil {
		db.Close()
		return Store{}, err
	}
	return NewStore(db, time), nil
}

func NewStore(db *sql.DB, time chrono.API) Store {
	return Store{db: db, time: time}
}

func (s Store) Close() error {
	return s.db.Close()
}

// Record stores entry, Id and At are filled in when empty.
func (s Store) Record(ctx context.Context, entry Entry) (Entry, error) {
	if entry.Id == "" {
		entry.Id = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = s.time.Now()
	}

	var payload sql.NullString
	if len(entry.Payload) > 0 {
		payload = sql.NullString{String: string(entry.Payload), Valid: true}
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO lookup (id, ticket_num, plate_num, outcome, payload, error, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Id,
		entry.Request.TicketNumber,
		entry.Request.PlateNumber,
		entry.Outcome,
		payload,
		entry.Error,
		entry.Elapsed.Milliseconds(),
		entry.At.UnixMilli(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("record lookup: %w", err)
	}
	return entry, nil
}

const selectColumns = `SELECT id, ticket_num, plate_num, outcome, payload, error, elapsed_ms, created_at FROM lookup`

type scanner interface {
	Scan(dest ...any) error
}

func (s Store) scan(row scanner) (Entry, error) {
	var entry Entry
	var payload sql.NullString
	var elapsed, createdAt int64
	err := row.Scan(
		&entry.Id,
		&entry.Request.TicketNumber,
		&entry.Request.PlateNumber,
		&entry.Outcome,
		&payload,
		&entry.Error,
		&elapsed,
		&createdAt,
	)
	if err != nil {
		return Entry{}, err
	}
	if payload.Valid {
		entry.Payload = json.RawMessage(payload.String)
	}
	entry.Elapsed = time.Duration(elapsed) * time.Millisecond
	entry.At = time.UnixMilli(createdAt).In(s.time.Location())
	return entry, nil
}

// List returns the most recent entries first, at most limit of them.
func (s Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list lookups: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("list lookups: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Latest returns the most recent entry for req, ErrNoEntry if it was never looked up.
func (s Store) Latest(ctx context.Context, req ticket.LookupRequest) (Entry, error) {
	row := s.db.QueryRowContext(
		ctx,
		selectColumns+` WHERE ticket_num = ? AND plate_num = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		req.TicketNumber,
		req.PlateNumber,
	)
	entry, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNoEntry
	}
	if err != nil {
		return Entry{}, fmt.Errorf("latest lookup: %w", err)
	}
	return entry, nil
}
