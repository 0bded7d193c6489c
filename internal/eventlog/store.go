// Package eventlog keeps a durable, ordered copy of every committed ledger
// event so that off-chain consumers can rebuild freeze, checkpoint and
// yield state without talking to the node.
package eventlog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"math"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"

	"github.com/smart-protocol/smart/internal/protocol"
)

//go:embed schema.sql
var schemaSQL string

// Record is a stored event. Data is the JSON encoding of the payload.
type Record struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Topic     common.Hash     `json:"topic"`
	Timepoint uint64          `json:"timepoint"`
	Data      json.RawMessage `json:"data"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Name     string
	AfterSeq int64
	Since    uint64
	Limit    int
}

// Store is a SQLite event journal in WAL mode
type Store struct {
	db *sql.DB
}

// Open creates or opens the event log at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to event log: %w", err)
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes events in one transaction. Duplicate ids are ignored.
func (s *Store) Append(ctx context.Context, events []protocol.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, name, topic, timepoint, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if ev.Timepoint > math.MaxInt64 {
			return fmt.Errorf("append event %s: timepoint %d out of range", ev.ID, ev.Timepoint)
		}
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("append event %s: %w", ev.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, ev.ID, ev.Name, ev.Topic.Hex(), int64(ev.Timepoint), string(data)); err != nil {
			return fmt.Errorf("append event %s: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}

// Publish implements state.Sink. The ledger has already committed when
// events arrive, so a write failure is logged rather than returned.
func (s *Store) Publish(events []protocol.Event) {
	if err := s.Append(context.Background(), events); err != nil {
		log.Printf("[EventLog] Failed to persist %d events: %v", len(events), err)
	}
}

// List returns stored events in commit order
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	query := `SELECT seq, id, name, topic, timepoint, data FROM events WHERE seq > ?`
	args := []any{f.AfterSeq}
	if f.Name != "" {
		query += ` AND name = ?`
		args = append(args, f.Name)
	}
	if f.Since > 0 {
		query += ` AND timepoint >= ?`
		args = append(args, int64(min(f.Since, math.MaxInt64)))
	}
	query += ` ORDER BY seq ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			r         Record
			topic     string
			timepoint int64
			data      string
		)
		if err := rows.Scan(&r.Seq, &r.ID, &r.Name, &topic, &timepoint, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Topic = common.HexToHash(topic)
		r.Timepoint = uint64(timepoint)
		r.Data = json.RawMessage(data)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// Count returns the number of stored events
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
