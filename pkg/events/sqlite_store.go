package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists audit events to SQLite. It implements Recorder.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open SQLite handle and creates the events table.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteStore opens (or creates) the database file at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("events: open sqlite %q: %w", path, err)
	}
	return NewSQLiteStore(db)
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS vault_events (
        id TEXT PRIMARY KEY,
        event_type TEXT NOT NULL,
        invoice_id TEXT,
        actor TEXT NOT NULL,
        recipient TEXT,
        amount INTEGER NOT NULL DEFAULT 0,
        timestamp DATETIME NOT NULL,
        metadata JSON
    );
    CREATE INDEX IF NOT EXISTS idx_vault_events_invoice ON vault_events(invoice_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Record implements Recorder.
func (s *SQLiteStore) Record(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	var metadataJSON []byte
	if ev.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("events: marshal metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_events (id, event_type, invoice_id, actor, recipient, amount, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, string(ev.Type), ev.InvoiceID, ev.Actor, ev.Recipient, int64(ev.Amount), ev.Timestamp, metadataJSON)
	if err != nil {
		return fmt.Errorf("events: insert event: %w", err)
	}
	return nil
}

// ListByInvoice returns all stored events for an invoice, oldest first.
func (s *SQLiteStore) ListByInvoice(ctx context.Context, invoiceID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, invoice_id, actor, recipient, amount, timestamp, metadata
		FROM vault_events
		WHERE invoice_id = ?
		ORDER BY timestamp ASC
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("events: query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var (
			ev           Event
			eventType    string
			invoiceID    sql.NullString
			recipient    sql.NullString
			amount       int64
			metadataJSON []byte
		)
		if err := rows.Scan(&ev.ID, &eventType, &invoiceID, &ev.Actor, &recipient, &amount, &ev.Timestamp, &metadataJSON); err != nil {
			return nil, fmt.Errorf("events: scan event: %w", err)
		}
		ev.Type = Type(eventType)
		ev.InvoiceID = invoiceID.String
		ev.Recipient = recipient.String
		ev.Amount = uint64(amount)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("events: unmarshal metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
