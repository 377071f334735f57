package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "github.com/lib/pq"
)

// PostgresStore persists audit events to PostgreSQL. It implements Recorder.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open Postgres handle. Call Init before first use.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS vault_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	invoice_id TEXT,
	actor TEXT NOT NULL,
	recipient TEXT,
	amount BIGINT NOT NULL DEFAULT 0,
	timestamp TIMESTAMP NOT NULL,
	metadata JSONB
);
CREATE INDEX IF NOT EXISTS idx_vault_events_invoice ON vault_events(invoice_id);
`

// Init creates the events table.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, postgresSchema)
	return err
}

// Record implements Recorder.
func (s *PostgresStore) Record(ctx context.Context, ev Event) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.ID, string(ev.Type), ev.InvoiceID, ev.Actor, ev.Recipient, int64(ev.Amount), ev.Timestamp, metadataJSON)
	if err != nil {
		return fmt.Errorf("events: insert event: %w", err)
	}
	return nil
}

// ListByInvoice returns all stored events for an invoice, oldest first.
func (s *PostgresStore) ListByInvoice(ctx context.Context, invoiceID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, invoice_id, actor, recipient, amount, timestamp, metadata
		FROM vault_events
		WHERE invoice_id = $1
		ORDER BY timestamp ASC
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("events: query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}
