package events_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpay/vault/pkg/events"
)

func TestPostgresStoreInit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS vault_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := events.NewPostgresStore(db)
	require.NoError(t, store.Init(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO vault_events")).
		WithArgs("ev-1", "PAYMENT_EXECUTED", "INV-1", "owner", "recipient", int64(3_000_000), now, []byte(nil)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := events.NewPostgresStore(db)
	require.NoError(t, store.Record(context.Background(), events.Event{
		ID:        "ev-1",
		Type:      events.TypePaymentExecuted,
		InvoiceID: "INV-1",
		Actor:     "owner",
		Recipient: "recipient",
		Amount:    3_000_000,
		Timestamp: now,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreListByInvoice(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "event_type", "invoice_id", "actor", "recipient", "amount", "timestamp", "metadata"}).
		AddRow("ev-1", "PAYMENT_REGISTERED", "INV-1", "owner", "recipient", int64(3_000_000), now, []byte(nil)).
		AddRow("ev-2", "PAYMENT_EXECUTED", "INV-1", "owner", "recipient", int64(3_000_000), now.Add(time.Minute), []byte(`{"tx":"0xabc"}`))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, event_type, invoice_id, actor, recipient, amount, timestamp, metadata")).
		WithArgs("INV-1").
		WillReturnRows(rows)

	store := events.NewPostgresStore(db)
	got, err := store.ListByInvoice(context.Background(), "INV-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events.TypePaymentRegistered, got[0].Type)
	assert.Equal(t, "0xabc", got[1].Metadata["tx"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
