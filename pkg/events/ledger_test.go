package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpay/vault/pkg/events"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestAuditLedgerAppendAndChain(t *testing.T) {
	l := events.NewAuditLedger().WithClock(fixedClock())

	seq, err := l.Append(events.Event{ID: "ev-1", Type: events.TypePaymentRegistered, InvoiceID: "INV-1", Actor: "owner", Amount: 3_000_000})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	seq, err = l.Append(events.Event{ID: "ev-2", Type: events.TypePaymentExecuted, InvoiceID: "INV-1", Actor: "owner", Recipient: "r", Amount: 3_000_000})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	first, err := l.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "genesis", first.PrevHash)

	second, err := l.Get(2)
	require.NoError(t, err)
	assert.Equal(t, first.ContentHash, second.PrevHash)
	assert.Equal(t, second.ContentHash, l.Head())

	ok, msg := l.Verify()
	assert.True(t, ok, msg)
}

func TestAuditLedgerGetOutOfRange(t *testing.T) {
	l := events.NewAuditLedger()
	_, err := l.Get(0)
	assert.Error(t, err)
	_, err = l.Get(1)
	assert.Error(t, err)
}

func TestAuditLedgerByInvoice(t *testing.T) {
	l := events.NewAuditLedger()
	for _, ev := range []events.Event{
		{ID: "a", Type: events.TypePaymentRegistered, InvoiceID: "INV-1", Actor: "owner"},
		{ID: "b", Type: events.TypeVaultFunded, Actor: "manager"},
		{ID: "c", Type: events.TypePaymentExecuted, InvoiceID: "INV-1", Actor: "owner"},
		{ID: "d", Type: events.TypePaymentRegistered, InvoiceID: "INV-2", Actor: "owner"},
	} {
		_, err := l.Append(ev)
		require.NoError(t, err)
	}

	got := l.ByInvoice("INV-1")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Event.ID)
	assert.Equal(t, "c", got[1].Event.ID)
}

func TestAuditLedgerRecordAssignsID(t *testing.T) {
	l := events.NewAuditLedger()
	require.NoError(t, l.Record(context.Background(), events.Event{Type: events.TypeVaultFunded, Actor: "x"}))

	entry, err := l.Get(1)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.Event.ID)
	assert.Equal(t, 1, l.Length())
}

func TestMultiRecorderFanOut(t *testing.T) {
	a := events.NewAuditLedger()
	b := events.NewAuditLedger()
	r := events.Multi(a, b, events.Discard)

	require.NoError(t, r.Record(context.Background(), events.Event{ID: "ev", Type: events.TypeVaultFunded, Actor: "x"}))
	assert.Equal(t, 1, a.Length())
	assert.Equal(t, 1, b.Length())
}
