package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Entry is an immutable, hash-chained audit ledger entry.
type Entry struct {
	Sequence    uint64    `json:"sequence"`
	Event       Event     `json:"event"`
	ContentHash string    `json:"content_hash"`
	PrevHash    string    `json:"prev_hash"`
	AppendedAt  time.Time `json:"appended_at"`
}

// AuditLedger is an append-only, hash-chained event log. Each entry's hash
// covers the JCS-canonicalized event plus the previous head, so any mutation
// or reordering breaks Verify.
type AuditLedger struct {
	mu       sync.RWMutex
	entries  []Entry
	headHash string
	clock    func() time.Time
}

// NewAuditLedger creates an empty ledger.
func NewAuditLedger() *AuditLedger {
	return &AuditLedger{
		entries:  make([]Entry, 0),
		headHash: "genesis",
		clock:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (l *AuditLedger) WithClock(clock func() time.Time) *AuditLedger {
	l.clock = clock
	return l
}

// Record implements Recorder, assigning an event ID if the caller left it empty.
func (l *AuditLedger) Record(_ context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	_, err := l.Append(ev)
	return err
}

// Append adds an event to the ledger and returns its sequence number.
func (l *AuditLedger) Append(ev Event) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.entries)) + 1
	contentHash, err := entryHash(seq, ev, l.headHash)
	if err != nil {
		return 0, err
	}

	l.entries = append(l.entries, Entry{
		Sequence:    seq,
		Event:       ev,
		ContentHash: contentHash,
		PrevHash:    l.headHash,
		AppendedAt:  l.clock(),
	})
	l.headHash = contentHash
	return seq, nil
}

// Get retrieves an entry by sequence number (1-based).
func (l *AuditLedger) Get(seq uint64) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq == 0 || seq > uint64(len(l.entries)) {
		return nil, fmt.Errorf("events: entry %d not found", seq)
	}
	entry := l.entries[seq-1]
	return &entry, nil
}

// Head returns the current head hash.
func (l *AuditLedger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Length returns the number of entries.
func (l *AuditLedger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// ByInvoice returns all entries whose event references the given invoice.
func (l *AuditLedger) ByInvoice(invoiceID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if e.Event.InvoiceID == invoiceID {
			out = append(out, e)
		}
	}
	return out
}

// Verify checks the integrity of the whole chain. On failure it reports the
// first broken entry.
func (l *AuditLedger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prevHash := "genesis"
	for i, entry := range l.entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}
		computed, err := entryHash(entry.Sequence, entry.Event, entry.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d", i+1)
		}
		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = entry.ContentHash
	}
	return true, "chain verified"
}

// entryHash hashes the canonical JSON form so the digest is stable across
// map ordering and encoder differences.
func entryHash(seq uint64, ev Event, prevHash string) (string, error) {
	hashInput := struct {
		Seq      uint64 `json:"seq"`
		Event    Event  `json:"event"`
		PrevHash string `json:"prev"`
	}{seq, ev, prevHash}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("events: marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("events: canonicalize entry: %w", err)
	}
	h := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}
