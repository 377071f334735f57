// Package brain implements the off-chain decision process that watches for an
// external condition and drives the executor once it is met. The brain's
// per-invoice state is a cache: the vault stays the source of truth and
// Reconcile repairs any divergence.
package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// State is the brain's view of one invoice.
type State string

const (
	// StatePending means the invoice was created but monitoring has not started.
	StatePending State = "PENDING"
	// StateMonitoring means the brain is waiting for the external condition.
	StateMonitoring State = "MONITORING"
	// StateExecuting means the trigger was sent and the payout is in flight.
	StateExecuting State = "EXECUTING"
	// StatePaid means the vault confirmed the payout.
	StatePaid State = "PAID"
)

var (
	// ErrDuplicateInvoice is returned when creating an invoice the brain already tracks.
	ErrDuplicateInvoice = errors.New("brain: invoice already exists")
	// ErrUnknownInvoice is returned for operations on an untracked invoice.
	ErrUnknownInvoice = errors.New("brain: unknown invoice")
	// ErrInsufficientBalance is returned when the pre-check predicts a doomed execution.
	ErrInsufficientBalance = errors.New("brain: insufficient executor balance")
)

// GasBuffer is the extra custody (in smallest units) required beyond the
// payment amount before a creation is attempted, covering execution overhead.
const GasBuffer = 100_000 // 0.1 units at 6 decimals

// Monitor tracks invoice conditions and drives the executor. A condition
// signal arriving before its invoice exists is remembered and applied as soon
// as monitoring starts.
type Monitor struct {
	mu           sync.Mutex
	states       map[string]State
	preconfirmed map[string]bool

	client ExecutorClient
	logger *slog.Logger
}

// NewMonitor creates a monitor driving the given executor.
func NewMonitor(client ExecutorClient) *Monitor {
	return &Monitor{
		states:       make(map[string]State),
		preconfirmed: make(map[string]bool),
		client:       client,
		logger:       slog.Default(),
	}
}

// WithLogger sets the structured logger.
func (m *Monitor) WithLogger(l *slog.Logger) *Monitor {
	if l != nil {
		m.logger = l
	}
	return m
}

// State returns the brain's view of an invoice.
func (m *Monitor) State(invoiceID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[invoiceID]
	return s, ok
}

// States returns a snapshot of all tracked invoices.
func (m *Monitor) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out
}

// CreatePayment pre-checks the executor's custody balance and registers the
// invoice on-chain. The balance check pre-empts executions that would fail
// with an insufficient-balance error later.
func (m *Monitor) CreatePayment(ctx context.Context, invoiceID, recipient string, amount uint64) error {
	m.mu.Lock()
	if _, exists := m.states[invoiceID]; exists {
		m.mu.Unlock()
		return ErrDuplicateInvoice
	}
	m.mu.Unlock()

	balance, err := m.client.CheckBalance(ctx)
	if err != nil {
		return fmt.Errorf("brain: balance pre-check: %w", err)
	}
	if balance < amount+GasBuffer {
		m.logger.Warn("balance pre-check failed", "invoice_id", invoiceID, "balance", balance, "needed", amount+GasBuffer)
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, balance, amount+GasBuffer)
	}

	if err := m.client.CreateOnChain(ctx, invoiceID, recipient, amount); err != nil {
		return fmt.Errorf("brain: create on-chain: %w", err)
	}

	m.mu.Lock()
	m.states[invoiceID] = StatePending
	m.mu.Unlock()

	m.logger.Info("invoice created", "invoice_id", invoiceID, "amount", amount)
	return nil
}

// StartMonitoring moves a pending invoice into monitoring. If the condition
// was already confirmed before monitoring began, the payment triggers now.
func (m *Monitor) StartMonitoring(ctx context.Context, invoiceID string) error {
	m.mu.Lock()
	state, ok := m.states[invoiceID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownInvoice
	}
	if state == StatePending {
		m.states[invoiceID] = StateMonitoring
	}
	confirmed := m.preconfirmed[invoiceID]
	m.mu.Unlock()

	if confirmed {
		m.logger.Info("condition pre-confirmed, triggering immediately", "invoice_id", invoiceID)
		return m.trigger(ctx, invoiceID)
	}
	return nil
}

// ConfirmCondition records that the external condition holds for an invoice.
// A monitored invoice is paid immediately; an unknown or not-yet-monitored
// invoice keeps the confirmation for later.
func (m *Monitor) ConfirmCondition(ctx context.Context, invoiceID string) error {
	m.mu.Lock()
	m.preconfirmed[invoiceID] = true
	state := m.states[invoiceID]
	m.mu.Unlock()

	switch state {
	case StateMonitoring:
		return m.trigger(ctx, invoiceID)
	case StatePaid:
		return nil // already settled
	case StateExecuting:
		return nil // trigger already in flight
	default:
		m.logger.Info("condition recorded before monitoring", "invoice_id", invoiceID)
		return nil
	}
}

// trigger drives the executor and settles the local state. On failure the
// invoice returns to monitoring so the trigger can be retried.
func (m *Monitor) trigger(ctx context.Context, invoiceID string) error {
	m.mu.Lock()
	m.states[invoiceID] = StateExecuting
	m.mu.Unlock()

	if err := m.client.TriggerPayment(ctx, invoiceID); err != nil {
		m.mu.Lock()
		m.states[invoiceID] = StateMonitoring
		m.mu.Unlock()
		m.logger.Warn("payment trigger failed", "invoice_id", invoiceID, "error", err)
		return fmt.Errorf("brain: trigger payment: %w", err)
	}

	m.mu.Lock()
	m.states[invoiceID] = StatePaid
	m.mu.Unlock()
	m.logger.Info("payment settled", "invoice_id", invoiceID)
	return nil
}

// Reconcile re-reads the vault's authoritative record and repairs the local
// cache: an inert record means paid, an active one means still monitoring.
func (m *Monitor) Reconcile(ctx context.Context, invoiceID string) (State, error) {
	status, err := m.client.PaymentStatus(ctx, invoiceID)
	if err != nil {
		return "", fmt.Errorf("brain: reconcile %s: %w", invoiceID, err)
	}
	if !status.Exists {
		return "", ErrUnknownInvoice
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var next State
	if status.Amount == 0 {
		next = StatePaid
	} else {
		next = StateMonitoring
	}
	if prev, ok := m.states[invoiceID]; !ok || prev != next {
		m.logger.Info("reconciled invoice state", "invoice_id", invoiceID, "state", next)
	}
	m.states[invoiceID] = next
	return next, nil
}
