package vault

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentpay/vault/pkg/events"
	"github.com/agentpay/vault/pkg/token"
)

// Vault holds custodied funds on an external token ledger and releases them
// per invoice once the owner marks the invoice condition fulfilled.
//
// Two privileged roles exist: the owner (registers, fulfills, executes,
// rescues, reconfigures) and an optional manager (privileged pull-funding
// only). Role identities are explicit state mutated only through their own
// gated transitions, and the owner role moves via a two-step handshake.
type Vault struct {
	mu        sync.Mutex
	executing bool

	owner        string
	pendingOwner string
	manager      string

	// custody is the vault's own identity on the token ledger; all custodied
	// funds sit in this balance.
	custody string

	tok      token.Ledger
	payments map[string]Payment

	recorder events.Recorder
	logger   *slog.Logger
}

// New creates a vault owned by owner, custodying funds under the custody
// identity on the given token ledger.
func New(owner, custody string, tok token.Ledger) *Vault {
	return &Vault{
		owner:    owner,
		custody:  custody,
		tok:      tok,
		payments: make(map[string]Payment),
		recorder: events.Discard,
		logger:   slog.Default(),
	}
}

// WithManager sets the initial manager identity.
func (v *Vault) WithManager(manager string) *Vault {
	v.manager = manager
	return v
}

// WithRecorder sets the audit event recorder.
func (v *Vault) WithRecorder(r events.Recorder) *Vault {
	if r != nil {
		v.recorder = r
	}
	return v
}

// WithLogger sets the structured logger.
func (v *Vault) WithLogger(l *slog.Logger) *Vault {
	if l != nil {
		v.logger = l
	}
	return v
}

// Owner returns the current owner identity.
func (v *Vault) Owner() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.owner
}

// Manager returns the current manager identity; empty means the privileged
// funding path is disabled.
func (v *Vault) Manager() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.manager
}

// PendingOwner returns the identity proposed to take ownership, if any.
func (v *Vault) PendingOwner() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pendingOwner
}

// CustodyBalance reports the vault's custodied balance on the token ledger.
func (v *Vault) CustodyBalance() uint64 {
	return v.tok.BalanceOf(v.custody)
}

// GetPayment returns the record tuple for an invoice. No authorization is
// required; Exists is false if the invoice was never registered.
func (v *Vault) GetPayment(invoiceID string) Payment {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.payments[invoiceID]
}

// UpsertPayment registers or updates the payment for an invoice. Owner-only.
// Updating does not touch IsFulfilled: correcting amount or recipient neither
// re-locks nor unlocks the payment.
func (v *Vault) UpsertPayment(ctx context.Context, caller, invoiceID, recipient string, amount uint64) error {
	v.mu.Lock()
	if v.executing {
		v.mu.Unlock()
		return ErrReentrancy
	}
	if caller != v.owner {
		v.mu.Unlock()
		return ErrUnauthorized
	}
	if recipient == "" {
		v.mu.Unlock()
		return ErrInvalidRecipient
	}
	if amount == 0 {
		v.mu.Unlock()
		return ErrInvalidAmount
	}

	p := v.payments[invoiceID]
	p.Amount = amount
	p.Recipient = recipient
	p.Exists = true
	v.payments[invoiceID] = p
	fulfilled := p.IsFulfilled
	v.mu.Unlock()

	v.record(ctx, events.Event{
		Type:      events.TypePaymentRegistered,
		InvoiceID: invoiceID,
		Actor:     caller,
		Recipient: recipient,
		Amount:    amount,
		Metadata:  map[string]any{"fulfilled": fulfilled},
	})
	return nil
}

// SetPaymentFulfilled flips the fulfillment flag for an existing invoice.
// Owner-only. Setting false revokes a prior unlock before execution.
func (v *Vault) SetPaymentFulfilled(ctx context.Context, caller, invoiceID string, fulfilled bool) error {
	v.mu.Lock()
	if v.executing {
		v.mu.Unlock()
		return ErrReentrancy
	}
	if caller != v.owner {
		v.mu.Unlock()
		return ErrUnauthorized
	}
	p, ok := v.payments[invoiceID]
	if !ok || !p.Exists {
		v.mu.Unlock()
		return ErrInvoiceNotFound
	}
	p.IsFulfilled = fulfilled
	v.payments[invoiceID] = p
	v.mu.Unlock()

	v.record(ctx, events.Event{
		Type:      events.TypeFulfillmentChanged,
		InvoiceID: invoiceID,
		Actor:     caller,
		Metadata:  map[string]any{"fulfilled": fulfilled},
	})
	return nil
}

// ExecutePayment pays out a fulfilled invoice to its recipient. Owner-only.
//
// The record is cleared before the external transfer is issued, so a callback
// re-entering the vault during the transfer finds an inert record and is
// rejected. If the transfer fails, the cleared state is restored and
// ErrTransferFailed surfaced: the whole operation is atomic.
func (v *Vault) ExecutePayment(ctx context.Context, caller, invoiceID string) error {
	v.mu.Lock()
	if v.executing {
		v.mu.Unlock()
		return ErrReentrancy
	}
	if caller != v.owner {
		v.mu.Unlock()
		return ErrUnauthorized
	}
	p, ok := v.payments[invoiceID]
	if !ok || !p.Exists {
		v.mu.Unlock()
		return ErrInvoiceNotFound
	}
	if !p.IsFulfilled {
		v.mu.Unlock()
		return ErrConditionNotMet
	}
	if p.Amount == 0 {
		v.mu.Unlock()
		return ErrAlreadyPaidOrEmpty
	}
	if v.tok.BalanceOf(v.custody) < p.Amount {
		v.mu.Unlock()
		return ErrInsufficientFunds
	}

	recipient, amount := p.Recipient, p.Amount

	// Checks-effects-interactions: clear the record and flag execution before
	// touching the external ledger.
	cleared := p
	cleared.Amount = 0
	cleared.IsFulfilled = false
	v.payments[invoiceID] = cleared
	v.executing = true
	v.mu.Unlock()

	err := v.tok.Transfer(v.custody, recipient, amount)

	v.mu.Lock()
	v.executing = false
	if err != nil {
		// Restore the record so the payment can be retried once the cause is
		// resolved; nothing else changed.
		v.payments[invoiceID] = p
		v.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	v.mu.Unlock()

	v.record(ctx, events.Event{
		Type:      events.TypePaymentExecuted,
		InvoiceID: invoiceID,
		Actor:     caller,
		Recipient: recipient,
		Amount:    amount,
	})
	return nil
}

// DepositFromManager pulls amount from the manager's token balance into
// custody. Caller must be the configured manager, who must have pre-approved
// the vault on the token ledger.
func (v *Vault) DepositFromManager(ctx context.Context, caller string, amount uint64) error {
	v.mu.Lock()
	if v.executing {
		v.mu.Unlock()
		return ErrReentrancy
	}
	if v.manager == "" || caller != v.manager {
		v.mu.Unlock()
		return ErrUnauthorized
	}
	v.mu.Unlock()
	return v.pullDeposit(ctx, caller, amount)
}

// Deposit pulls amount from the caller's own token balance into custody.
// Open to any identity that pre-approved the vault.
func (v *Vault) Deposit(ctx context.Context, caller string, amount uint64) error {
	v.mu.Lock()
	if v.executing {
		v.mu.Unlock()
		return ErrReentrancy
	}
	if caller == "" {
		v.mu.Unlock()
		return ErrZeroAddress
	}
	v.mu.Unlock()
	return v.pullDeposit(ctx, caller, amount)
}

// pullDeposit performs the shared allowance-gated pull. The execution flag is
// held across the external call so it cannot interleave with a payout.
func (v *Vault) pullDeposit(ctx context.Context, from string, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	if v.executing {
		v.mu.Unlock()
		return ErrReentrancy
	}
	v.executing = true
	v.mu.Unlock()

	err := v.tok.TransferFrom(v.custody, from, v.custody, amount)

	v.mu.Lock()
	v.executing = false
	v.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	v.record(ctx, events.Event{
		Type:   events.TypeVaultFunded,
		Actor:  from,
		Amount: amount,
	})
	return nil
}

// SetManager changes (or unsets) the manager identity. Owner-only. An empty
// manager disables the privileged funding path without affecting open deposits.
func (v *Vault) SetManager(ctx context.Context, caller, manager string) error {
	v.mu.Lock()
	if v.executing {
		v.mu.Unlock()
		return ErrReentrancy
	}
	if caller != v.owner {
		v.mu.Unlock()
		return ErrUnauthorized
	}
	previous := v.manager
	v.manager = manager
	v.mu.Unlock()

	v.record(ctx, events.Event{
		Type:     events.TypeManagerChanged,
		Actor:    caller,
		Metadata: map[string]any{"previous": previous, "manager": manager},
	})
	return nil
}

// TransferOwnership proposes a new owner. Owner-only; the transfer only takes
// effect once the proposed identity calls AcceptOwnership.
func (v *Vault) TransferOwnership(ctx context.Context, caller, newOwner string) error {
	v.mu.Lock()
	if v.executing {
		v.mu.Unlock()
		return ErrReentrancy
	}
	if caller != v.owner {
		v.mu.Unlock()
		return ErrUnauthorized
	}
	if newOwner == "" {
		v.mu.Unlock()
		return ErrZeroAddress
	}
	v.pendingOwner = newOwner
	v.mu.Unlock()

	v.record(ctx, events.Event{
		Type:     events.TypeOwnershipProposed,
		Actor:    caller,
		Metadata: map[string]any{"pending_owner": newOwner},
	})
	return nil
}

// AcceptOwnership completes a proposed ownership transfer. Only the pending
// owner may call it.
func (v *Vault) AcceptOwnership(ctx context.Context, caller string) error {
	v.mu.Lock()
	if v.executing {
		v.mu.Unlock()
		return ErrReentrancy
	}
	if v.pendingOwner == "" || caller != v.pendingOwner {
		v.mu.Unlock()
		return ErrUnauthorized
	}
	previous := v.owner
	v.owner = caller
	v.pendingOwner = ""
	v.mu.Unlock()

	v.record(ctx, events.Event{
		Type:     events.TypeOwnershipAccepted,
		Actor:    caller,
		Metadata: map[string]any{"previous_owner": previous},
	})
	return nil
}

// RescueTokens moves amount of an arbitrary asset held under the custody
// identity to another identity. Owner-only. This deliberately bypasses
// payment accounting, including for the custodied asset itself; the owner
// role is trusted with it.
func (v *Vault) RescueTokens(ctx context.Context, caller string, tok token.Ledger, to string, amount uint64) error {
	v.mu.Lock()
	if v.executing {
		v.mu.Unlock()
		return ErrReentrancy
	}
	if caller != v.owner {
		v.mu.Unlock()
		return ErrUnauthorized
	}
	if to == "" {
		v.mu.Unlock()
		return ErrZeroAddress
	}
	v.executing = true
	v.mu.Unlock()

	err := tok.Transfer(v.custody, to, amount)

	v.mu.Lock()
	v.executing = false
	v.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	v.record(ctx, events.Event{
		Type:      events.TypeTokensRescued,
		Actor:     caller,
		Recipient: to,
		Amount:    amount,
	})
	return nil
}

// record emits an audit event. The ID and timestamp are stamped here so every
// recorder behind a fan-out sees the same event. Recording failure never
// reverts the operation that produced the event; it is logged and the trail
// catches up out of band. Emission happens outside the state mutex, so under
// concurrent operations the trail's append order may differ from the
// state-transition order; a sequential caller sees its events in order, and
// each event is self-describing either way.
func (v *Vault) record(ctx context.Context, ev events.Event) {
	ev.ID = uuid.New().String()
	ev.Timestamp = time.Now().UTC()
	if err := v.recorder.Record(ctx, ev); err != nil {
		v.logger.Warn("audit event dropped", "type", string(ev.Type), "invoice_id", ev.InvoiceID, "error", err)
	}
}
