// Package vault implements the conditional-payment vault: a role-gated state
// machine holding custodied funds and one payment record per invoice
// identifier. Funds only move through the execution and rescue paths, and an
// executed invoice cannot pay out twice within the same cycle.
package vault

import "errors"

var (
	// ErrUnauthorized is returned when the caller lacks the role an operation requires.
	ErrUnauthorized = errors.New("vault: unauthorized")
	// ErrInvoiceNotFound is returned when no record exists for the invoice identifier.
	ErrInvoiceNotFound = errors.New("vault: invoice not found")
	// ErrInvalidRecipient is returned when a payment names the zero identity as recipient.
	ErrInvalidRecipient = errors.New("vault: invalid recipient")
	// ErrInvalidAmount is returned when an amount is zero.
	ErrInvalidAmount = errors.New("vault: invalid amount")
	// ErrConditionNotMet is returned when executing a payment not yet marked fulfilled.
	ErrConditionNotMet = errors.New("vault: condition not met")
	// ErrAlreadyPaidOrEmpty is returned when executing a record whose amount is zero,
	// typically because it was already paid out this cycle.
	ErrAlreadyPaidOrEmpty = errors.New("vault: already paid or empty")
	// ErrInsufficientFunds is returned when custody cannot cover the payment amount.
	ErrInsufficientFunds = errors.New("vault: insufficient custodied funds")
	// ErrTransferFailed is returned when the external token transfer fails.
	ErrTransferFailed = errors.New("vault: token transfer failed")
	// ErrZeroAddress is returned when an operation names the zero identity.
	ErrZeroAddress = errors.New("vault: zero address")
	// ErrReentrancy is returned when a state-mutating call arrives while a
	// funds-moving operation is still in flight.
	ErrReentrancy = errors.New("vault: reentrant call blocked")
)

// Payment is the full record tuple for one invoice identifier. Exists
// distinguishes "never created" from a record whose fields were cleared by
// execution.
type Payment struct {
	Amount      uint64 `json:"amount"`
	Recipient   string `json:"recipient"`
	IsFulfilled bool   `json:"is_fulfilled"`
	Exists      bool   `json:"exists"`
}
