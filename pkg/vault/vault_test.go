package vault_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpay/vault/pkg/events"
	"github.com/agentpay/vault/pkg/token"
	"github.com/agentpay/vault/pkg/vault"
)

const (
	owner     = "0xowner"
	manager   = "0xmanager"
	custody   = "0xvault"
	recipient = "0xrecipient"
	stranger  = "0xstranger"
)

// newFixture builds a vault with a funded, pre-approved manager and an audit
// ledger so tests can assert on emitted events.
func newFixture(t *testing.T) (*vault.Vault, *token.MemoryLedger, *events.AuditLedger) {
	t.Helper()
	tok := token.NewMemoryLedger()
	tok.Mint(manager, 100_000_000)
	require.NoError(t, tok.Approve(manager, custody, 100_000_000))

	audit := events.NewAuditLedger()
	v := vault.New(owner, custody, tok).WithManager(manager).WithRecorder(audit)
	return v, tok, audit
}

func TestUpsertPaymentValidation(t *testing.T) {
	v, _, _ := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, v.UpsertPayment(ctx, stranger, "INV-1", recipient, 1), vault.ErrUnauthorized)
	assert.ErrorIs(t, v.UpsertPayment(ctx, owner, "INV-1", "", 1), vault.ErrInvalidRecipient)
	assert.ErrorIs(t, v.UpsertPayment(ctx, owner, "INV-1", recipient, 0), vault.ErrInvalidAmount)

	p := v.GetPayment("INV-1")
	assert.False(t, p.Exists, "failed upserts must leave no record")

	require.NoError(t, v.UpsertPayment(ctx, owner, "INV-1", recipient, 3_000_000))
	p = v.GetPayment("INV-1")
	assert.True(t, p.Exists)
	assert.Equal(t, uint64(3_000_000), p.Amount)
	assert.Equal(t, recipient, p.Recipient)
	assert.False(t, p.IsFulfilled)
}

func TestUpsertPaymentUpdateKeepsFulfillment(t *testing.T) {
	v, _, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, v.UpsertPayment(ctx, owner, "INV-1", recipient, 1_000_000))
	require.NoError(t, v.SetPaymentFulfilled(ctx, owner, "INV-1", true))

	// Correcting the amount does not silently re-lock the payment.
	require.NoError(t, v.UpsertPayment(ctx, owner, "INV-1", recipient, 2_000_000))
	p := v.GetPayment("INV-1")
	assert.True(t, p.IsFulfilled)
	assert.Equal(t, uint64(2_000_000), p.Amount)
}

func TestSetPaymentFulfilled(t *testing.T) {
	v, _, _ := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, v.SetPaymentFulfilled(ctx, owner, "INV-404", true), vault.ErrInvoiceNotFound)

	require.NoError(t, v.UpsertPayment(ctx, owner, "INV-1", recipient, 1_000_000))
	assert.ErrorIs(t, v.SetPaymentFulfilled(ctx, stranger, "INV-1", true), vault.ErrUnauthorized)

	require.NoError(t, v.SetPaymentFulfilled(ctx, owner, "INV-1", true))
	assert.True(t, v.GetPayment("INV-1").IsFulfilled)

	// Revoking an unlock before execution is allowed.
	require.NoError(t, v.SetPaymentFulfilled(ctx, owner, "INV-1", false))
	assert.False(t, v.GetPayment("INV-1").IsFulfilled)
}

func TestExecutePaymentGating(t *testing.T) {
	v, tok, audit := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, v.ExecutePayment(ctx, owner, "INV-404"), vault.ErrInvoiceNotFound)

	require.NoError(t, v.UpsertPayment(ctx, owner, "INV-1", recipient, 3_000_000))
	require.NoError(t, v.DepositFromManager(ctx, manager, 5_000_000))

	before := audit.Length()
	assert.ErrorIs(t, v.ExecutePayment(ctx, owner, "INV-1"), vault.ErrConditionNotMet)
	assert.Equal(t, uint64(0), tok.BalanceOf(recipient), "no funds move on gated execution")
	assert.Equal(t, before, audit.Length(), "no event on gated execution")

	assert.ErrorIs(t, v.ExecutePayment(ctx, stranger, "INV-1"), vault.ErrUnauthorized)
}

// TestScenario runs the end-to-end flow from the acceptance scenario: fund,
// register, gate, fulfill, execute once, fail the second execution.
func TestScenario(t *testing.T) {
	v, tok, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, v.UpsertPayment(ctx, owner, "INV-1", recipient, 3_000_000))
	require.NoError(t, v.DepositFromManager(ctx, manager, 5_000_000))
	assert.Equal(t, uint64(5_000_000), v.CustodyBalance())

	assert.ErrorIs(t, v.ExecutePayment(ctx, owner, "INV-1"), vault.ErrConditionNotMet)

	require.NoError(t, v.SetPaymentFulfilled(ctx, owner, "INV-1", true))
	require.NoError(t, v.ExecutePayment(ctx, owner, "INV-1"))

	assert.Equal(t, uint64(3_000_000), tok.BalanceOf(recipient))
	assert.Equal(t, uint64(2_000_000), v.CustodyBalance())

	err := v.ExecutePayment(ctx, owner, "INV-1")
	assert.ErrorIs(t, err, vault.ErrAlreadyPaidOrEmpty, "second execution must fail deterministically")
	assert.Equal(t, uint64(3_000_000), tok.BalanceOf(recipient), "recipient paid exactly once")

	p := v.GetPayment("INV-1")
	assert.True(t, p.Exists)
	assert.Equal(t, uint64(0), p.Amount)
	assert.False(t, p.IsFulfilled)
}

func TestExecutePaymentInsufficientFunds(t *testing.T) {
	v, _, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, v.UpsertPayment(ctx, owner, "INV-1", recipient, 3_000_000))
	require.NoError(t, v.DepositFromManager(ctx, manager, 1_000_000))
	require.NoError(t, v.SetPaymentFulfilled(ctx, owner, "INV-1", true))

	assert.ErrorIs(t, v.ExecutePayment(ctx, owner, "INV-1"), vault.ErrInsufficientFunds)

	// The record is untouched so the payment can be retried once funded.
	p := v.GetPayment("INV-1")
	assert.Equal(t, uint64(3_000_000), p.Amount)
	assert.True(t, p.IsFulfilled)

	require.NoError(t, v.DepositFromManager(ctx, manager, 4_000_000))
	require.NoError(t, v.ExecutePayment(ctx, owner, "INV-1"))
}

func TestExecutePaymentTransferFailureIsAtomic(t *testing.T) {
	v, tok, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, v.UpsertPayment(ctx, owner, "INV-1", recipient, 3_000_000))
	require.NoError(t, v.DepositFromManager(ctx, manager, 5_000_000))
	require.NoError(t, v.SetPaymentFulfilled(ctx, owner, "INV-1", true))

	tok.SetTransferHook(func(from, to string, amount uint64) error {
		return assert.AnError
	})

	err := v.ExecutePayment(ctx, owner, "INV-1")
	assert.ErrorIs(t, err, vault.ErrTransferFailed)

	// State restored: the record is executable again once the token recovers.
	p := v.GetPayment("INV-1")
	assert.Equal(t, uint64(3_000_000), p.Amount)
	assert.True(t, p.IsFulfilled)
	assert.Equal(t, uint64(5_000_000), v.CustodyBalance())
	assert.Equal(t, uint64(0), tok.BalanceOf(recipient))

	tok.SetTransferHook(nil)
	require.NoError(t, v.ExecutePayment(ctx, owner, "INV-1"))
	assert.Equal(t, uint64(3_000_000), tok.BalanceOf(recipient))
}

// TestExecutePaymentReentrancyBlocked models a token callback re-entering the
// vault mid-transfer. The inner calls must be rejected and the outer payout
// must still settle exactly once.
func TestExecutePaymentReentrancyBlocked(t *testing.T) {
	v, tok, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, v.UpsertPayment(ctx, owner, "INV-1", recipient, 3_000_000))
	require.NoError(t, v.DepositFromManager(ctx, manager, 10_000_000))
	require.NoError(t, v.SetPaymentFulfilled(ctx, owner, "INV-1", true))

	var reentrantErrs []error
	tok.SetTransferHook(func(from, to string, amount uint64) error {
		if from != custody {
			return nil
		}
		reentrantErrs = append(reentrantErrs,
			v.ExecutePayment(ctx, owner, "INV-1"),
			v.UpsertPayment(ctx, owner, "INV-2", recipient, 1),
			v.Deposit(ctx, manager, 1),
		)
		return nil
	})

	require.NoError(t, v.ExecutePayment(ctx, owner, "INV-1"))

	require.Len(t, reentrantErrs, 3)
	for _, err := range reentrantErrs {
		assert.ErrorIs(t, err, vault.ErrReentrancy)
	}
	assert.Equal(t, uint64(3_000_000), tok.BalanceOf(recipient), "paid exactly once despite reentrant callback")
}

func TestFundingPaths(t *testing.T) {
	v, tok, _ := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, v.DepositFromManager(ctx, stranger, 1_000_000), vault.ErrUnauthorized)
	assert.ErrorIs(t, v.DepositFromManager(ctx, manager, 0), vault.ErrInvalidAmount)

	managerBefore := tok.BalanceOf(manager)
	require.NoError(t, v.DepositFromManager(ctx, manager, 2_000_000))
	assert.Equal(t, uint64(2_000_000), v.CustodyBalance())
	assert.Equal(t, managerBefore-2_000_000, tok.BalanceOf(manager), "funding conservation")

	// Open deposit: any pre-approved caller.
	tok.Mint(stranger, 1_000_000)
	err := v.Deposit(ctx, stranger, 500_000)
	assert.ErrorIs(t, err, vault.ErrTransferFailed, "deposit without allowance fails with no state change")
	assert.Equal(t, uint64(2_000_000), v.CustodyBalance())

	require.NoError(t, tok.Approve(stranger, custody, 500_000))
	require.NoError(t, v.Deposit(ctx, stranger, 500_000))
	assert.Equal(t, uint64(2_500_000), v.CustodyBalance())
	assert.Equal(t, uint64(500_000), tok.BalanceOf(stranger))
}

func TestManagerUnsetDisablesPrivilegedFunding(t *testing.T) {
	v, tok, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, v.SetManager(ctx, owner, ""))
	assert.ErrorIs(t, v.DepositFromManager(ctx, manager, 1_000_000), vault.ErrUnauthorized)

	// The open path is unaffected.
	require.NoError(t, tok.Approve(manager, custody, 1_000_000))
	require.NoError(t, v.Deposit(ctx, manager, 1_000_000))
}

func TestSetManagerAuthorization(t *testing.T) {
	v, _, _ := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, v.SetManager(ctx, stranger, stranger), vault.ErrUnauthorized)
	assert.Equal(t, manager, v.Manager())

	require.NoError(t, v.SetManager(ctx, owner, "0xnewmanager"))
	assert.Equal(t, "0xnewmanager", v.Manager())
}

func TestTwoStepOwnershipTransfer(t *testing.T) {
	v, _, _ := newFixture(t)
	ctx := context.Background()
	newOwner := "0xnewowner"

	assert.ErrorIs(t, v.TransferOwnership(ctx, stranger, newOwner), vault.ErrUnauthorized)
	assert.ErrorIs(t, v.TransferOwnership(ctx, owner, ""), vault.ErrZeroAddress)
	assert.ErrorIs(t, v.AcceptOwnership(ctx, newOwner), vault.ErrUnauthorized, "no pending transfer yet")

	require.NoError(t, v.TransferOwnership(ctx, owner, newOwner))
	assert.Equal(t, newOwner, v.PendingOwner())
	assert.Equal(t, owner, v.Owner(), "ownership unchanged until accepted")

	assert.ErrorIs(t, v.AcceptOwnership(ctx, stranger), vault.ErrUnauthorized)

	require.NoError(t, v.AcceptOwnership(ctx, newOwner))
	assert.Equal(t, newOwner, v.Owner())
	assert.Empty(t, v.PendingOwner())

	// Old owner is fully demoted.
	assert.ErrorIs(t, v.UpsertPayment(ctx, owner, "INV-1", recipient, 1), vault.ErrUnauthorized)
	require.NoError(t, v.UpsertPayment(ctx, newOwner, "INV-1", recipient, 1))
}

func TestRescueTokens(t *testing.T) {
	v, tok, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, v.DepositFromManager(ctx, manager, 2_000_000))

	assert.ErrorIs(t, v.RescueTokens(ctx, stranger, tok, stranger, 1), vault.ErrUnauthorized)
	assert.ErrorIs(t, v.RescueTokens(ctx, owner, tok, "", 1), vault.ErrZeroAddress)

	// A stray asset on a different ledger sent to the custody identity.
	stray := token.NewMemoryLedger()
	stray.Mint(custody, 700)
	require.NoError(t, v.RescueTokens(ctx, owner, stray, owner, 700))
	assert.Equal(t, uint64(700), stray.BalanceOf(owner))

	// The custodied asset itself can be rescued: this bypasses payment
	// accounting and is a trust assumption on the owner role.
	require.NoError(t, v.RescueTokens(ctx, owner, tok, owner, 2_000_000))
	assert.Equal(t, uint64(0), v.CustodyBalance())
}

func TestAuditTrail(t *testing.T) {
	v, _, audit := newFixture(t)
	ctx := context.Background()

	require.NoError(t, v.DepositFromManager(ctx, manager, 5_000_000))
	require.NoError(t, v.UpsertPayment(ctx, owner, "INV-1", recipient, 3_000_000))
	require.NoError(t, v.SetPaymentFulfilled(ctx, owner, "INV-1", true))
	require.NoError(t, v.ExecutePayment(ctx, owner, "INV-1"))

	require.Equal(t, 4, audit.Length())
	ok, msg := audit.Verify()
	assert.True(t, ok, msg)

	trail := audit.ByInvoice("INV-1")
	require.Len(t, trail, 3)
	assert.Equal(t, events.TypePaymentRegistered, trail[0].Event.Type)
	assert.Equal(t, events.TypeFulfillmentChanged, trail[1].Event.Type)
	assert.Equal(t, events.TypePaymentExecuted, trail[2].Event.Type)
	assert.Equal(t, uint64(3_000_000), trail[2].Event.Amount)
	assert.Equal(t, recipient, trail[2].Event.Recipient)
}

func TestReupsertAfterExecutionStartsNewCycle(t *testing.T) {
	v, tok, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, v.DepositFromManager(ctx, manager, 10_000_000))
	require.NoError(t, v.UpsertPayment(ctx, owner, "INV-1", recipient, 3_000_000))
	require.NoError(t, v.SetPaymentFulfilled(ctx, owner, "INV-1", true))
	require.NoError(t, v.ExecutePayment(ctx, owner, "INV-1"))

	// Same identifier, fresh cycle: needs a new upsert and a new fulfillment.
	require.NoError(t, v.UpsertPayment(ctx, owner, "INV-1", recipient, 1_000_000))
	assert.ErrorIs(t, v.ExecutePayment(ctx, owner, "INV-1"), vault.ErrConditionNotMet)
	require.NoError(t, v.SetPaymentFulfilled(ctx, owner, "INV-1", true))
	require.NoError(t, v.ExecutePayment(ctx, owner, "INV-1"))

	assert.Equal(t, uint64(4_000_000), tok.BalanceOf(recipient))
}
