package brain_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpay/vault/pkg/brain"
	"github.com/agentpay/vault/pkg/executor"
	"github.com/agentpay/vault/pkg/token"
	"github.com/agentpay/vault/pkg/vault"
)

// TestEndToEndAgainstExecutor runs the full stack: brain -> HTTP client ->
// executor -> vault -> token ledger.
func TestEndToEndAgainstExecutor(t *testing.T) {
	const (
		operator  = "0xoperator"
		custody   = "0xvault"
		recipient = "0xrecipient"
	)
	signingKey := []byte("shared-test-key")

	tok := token.NewMemoryLedger()
	tok.Mint(operator, 10_000_000)
	require.NoError(t, tok.Approve(operator, custody, 10_000_000))

	v := vault.New(operator, custody, tok).WithManager(operator)
	srv := executor.NewServer(v, tok)
	ts := httptest.NewServer(srv.Handler(executor.NewJWTValidator(signingKey), nil, executor.LimitPolicy{}, nil))
	defer ts.Close()

	client := brain.NewHTTPClient(ts.URL, operator, signingKey)
	m := brain.NewMonitor(client)
	ctx := context.Background()

	// The brain's pre-check reads the operator's real funding balance.
	balance, err := client.CheckBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000), balance)

	require.NoError(t, m.CreatePayment(ctx, "INV-E2E", recipient, 3_000_000))
	require.NoError(t, m.StartMonitoring(ctx, "INV-E2E"))

	balance, err = client.CheckBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7_000_000), balance, "funding moved from operator to custody")

	require.NoError(t, m.ConfirmCondition(ctx, "INV-E2E"))

	state, _ := m.State("INV-E2E")
	assert.Equal(t, brain.StatePaid, state)
	assert.Equal(t, uint64(3_000_000), tok.BalanceOf(recipient))

	// Reconcile agrees with the vault's cleared record.
	state, err = m.Reconcile(ctx, "INV-E2E")
	require.NoError(t, err)
	assert.Equal(t, brain.StatePaid, state)
}

// TestClientSurfacesStableErrorCode verifies the INSUFFICIENT_BALANCE code
// travels from the executor through the typed client error.
func TestClientSurfacesStableErrorCode(t *testing.T) {
	const (
		operator = "0xoperator"
		custody  = "0xvault"
	)
	signingKey := []byte("shared-test-key")

	tok := token.NewMemoryLedger()
	v := vault.New(operator, custody, tok).WithManager(operator)
	srv := executor.NewServer(v, tok)
	ts := httptest.NewServer(srv.Handler(executor.NewJWTValidator(signingKey), nil, executor.LimitPolicy{}, nil))
	defer ts.Close()

	client := brain.NewHTTPClient(ts.URL, operator, signingKey)

	// Manager funding fails: the operator holds no tokens and gave no allowance.
	err := client.CreateOnChain(context.Background(), "INV-X", "0xrecipient", 1_000_000)
	require.Error(t, err)

	var apiErr *brain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, executor.CodeInsufficientBalance, apiErr.Code)
	assert.Equal(t, 402, apiErr.Status)
}
