package token

import "sync"

// TransferHook is invoked after a transfer has moved balances but before the
// call returns. If it returns an error the transfer is rolled back and the
// error surfaced to the caller. Tests use it to model transfer failure and
// reentrant callbacks from the token into the calling contract.
type TransferHook func(from, to string, amount uint64) error

// MemoryLedger is a mutex-guarded in-memory token ledger with allowances.
// It backs the local runtime mode and tests; transfers are atomic.
type MemoryLedger struct {
	mu         sync.Mutex
	balances   map[string]uint64
	allowances map[string]map[string]uint64
	hook       TransferHook
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:   make(map[string]uint64),
		allowances: make(map[string]map[string]uint64),
	}
}

// Mint credits amount to an identity out of thin air. Test/bootstrap helper.
func (l *MemoryLedger) Mint(to string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[to] += amount
}

// SetTransferHook installs a hook run on every successful balance move.
func (l *MemoryLedger) SetTransferHook(h TransferHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = h
}

// BalanceOf implements Ledger.
func (l *MemoryLedger) BalanceOf(id string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[id]
}

// Allowance implements Ledger.
func (l *MemoryLedger) Allowance(owner, spender string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[owner][spender]
}

// Approve implements Ledger.
func (l *MemoryLedger) Approve(owner, spender string, amount uint64) error {
	if owner == "" || spender == "" {
		return ErrZeroIdentity
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[string]uint64)
	}
	l.allowances[owner][spender] = amount
	return nil
}

// Transfer implements Ledger.
func (l *MemoryLedger) Transfer(from, to string, amount uint64) error {
	l.mu.Lock()
	if from == "" || to == "" {
		l.mu.Unlock()
		return ErrZeroIdentity
	}
	if l.balances[from] < amount {
		l.mu.Unlock()
		return ErrInsufficientBalance
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	hook := l.hook
	// The hook runs outside the ledger lock so a callback may re-enter the
	// token or the contract that initiated the transfer.
	l.mu.Unlock()

	if hook != nil {
		if err := hook(from, to, amount); err != nil {
			l.mu.Lock()
			l.balances[to] -= amount
			l.balances[from] += amount
			l.mu.Unlock()
			return err
		}
	}
	return nil
}

// TransferFrom implements Ledger. The allowance is decremented only when the
// whole operation succeeds.
func (l *MemoryLedger) TransferFrom(spender, from, to string, amount uint64) error {
	l.mu.Lock()
	if spender == "" || from == "" || to == "" {
		l.mu.Unlock()
		return ErrZeroIdentity
	}
	if l.allowances[from][spender] < amount {
		l.mu.Unlock()
		return ErrInsufficientAllowance
	}
	if l.balances[from] < amount {
		l.mu.Unlock()
		return ErrInsufficientBalance
	}
	l.allowances[from][spender] -= amount
	l.balances[from] -= amount
	l.balances[to] += amount
	hook := l.hook
	l.mu.Unlock()

	if hook != nil {
		if err := hook(from, to, amount); err != nil {
			l.mu.Lock()
			l.balances[to] -= amount
			l.balances[from] += amount
			l.allowances[from][spender] += amount
			l.mu.Unlock()
			return err
		}
	}
	return nil
}
