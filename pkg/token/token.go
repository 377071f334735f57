// Package token defines the external fungible-asset ledger the vault custodies
// funds on. The vault trusts this ledger for balance truth and for atomic
// transfer semantics: a transfer either moves the full amount or fails with no
// state change.
package token

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Decimals is the fixed decimal precision of the custodied asset.
// All amounts in the system are denominated in smallest units.
const Decimals = 6

var (
	// ErrInsufficientBalance is returned when the source balance cannot cover a transfer.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrInsufficientAllowance is returned when a pull transfer exceeds the approved allowance.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	// ErrZeroIdentity is returned when a transfer names the zero identity.
	ErrZeroIdentity = errors.New("token: zero identity")
)

// Ledger is the contract surface of the external token.
type Ledger interface {
	// BalanceOf reports the balance of an identity in smallest units.
	BalanceOf(id string) uint64

	// Transfer moves amount from one identity to another.
	Transfer(from, to string, amount uint64) error

	// TransferFrom moves amount out of from's balance on behalf of spender.
	// It is allowance-gated: from must have approved spender beforehand.
	TransferFrom(spender, from, to string, amount uint64) error

	// Approve authorizes spender to pull up to amount from owner's balance.
	Approve(owner, spender string, amount uint64) error

	// Allowance reports the remaining amount spender may pull from owner.
	Allowance(owner, spender string) uint64
}

// FormatUnits renders a smallest-unit amount as a decimal string,
// e.g. 3_000_000 -> "3.000000".
func FormatUnits(amount uint64) string {
	const scale = 1_000_000 // 10^Decimals
	whole := amount / scale
	frac := amount % scale
	return fmt.Sprintf("%d.%06d", whole, frac)
}

// ParseUnits parses a decimal string into smallest units, e.g. "3.5" -> 3_500_000.
// More than Decimals fractional digits is an error rather than silent truncation.
func ParseUnits(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("token: empty amount")
	}

	wholePart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		wholePart, fracPart = s[:i], s[i+1:]
	}
	if wholePart == "" {
		wholePart = "0"
	}
	if len(fracPart) > Decimals {
		return 0, fmt.Errorf("token: amount %q exceeds %d decimal places", s, Decimals)
	}

	whole, err := strconv.ParseUint(wholePart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("token: invalid amount %q: %w", s, err)
	}

	var frac uint64
	if fracPart != "" {
		frac, err = strconv.ParseUint(fracPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("token: invalid amount %q: %w", s, err)
		}
		for i := len(fracPart); i < Decimals; i++ {
			frac *= 10
		}
	}

	const scale = 1_000_000 // 10^Decimals
	if whole > (math.MaxUint64-frac)/scale {
		return 0, fmt.Errorf("token: amount %q exceeds the unit range", s)
	}
	return whole*scale + frac, nil
}
