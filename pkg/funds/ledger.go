// Package funds tracks fungible balances per (address, denomination) and
// provides the escrow primitives the matching engine builds on. In-memory
// cache over Pebble persistence, mirroring the account layer's design.
package funds

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInsufficientFunds = errors.New("funds: insufficient balance")

// Ledger manages all balances in a thread-safe manner.
type Ledger struct {
	mu       sync.RWMutex
	balances map[common.Address]map[string]uint64
	store    *Store
}

// NewLedger creates a ledger with Pebble persistence at dbPath.
func NewLedger(dbPath string) (*Ledger, error) {
	store, err := NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	return &Ledger{
		balances: make(map[common.Address]map[string]uint64),
		store:    store,
	}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error { return l.store.Close() }

// getLocked returns the denom map for addr, loading from Pebble on first
// touch. Caller holds the write lock.
func (l *Ledger) getLocked(addr common.Address) map[string]uint64 {
	bals, ok := l.balances[addr]
	if ok {
		return bals
	}
	bals, err := l.store.LoadBalances(addr)
	if err != nil || bals == nil {
		bals = make(map[string]uint64)
	}
	l.balances[addr] = bals
	return bals
}

// Balance returns the balance of addr in denom.
func (l *Ledger) Balance(addr common.Address, denom string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getLocked(addr)[denom]
}

// Deposit credits amount to addr.
func (l *Ledger) Deposit(addr common.Address, denom string, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("funds: deposit amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bals := l.getLocked(addr)
	bals[denom] += amount
	return l.store.SaveBalance(addr, denom, bals[denom])
}

// Withdraw debits amount from addr, failing with ErrInsufficientFunds if
// the balance cannot cover it. This is the escrow-capture primitive: the
// matching engine withdraws into an order and credits back on cancel.
func (l *Ledger) Withdraw(addr common.Address, denom string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bals := l.getLocked(addr)
	if bals[denom] < amount {
		return fmt.Errorf("%w: have %d %s, need %d", ErrInsufficientFunds, bals[denom], denom, amount)
	}
	bals[denom] -= amount
	return l.store.SaveBalance(addr, denom, bals[denom])
}

// Credit returns previously escrowed funds (or pays out trade proceeds) to
// addr. Unlike Deposit it tolerates a zero amount so settlement paths can
// pass residuals through unconditionally.
func (l *Ledger) Credit(addr common.Address, denom string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bals := l.getLocked(addr)
	bals[denom] += amount
	return l.store.SaveBalance(addr, denom, bals[denom])
}
