// Package settle holds the trade receipt: an append-only list of payment
// entries attached to a single trade. A receipt is opened when a match
// starts, accumulates payments until the agreed price is fully accounted
// for, and is consumed exactly once as proof-of-payment when the custody
// vault releases the traded item.
package settle

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrReceiptClosed = errors.New("settle: receipt already consumed")
	ErrZeroPayment   = errors.New("settle: payment amount must be positive")
)

// Payment is a single proceeds entry: amount owed to a beneficiary.
type Payment struct {
	Amount      uint64         `json:"amount"`
	Beneficiary common.Address `json:"beneficiary"`
}

// Commission is a fee carved out of trade proceeds for a third-party
// facilitator. The cut must be strictly less than the trade price.
type Commission struct {
	Beneficiary common.Address `json:"beneficiary"`
	Cut         uint64         `json:"cut"`
}

// Receipt records the proceeds split of one trade. The origin identifies
// the order book that produced the match; the exclusive custody release
// path checks it against the collection's trading allow-list.
//
// Lifecycle: Open -> 1..N AddPayment -> Close (exactly once).
type Receipt struct {
	origin   common.Hash
	payments []Payment
	closed   bool
}

// Open creates an empty receipt for a trade originated by the given book.
func Open(origin common.Hash) *Receipt {
	return &Receipt{origin: origin}
}

// Origin returns the identity of the book that opened the receipt.
func (r *Receipt) Origin() common.Hash { return r.origin }

// AddPayment appends a proceeds entry. The ledger itself imposes no upper
// bound; the matching engine is responsible for making the entries sum to
// the agreed trade price before presenting the receipt to the vault.
func (r *Receipt) AddPayment(amount uint64, beneficiary common.Address) error {
	if r.closed {
		return ErrReceiptClosed
	}
	if amount == 0 {
		return ErrZeroPayment
	}
	r.payments = append(r.payments, Payment{Amount: amount, Beneficiary: beneficiary})
	return nil
}

// SplitWithCommission appends the canonical proceeds split for a trade at
// the given total: (total - cut) to the primary beneficiary, then cut to
// the commission beneficiary. With no commission the whole total goes to
// the primary beneficiary. Every settlement path goes through here.
func (r *Receipt) SplitWithCommission(total uint64, primary common.Address, c *Commission) error {
	if c == nil {
		return r.AddPayment(total, primary)
	}
	if c.Cut >= total {
		return fmt.Errorf("settle: commission cut %d must be below trade price %d", c.Cut, total)
	}
	if err := r.AddPayment(total-c.Cut, primary); err != nil {
		return err
	}
	return r.AddPayment(c.Cut, c.Beneficiary)
}

// Total returns the sum of all payment entries.
func (r *Receipt) Total() uint64 {
	var sum uint64
	for _, p := range r.payments {
		sum += p.Amount
	}
	return sum
}

// Count returns the number of payment entries.
func (r *Receipt) Count() int { return len(r.payments) }

// Payments returns a copy of the entries.
func (r *Receipt) Payments() []Payment {
	out := make([]Payment, len(r.payments))
	copy(out, r.payments)
	return out
}

// Close consumes the receipt. A second Close fails, which is what makes a
// receipt usable as proof-of-payment exactly once.
func (r *Receipt) Close() error {
	if r.closed {
		return ErrReceiptClosed
	}
	r.closed = true
	return nil
}

// Closed reports whether the receipt has been consumed.
func (r *Receipt) Closed() bool { return r.closed }
