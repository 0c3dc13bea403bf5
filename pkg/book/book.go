// Package book implements the matching engine: a price-indexed limit order
// book for unique items with price/time priority, custody-backed
// settlement, and deferred finalization when the counterpart vault is not
// addressable at match time.
package book

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlob/itembook/pkg/critbit"
	"github.com/openlob/itembook/pkg/custody"
	"github.com/openlob/itembook/pkg/settle"
)

// Ledger is the funds surface settlement runs through: escrow capture and
// proceeds credit. *funds.Ledger implements it.
type Ledger interface {
	Withdraw(addr common.Address, denom string, amount uint64) error
	Credit(addr common.Address, denom string, amount uint64) error
}

// BookCap is the privileged capability for one order book: it bypasses the
// access gate and controls gate toggling. Minted once by New, never
// consumed.
type BookCap struct {
	bookID common.Hash
}

// BookID returns the book this capability controls.
func (c BookCap) BookID() common.Hash { return c.bookID }

// DeliverFunc hands a released item to its new owner. The book never holds
// items itself; delivery is the surrounding application's concern (an
// inventory, a wallet, a downstream transfer).
type DeliverFunc func(item *custody.Item, to common.Address)

// Config assembles an order book for one (collection, denomination) pair.
type Config struct {
	Collection string
	Denom      string
	Ledger     Ledger
	Allow      *custody.TradingList
	Deliver    DeliverFunc
}

// OrderBook owns one ascending ask index and one descending bid index
// (descending via Max on the same tree), a FIFO queue per price level, the
// access gate, and the outstanding deferred trade records. Every mutating
// operation is a single atomic unit under the book's lock: all invariant
// checks run before the first state change.
type OrderBook struct {
	mu sync.RWMutex

	id         common.Hash
	collection string
	denom      string

	asks *critbit.Tree[[]*Ask]
	bids *critbit.Tree[[]*Bid]

	gate   Gate
	ledger Ledger
	allow  *custody.TradingList

	deferred map[common.Hash]*DeferredTrade

	deliver DeliverFunc

	// OnTrade, when set, observes every settled trade. Invoked after the
	// settling operation has released the book lock, so hooks may re-enter
	// the read surface (Peek, DeferredTrades).
	OnTrade func(TradeEvent)
}

// New creates an order book and mints its privileged capability.
func New(cfg Config) (*OrderBook, BookCap, error) {
	if cfg.Ledger == nil {
		return nil, BookCap{}, fmt.Errorf("book: ledger is required")
	}
	if cfg.Deliver == nil {
		return nil, BookCap{}, fmt.Errorf("book: deliver func is required")
	}
	id := custody.DeriveID("itembook/book", []byte(cfg.Collection), []byte(cfg.Denom))
	b := &OrderBook{
		id:         id,
		collection: cfg.Collection,
		denom:      cfg.Denom,
		asks:       critbit.New[[]*Ask](),
		bids:       critbit.New[[]*Bid](),
		gate:       OpenGate(),
		ledger:     cfg.Ledger,
		allow:      cfg.Allow,
		deferred:   make(map[common.Hash]*DeferredTrade),
		deliver:    cfg.Deliver,
	}
	return b, BookCap{bookID: id}, nil
}

func (b *OrderBook) ID() common.Hash    { return b.id }
func (b *OrderBook) Collection() string { return b.collection }
func (b *OrderBook) Denom() string      { return b.denom }

// ==============================
// Public (gated) surface
// ==============================

// PlaceBid escrows price plus any commission cut from the buyer and either
// matches the minimum resting ask or rests. A match returns the deferred
// trade record that completes it (the ask's vault is not addressable from
// this call); a resting bid returns nil.
func (b *OrderBook) PlaceBid(buyer common.Address, price uint64, commission *settle.Commission) (*DeferredTrade, error) {
	if !b.gateAllows(ActionPlaceBid) {
		return nil, ErrActionNotPublic
	}
	return b.placeBid(buyer, price, commission)
}

// CancelBid removes the first resting bid at price owned by caller and
// refunds its escrow and commission in full.
func (b *OrderBook) CancelBid(caller common.Address, price uint64) error {
	if !b.gateAllows(ActionCancelBid) {
		return ErrActionNotPublic
	}
	return b.cancelBid(caller, price)
}

// PlaceAsk lists one item at price. The authorization must reference
// exactly the supplied vault and the vault must hold the book's collection.
// If the maximum resting bid covers the price the trade settles inline and
// the returned event describes it; otherwise the ask rests and the event is
// nil.
func (b *OrderBook) PlaceAsk(seller common.Address, price uint64, auth *custody.TransferAuth, vault *custody.Vault, commission *settle.Commission) (*TradeEvent, error) {
	if !b.gateAllows(ActionPlaceAsk) {
		return nil, ErrActionNotPublic
	}
	return b.placeAsk(seller, price, auth, vault, commission)
}

// CancelAsk removes the resting ask for itemID at price and returns its
// transfer authorization to the owner. Only the owner may cancel.
func (b *OrderBook) CancelAsk(caller common.Address, price uint64, itemID custody.ItemID) (*custody.TransferAuth, error) {
	if !b.gateAllows(ActionCancelAsk) {
		return nil, ErrActionNotPublic
	}
	return b.cancelAsk(caller, price, itemID)
}

// BuySpecific fills the resting ask for exactly itemID at its posted price.
// No resting path exists: the call either settles or fails.
func (b *OrderBook) BuySpecific(buyer common.Address, itemID custody.ItemID, price uint64, vault *custody.Vault) (*custody.Item, error) {
	if !b.gateAllows(ActionBuySpecific) {
		return nil, ErrActionNotPublic
	}
	return b.buySpecific(buyer, itemID, price, vault)
}

// ==============================
// Privileged (capability) surface
// ==============================

// The capability surface mirrors the public one without the gate check, so
// a controlling collaborator can put custom eligibility logic in front of
// the core entry points.

func (b *OrderBook) PlaceBidWithCap(cap BookCap, buyer common.Address, price uint64, commission *settle.Commission) (*DeferredTrade, error) {
	if cap.bookID != b.id {
		return nil, ErrBookCapMismatch
	}
	return b.placeBid(buyer, price, commission)
}

func (b *OrderBook) CancelBidWithCap(cap BookCap, caller common.Address, price uint64) error {
	if cap.bookID != b.id {
		return ErrBookCapMismatch
	}
	return b.cancelBid(caller, price)
}

func (b *OrderBook) PlaceAskWithCap(cap BookCap, seller common.Address, price uint64, auth *custody.TransferAuth, vault *custody.Vault, commission *settle.Commission) (*TradeEvent, error) {
	if cap.bookID != b.id {
		return nil, ErrBookCapMismatch
	}
	return b.placeAsk(seller, price, auth, vault, commission)
}

func (b *OrderBook) CancelAskWithCap(cap BookCap, caller common.Address, price uint64, itemID custody.ItemID) (*custody.TransferAuth, error) {
	if cap.bookID != b.id {
		return nil, ErrBookCapMismatch
	}
	return b.cancelAsk(caller, price, itemID)
}

func (b *OrderBook) BuySpecificWithCap(cap BookCap, buyer common.Address, itemID custody.ItemID, price uint64, vault *custody.Vault) (*custody.Item, error) {
	if cap.bookID != b.id {
		return nil, ErrBookCapMismatch
	}
	return b.buySpecific(buyer, itemID, price, vault)
}

// ToggleAction flips one action's availability on the public surface.
func (b *OrderBook) ToggleAction(cap BookCap, action Action, public bool) error {
	if cap.bookID != b.id {
		return ErrBookCapMismatch
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gate.set(action, public)
}

func (b *OrderBook) gateAllows(a Action) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gate.permits(a)
}

// ==============================
// Core operations
// ==============================

func (b *OrderBook) placeBid(buyer common.Address, price uint64, commission *settle.Commission) (*DeferredTrade, error) {
	if price == 0 {
		return nil, fmt.Errorf("book: bid price must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Escrow price plus commission cut together; everything after this
	// either commits or is compensated before returning.
	total := price
	if commission != nil {
		total += commission.Cut
	}
	if err := b.ledger.Withdraw(buyer, b.denom, total); err != nil {
		return nil, err
	}

	if minAsk, err := b.asks.Min(); err == nil && minAsk <= price {
		lvl, _ := b.asks.Get(minAsk)
		ask := (*lvl)[0]

		// The bid's own commission does not depend on the vault; pay it
		// before the level is touched so a failed credit hands the whole
		// escrow back and leaves the book unchanged.
		if commission != nil {
			if err := b.ledger.Credit(commission.Beneficiary, b.denom, commission.Cut); err != nil {
				b.ledger.Credit(buyer, b.denom, total)
				return nil, err
			}
		}

		*lvl = (*lvl)[1:]
		if len(*lvl) == 0 {
			b.asks.Remove(minAsk)
		}

		// The ask's vault is not addressable here; park the match as a
		// deferred record carrying the full bid escrow.
		rec := newDeferredTrade(ask.Auth, settle.Open(b.id), price, ask.Price, buyer, ask.Owner, ask.Commission)
		b.deferred[rec.ID] = rec
		return rec, nil
	}

	bid := &Bid{Offer: price, Owner: buyer, Commission: commission}
	b.pushBid(price, bid)
	return nil, nil
}

func (b *OrderBook) cancelBid(caller common.Address, price uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	lvl, err := b.bids.Get(price)
	if err != nil {
		return ErrOrderNotFound
	}
	for i, bid := range *lvl {
		if bid.Owner != caller {
			continue
		}
		refund := bid.escrowed()
		*lvl = append((*lvl)[:i], (*lvl)[i+1:]...)
		if len(*lvl) == 0 {
			b.bids.Remove(price)
		}
		return b.ledger.Credit(caller, b.denom, refund)
	}
	return ErrOrderNotFound
}

func (b *OrderBook) placeAsk(seller common.Address, price uint64, auth *custody.TransferAuth, vault *custody.Vault, commission *settle.Commission) (*TradeEvent, error) {
	if price == 0 {
		return nil, fmt.Errorf("book: ask price must be positive")
	}
	if auth == nil || vault == nil {
		return nil, ErrCollectionMismatch
	}
	if auth.VaultID() != vault.ID() || vault.Collection() != b.collection {
		return nil, ErrCollectionMismatch
	}
	if commission != nil && commission.Cut >= price {
		return nil, fmt.Errorf("book: ask commission cut %d must be below price %d", commission.Cut, price)
	}

	b.mu.Lock()
	var fire *TradeEvent
	defer func() {
		b.mu.Unlock()
		b.fireTrade(fire)
	}()

	if maxBid, err := b.bids.Max(); err == nil && maxBid >= price {
		lvl, _ := b.bids.Get(maxBid)
		bid := (*lvl)[0]

		// Split over the ask's own requested price, taken out of the bid's
		// larger escrow; release before touching the queue so a custody
		// failure leaves the book unchanged.
		rcpt := settle.Open(b.id)
		if err := rcpt.SplitWithCommission(price, seller, commission); err != nil {
			return nil, err
		}
		item, err := vault.Release(auth, rcpt, b.allow)
		if err != nil {
			return nil, err
		}

		*lvl = (*lvl)[1:]
		if len(*lvl) == 0 {
			b.bids.Remove(maxBid)
		}

		// The authorization is spent and the item is out of custody: the
		// trade is committed. Deliver and record the event before the
		// balance writes so a failed credit cannot strand the item; the
		// error still reports the unapplied credit alongside the event.
		b.deliver(item, bid.Owner)
		ev := b.newTradeEvent(item.ID, price, bid.Owner, seller, false)
		fire = &ev

		if err := b.payout(rcpt); err != nil {
			return &ev, err
		}
		// Residual of the escrow above the ask price is refunded to the
		// buyer; the bid's commission goes to its beneficiary.
		if err := b.ledger.Credit(bid.Owner, b.denom, bid.Offer-price); err != nil {
			return &ev, err
		}
		if bid.Commission != nil {
			if err := b.ledger.Credit(bid.Commission.Beneficiary, b.denom, bid.Commission.Cut); err != nil {
				return &ev, err
			}
		}
		return &ev, nil
	}

	ask := &Ask{Price: price, Auth: auth, Owner: seller, Commission: commission}
	b.pushAsk(price, ask)
	return nil, nil
}

func (b *OrderBook) cancelAsk(caller common.Address, price uint64, itemID custody.ItemID) (*custody.TransferAuth, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	lvl, err := b.asks.Get(price)
	if err != nil {
		return nil, ErrOrderNotFound
	}
	for i, ask := range *lvl {
		if ask.ItemID() != itemID {
			continue
		}
		// Only the owner may cancel.
		if ask.Owner != caller {
			return nil, ErrOwnerMismatch
		}
		*lvl = append((*lvl)[:i], (*lvl)[i+1:]...)
		if len(*lvl) == 0 {
			b.asks.Remove(price)
		}
		return ask.Auth, nil
	}
	return nil, ErrOrderNotFound
}

func (b *OrderBook) buySpecific(buyer common.Address, itemID custody.ItemID, price uint64, vault *custody.Vault) (*custody.Item, error) {
	if vault == nil {
		return nil, ErrCollectionMismatch
	}

	b.mu.Lock()
	var fire *TradeEvent
	defer func() {
		b.mu.Unlock()
		b.fireTrade(fire)
	}()

	lvl, err := b.asks.Get(price)
	if err != nil {
		return nil, ErrOrderNotFound
	}

	idx := -1
	for i, ask := range *lvl {
		if ask.ItemID() == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrOrderNotFound
	}
	ask := (*lvl)[idx]
	if ask.Auth.VaultID() != vault.ID() {
		return nil, ErrCollectionMismatch
	}

	if err := b.ledger.Withdraw(buyer, b.denom, price); err != nil {
		return nil, err
	}

	rcpt := settle.Open(b.id)
	if err := rcpt.SplitWithCommission(price, ask.Owner, ask.Commission); err != nil {
		b.ledger.Credit(buyer, b.denom, price)
		return nil, err
	}
	item, err := vault.Release(ask.Auth, rcpt, b.allow)
	if err != nil {
		b.ledger.Credit(buyer, b.denom, price)
		return nil, err
	}

	*lvl = append((*lvl)[:idx], (*lvl)[idx+1:]...)
	if len(*lvl) == 0 {
		b.asks.Remove(price)
	}

	// Committed once the release succeeds: deliver before the payout so a
	// failed credit cannot strand the item.
	b.deliver(item, buyer)
	ev := b.newTradeEvent(item.ID, price, buyer, ask.Owner, false)
	fire = &ev

	if err := b.payout(rcpt); err != nil {
		return item, err
	}
	return item, nil
}

// FinalizeDeferredTrade supplies the vault reference that was missing at
// match time. Permissionless: any party may call it. The record's
// authorization and receipt are consumed exactly once; on success the
// seller receives the proceeds, the buyer receives the item and any escrow
// above the ask price back. Once the custody release succeeds the item is
// delivered even if a later balance write fails; the error reports the
// unapplied credit.
func (b *OrderBook) FinalizeDeferredTrade(id common.Hash, vault *custody.Vault) (*custody.Item, error) {
	if vault == nil {
		return nil, ErrCollectionMismatch
	}

	b.mu.Lock()
	var fire *TradeEvent
	defer func() {
		b.mu.Unlock()
		b.fireTrade(fire)
	}()

	rec, ok := b.deferred[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if rec.auth.VaultID() != vault.ID() {
		return nil, ErrCollectionMismatch
	}
	if !vault.Has(rec.auth.ItemID()) {
		return nil, ErrItemMismatch
	}

	// The split is appended only once even if an earlier finalize attempt
	// failed after this point; a retried call must not double the entries.
	if rec.receipt.Count() == 0 {
		if err := rec.receipt.SplitWithCommission(rec.AskPrice, rec.Seller, rec.Commission); err != nil {
			return nil, err
		}
	}

	item, err := vault.Release(rec.auth, rec.receipt, b.allow)
	if err != nil {
		return nil, err
	}

	// Authorization and receipt are spent; drop the record so a second
	// finalize cannot find anything to execute.
	delete(b.deferred, id)

	b.deliver(item, rec.Buyer)
	ev := b.newTradeEvent(item.ID, rec.AskPrice, rec.Buyer, rec.Seller, true)
	fire = &ev

	if err := b.payout(rec.receipt); err != nil {
		return item, err
	}
	if err := b.ledger.Credit(rec.Buyer, b.denom, rec.Payment-rec.AskPrice); err != nil {
		return item, err
	}
	return item, nil
}

// payout credits every receipt entry through the funds ledger.
func (b *OrderBook) payout(rcpt *settle.Receipt) error {
	for _, p := range rcpt.Payments() {
		if err := b.ledger.Credit(p.Beneficiary, b.denom, p.Amount); err != nil {
			return err
		}
	}
	return nil
}

func (b *OrderBook) newTradeEvent(itemID custody.ItemID, price uint64, buyer, seller common.Address, deferred bool) TradeEvent {
	return TradeEvent{
		Book:       b.id,
		Collection: b.collection,
		Denom:      b.denom,
		ItemID:     itemID,
		Price:      price,
		Buyer:      buyer,
		Seller:     seller,
		Deferred:   deferred,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// fireTrade runs the OnTrade hook. Must be called with the book lock
// released: hooks are free to re-enter the read surface.
func (b *OrderBook) fireTrade(ev *TradeEvent) {
	if ev == nil || b.OnTrade == nil {
		return
	}
	b.OnTrade(*ev)
}

// pushBid appends at the tail of price's FIFO queue, creating the level if
// absent.
func (b *OrderBook) pushBid(price uint64, bid *Bid) {
	if lvl, err := b.bids.Get(price); err == nil {
		*lvl = append(*lvl, bid)
		return
	}
	b.bids.Insert(price, []*Bid{bid})
}

func (b *OrderBook) pushAsk(price uint64, ask *Ask) {
	if lvl, err := b.asks.Get(price); err == nil {
		*lvl = append(*lvl, ask)
		return
	}
	b.asks.Insert(price, []*Ask{ask})
}

// ==============================
// Read-only queries
// ==============================

// MinAsk returns the lowest resting ask price.
func (b *OrderBook) MinAsk() (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, err := b.asks.Min()
	return p, err == nil
}

// MaxBid returns the highest resting bid price.
func (b *OrderBook) MaxBid() (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, err := b.bids.Max()
	return p, err == nil
}

// Peek returns depth snapshots: asks ascending (best first), bids
// descending (best first).
func (b *OrderBook) Peek() (asks, bids []Level) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.asks.Ascend(func(price uint64, lvl []*Ask) bool {
		asks = append(asks, Level{Price: price, Count: len(lvl)})
		return true
	})
	b.bids.Descend(func(price uint64, lvl []*Bid) bool {
		bids = append(bids, Level{Price: price, Count: len(lvl)})
		return true
	})
	return asks, bids
}

// DeferredTrades returns the outstanding deferred trade records. Records
// never expire; this is the monitoring surface for the unbounded-liability
// window between match and finalize.
func (b *OrderBook) DeferredTrades() []*DeferredTrade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*DeferredTrade, 0, len(b.deferred))
	for _, rec := range b.deferred {
		out = append(out, rec)
	}
	return out
}

// GetDeferred looks up one deferred trade record.
func (b *OrderBook) GetDeferred(id common.Hash) (*DeferredTrade, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.deferred[id]
	return rec, ok
}
