// Package market is the application facade: it registers order books and
// custody vaults, routes the public trading operations to them, and
// persists the long-lived marketplace records (balances live in the funds
// ledger's own store).
package market

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/openlob/itembook/pkg/book"
	"github.com/openlob/itembook/pkg/custody"
	"github.com/openlob/itembook/pkg/funds"
	"github.com/openlob/itembook/pkg/settle"
)

type bookHandle struct {
	book *book.OrderBook
	cap  book.BookCap
}

type vaultHandle struct {
	vault *custody.Vault
	cap   custody.OwnerCap
}

// BookInfo describes one registered trading pair.
type BookInfo struct {
	ID         common.Hash `json:"id"`
	Collection string      `json:"collection"`
	Denom      string      `json:"denom"`
}

// Marketplace manages all books, vaults and delivered items in a
// thread-safe manner. It acts as the custodian: vault owner capabilities
// stay inside and authorizations are minted on behalf of verified owners.
type Marketplace struct {
	mu sync.RWMutex

	ledger *funds.Ledger
	store  *Store
	log    *zap.SugaredLogger

	books    map[common.Hash]*bookHandle
	bySymbol map[string]common.Hash
	vaults   map[custody.VaultID]*vaultHandle
	allows   map[string]*custody.TradingList

	inventory map[common.Address]map[custody.ItemID]*custody.Item

	// OnTrade observes every settled trade across all books.
	OnTrade func(book.TradeEvent)
}

// New creates a marketplace with Pebble persistence under dataDir.
func New(dataDir string, logger *zap.SugaredLogger) (*Marketplace, error) {
	ledger, err := funds.NewLedger(filepath.Join(dataDir, "funds.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create funds ledger: %w", err)
	}
	store, err := NewStore(filepath.Join(dataDir, "market.db"))
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("failed to create market store: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Marketplace{
		ledger:    ledger,
		store:     store,
		log:       logger,
		books:     make(map[common.Hash]*bookHandle),
		bySymbol:  make(map[string]common.Hash),
		vaults:    make(map[custody.VaultID]*vaultHandle),
		allows:    make(map[string]*custody.TradingList),
		inventory: make(map[common.Address]map[custody.ItemID]*custody.Item),
	}, nil
}

// Close closes the underlying databases.
func (m *Marketplace) Close() error {
	if err := m.ledger.Close(); err != nil {
		m.store.Close()
		return err
	}
	return m.store.Close()
}

// Ledger exposes the funds ledger for deposits, withdrawals and queries.
func (m *Marketplace) Ledger() *funds.Ledger { return m.ledger }

func symbol(collection, denom string) string { return collection + "/" + denom }

// ==============================
// Registration
// ==============================

// CreateOrderBook registers a book for one (collection, denomination) pair
// and puts it on the collection's trading allow-list. Returns an error if
// the pair already trades.
func (m *Marketplace) CreateOrderBook(collection, denom string) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sym := symbol(collection, denom)
	if _, exists := m.bySymbol[sym]; exists {
		return common.Hash{}, fmt.Errorf("market: pair %s already registered", sym)
	}

	allow, ok := m.allows[collection]
	if !ok {
		allow = custody.NewTradingList(collection)
		m.allows[collection] = allow
	}

	b, cap, err := book.New(book.Config{
		Collection: collection,
		Denom:      denom,
		Ledger:     m.ledger,
		Allow:      allow,
		Deliver:    m.deliverItem,
	})
	if err != nil {
		return common.Hash{}, err
	}
	allow.Add(b.ID())
	b.OnTrade = m.handleTrade

	m.books[b.ID()] = &bookHandle{book: b, cap: cap}
	m.bySymbol[sym] = b.ID()
	m.log.Infow("order_book_created", "book", b.ID().Hex(), "pair", sym)
	return b.ID(), nil
}

// CreateVault creates a custody vault for one (collection, owner) pair.
// The owner capability stays inside the marketplace, which mints
// authorizations after verifying the caller.
func (m *Marketplace) CreateVault(collection string, owner common.Address) (custody.VaultID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, cap := custody.NewVault(collection, owner)
	m.vaults[v.ID()] = &vaultHandle{vault: v, cap: cap}
	m.log.Infow("vault_created", "vault", v.ID().Hex(), "collection", collection, "owner", owner.Hex())
	return v.ID(), nil
}

// MintItem creates a fresh item in the vault's collection and deposits it.
func (m *Marketplace) MintItem(vaultID custody.VaultID, name string) (custody.ItemID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vh, ok := m.vaults[vaultID]
	if !ok {
		return custody.ItemID{}, fmt.Errorf("market: vault %s not found", vaultID.Hex())
	}
	item := &custody.Item{
		ID:         custody.DeriveID("itembook/item", []byte(name)),
		Collection: vh.vault.Collection(),
	}
	if err := vh.vault.Deposit(vh.cap, item); err != nil {
		return custody.ItemID{}, err
	}
	if err := m.store.SaveVaultItem(vaultID, item); err != nil {
		return custody.ItemID{}, err
	}
	return item.ID, nil
}

// DepositItem puts an item from the owner's delivered inventory back into
// custody, so it can be listed again.
func (m *Marketplace) DepositItem(vaultID custody.VaultID, owner common.Address, itemID custody.ItemID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	vh, ok := m.vaults[vaultID]
	if !ok {
		return fmt.Errorf("market: vault %s not found", vaultID.Hex())
	}
	if vh.vault.Owner() != owner {
		return book.ErrOwnerMismatch
	}
	held := m.heldLocked(owner)
	item, ok := held[itemID]
	if !ok {
		return fmt.Errorf("market: item %s not held by %s", itemID.Hex(), owner.Hex())
	}
	if err := vh.vault.Deposit(vh.cap, item); err != nil {
		return err
	}
	delete(held, itemID)
	if err := m.store.DeleteInventoryItem(owner, itemID); err != nil {
		return err
	}
	return m.store.SaveVaultItem(vaultID, item)
}

// ==============================
// Trading operations
// ==============================

func (m *Marketplace) bookHandle(id common.Hash) (*bookHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bh, ok := m.books[id]
	if !ok {
		return nil, fmt.Errorf("market: book %s not found", id.Hex())
	}
	return bh, nil
}

func (m *Marketplace) vaultHandle(id custody.VaultID) (*vaultHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vh, ok := m.vaults[id]
	if !ok {
		return nil, fmt.Errorf("market: vault %s not found", id.Hex())
	}
	return vh, nil
}

// PlaceBid escrows funds and either matches (returning the deferred trade
// record id to finalize) or rests. A zero hash means the bid rests.
func (m *Marketplace) PlaceBid(bookID common.Hash, buyer common.Address, price uint64, commission *settle.Commission) (common.Hash, error) {
	bh, err := m.bookHandle(bookID)
	if err != nil {
		return common.Hash{}, err
	}
	rec, err := bh.book.PlaceBid(buyer, price, commission)
	if err != nil {
		return common.Hash{}, err
	}
	if rec == nil {
		m.saveDepth(bh)
		m.log.Infow("bid_rested", "book", bookID.Hex(), "buyer", buyer.Hex(), "price", price)
		return common.Hash{}, nil
	}
	if err := m.store.SaveDeferred(bookID, rec); err != nil {
		m.log.Errorw("deferred_record_persist_failed", "record", rec.ID.Hex(), "err", err)
	}
	m.saveDepth(bh)
	m.log.Infow("bid_matched_deferred", "book", bookID.Hex(), "record", rec.ID.Hex(), "item", rec.ItemID().Hex())
	return rec.ID, nil
}

// CancelBid refunds the caller's resting bid at price.
func (m *Marketplace) CancelBid(bookID common.Hash, caller common.Address, price uint64) error {
	bh, err := m.bookHandle(bookID)
	if err != nil {
		return err
	}
	if err := bh.book.CancelBid(caller, price); err != nil {
		return err
	}
	m.saveDepth(bh)
	m.log.Infow("bid_cancelled", "book", bookID.Hex(), "caller", caller.Hex(), "price", price)
	return nil
}

// PlaceAsk lists an item held in the seller's vault. The marketplace mints
// an exclusive authorization on the seller's behalf after verifying vault
// ownership.
func (m *Marketplace) PlaceAsk(bookID common.Hash, vaultID custody.VaultID, seller common.Address, itemID custody.ItemID, price uint64, commission *settle.Commission) error {
	bh, err := m.bookHandle(bookID)
	if err != nil {
		return err
	}
	vh, err := m.vaultHandle(vaultID)
	if err != nil {
		return err
	}
	if vh.vault.Owner() != seller {
		return book.ErrOwnerMismatch
	}
	auth, err := vh.vault.MintAuth(vh.cap, itemID, custody.AuthExclusive)
	if err != nil {
		return err
	}

	ev, err := bh.book.PlaceAsk(seller, price, auth, vh.vault, commission)
	if ev != nil {
		// Settled inline against a resting bid; the item left custody even
		// when a balance write failed afterwards.
		if derr := m.store.DeleteVaultItem(vaultID, itemID); derr != nil {
			m.log.Errorw("vault_item_delete_failed", "item", itemID.Hex(), "err", derr)
		}
	}
	if err != nil {
		return err
	}
	m.saveDepth(bh)
	if ev != nil {
		m.log.Infow("ask_settled_inline", "book", bookID.Hex(), "item", itemID.Hex(), "price", ev.Price)
		return nil
	}
	m.log.Infow("ask_rested", "book", bookID.Hex(), "item", itemID.Hex(), "price", price)
	return nil
}

// CancelAsk removes the caller's resting ask. The unconsumed authorization
// is discarded; the item never left custody.
func (m *Marketplace) CancelAsk(bookID common.Hash, caller common.Address, price uint64, itemID custody.ItemID) error {
	bh, err := m.bookHandle(bookID)
	if err != nil {
		return err
	}
	if _, err := bh.book.CancelAsk(caller, price, itemID); err != nil {
		return err
	}
	m.saveDepth(bh)
	m.log.Infow("ask_cancelled", "book", bookID.Hex(), "item", itemID.Hex(), "price", price)
	return nil
}

// BuySpecific fills the resting ask for exactly itemID at its posted price.
func (m *Marketplace) BuySpecific(bookID common.Hash, buyer common.Address, itemID custody.ItemID, price uint64, vaultID custody.VaultID) (*custody.Item, error) {
	bh, err := m.bookHandle(bookID)
	if err != nil {
		return nil, err
	}
	vh, err := m.vaultHandle(vaultID)
	if err != nil {
		return nil, err
	}
	item, err := bh.book.BuySpecific(buyer, itemID, price, vh.vault)
	if item != nil {
		// Delivered even when a balance write failed afterwards.
		if derr := m.store.DeleteVaultItem(vaultID, itemID); derr != nil {
			m.log.Errorw("vault_item_delete_failed", "item", itemID.Hex(), "err", derr)
		}
	}
	if err != nil {
		return item, err
	}
	m.saveDepth(bh)
	return item, nil
}

// Finalize completes a deferred trade by supplying the vault reference that
// was missing at match time. Permissionless.
func (m *Marketplace) Finalize(bookID, recID common.Hash, vaultID custody.VaultID) (*custody.Item, error) {
	bh, err := m.bookHandle(bookID)
	if err != nil {
		return nil, err
	}
	vh, err := m.vaultHandle(vaultID)
	if err != nil {
		return nil, err
	}
	item, err := bh.book.FinalizeDeferredTrade(recID, vh.vault)
	if item != nil {
		// The record is consumed and the item delivered even when a balance
		// write failed afterwards.
		if derr := m.store.DeleteDeferred(bookID, recID); derr != nil {
			m.log.Errorw("deferred_record_delete_failed", "record", recID.Hex(), "err", derr)
		}
		if derr := m.store.DeleteVaultItem(vaultID, item.ID); derr != nil {
			m.log.Errorw("vault_item_delete_failed", "item", item.ID.Hex(), "err", derr)
		}
	}
	if err != nil {
		return item, err
	}
	m.log.Infow("deferred_trade_finalized", "book", bookID.Hex(), "record", recID.Hex(), "item", item.ID.Hex())
	return item, nil
}

// SetAction flips one action's public availability on a book's gate.
func (m *Marketplace) SetAction(bookID common.Hash, action book.Action, public bool) error {
	bh, err := m.bookHandle(bookID)
	if err != nil {
		return err
	}
	if err := bh.book.ToggleAction(bh.cap, action, public); err != nil {
		return err
	}
	m.log.Infow("gate_toggled", "book", bookID.Hex(), "action", action.String(), "public", public)
	return nil
}

// ==============================
// Queries
// ==============================

// Book returns the order book with the given id.
func (m *Marketplace) Book(id common.Hash) (*book.OrderBook, error) {
	bh, err := m.bookHandle(id)
	if err != nil {
		return nil, err
	}
	return bh.book, nil
}

// BookBySymbol resolves a "COLLECTION/DENOM" pair.
func (m *Marketplace) BookBySymbol(sym string) (*book.OrderBook, error) {
	m.mu.RLock()
	id, ok := m.bySymbol[sym]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("market: pair %s not found", sym)
	}
	return m.Book(id)
}

// ListBooks returns every registered trading pair.
func (m *Marketplace) ListBooks() []BookInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]BookInfo, 0, len(m.books))
	for id, bh := range m.books {
		out = append(out, BookInfo{ID: id, Collection: bh.book.Collection(), Denom: bh.book.Denom()})
	}
	return out
}

// Vault returns the vault with the given id.
func (m *Marketplace) Vault(id custody.VaultID) (*custody.Vault, error) {
	vh, err := m.vaultHandle(id)
	if err != nil {
		return nil, err
	}
	return vh.vault, nil
}

// Inventory returns the delivered items held by an owner.
func (m *Marketplace) Inventory(owner common.Address) []*custody.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	held := m.heldLocked(owner)
	out := make([]*custody.Item, 0, len(held))
	for _, item := range held {
		out = append(out, item)
	}
	return out
}

// heldLocked returns the owner's holdings, loading from Pebble on first
// touch. Caller holds the write lock.
func (m *Marketplace) heldLocked(owner common.Address) map[custody.ItemID]*custody.Item {
	held, ok := m.inventory[owner]
	if ok {
		return held
	}
	held = make(map[custody.ItemID]*custody.Item)
	if items, err := m.store.LoadInventory(owner); err == nil {
		for _, item := range items {
			held[item.ID] = item
		}
	}
	m.inventory[owner] = held
	return held
}

// RecentTrades returns a book's most recent settled trades, newest first.
func (m *Marketplace) RecentTrades(bookID common.Hash, limit int) ([]book.TradeEvent, error) {
	return m.store.LoadRecentTrades(bookID, limit)
}

// ==============================
// Internal hooks
// ==============================

// deliverItem is the books' delivery sink: record the new owner and
// persist.
func (m *Marketplace) deliverItem(item *custody.Item, to common.Address) {
	m.mu.Lock()
	m.heldLocked(to)[item.ID] = item
	m.mu.Unlock()

	if err := m.store.SaveInventoryItem(to, item); err != nil {
		m.log.Errorw("inventory_persist_failed", "item", item.ID.Hex(), "owner", to.Hex(), "err", err)
	}
}

// handleTrade persists trade history and forwards to the app-level hook.
func (m *Marketplace) handleTrade(ev book.TradeEvent) {
	if err := m.store.SaveTrade(ev); err != nil {
		m.log.Errorw("trade_persist_failed", "item", ev.ItemID.Hex(), "err", err)
	}
	if m.OnTrade != nil {
		m.OnTrade(ev)
	}
}

func (m *Marketplace) saveDepth(bh *bookHandle) {
	asks, bids := bh.book.Peek()
	if err := m.store.SaveDepth(bh.book.ID(), asks, bids); err != nil {
		m.log.Errorw("depth_persist_failed", "book", bh.book.ID().Hex(), "err", err)
	}
}
