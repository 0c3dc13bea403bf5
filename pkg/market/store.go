package market

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/openlob/itembook/pkg/book"
	"github.com/openlob/itembook/pkg/custody"
)

// Store persists the marketplace's long-lived records: outstanding deferred
// trade records, per-vault custody inventory, delivered items, depth
// snapshots and trade history. All access goes through the Marketplace's
// mutex.
type Store struct {
	db *pebble.DB
}

// NewStore opens a Pebble database at the given path.
func NewStore(dbPath string) (*Store, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// deferredRecord is the storable shape of a deferred trade record.
type deferredRecord struct {
	ID       common.Hash    `json:"id"`
	Book     common.Hash    `json:"book"`
	ItemID   common.Hash    `json:"item_id"`
	VaultID  common.Hash    `json:"vault_id"`
	Payment  uint64         `json:"payment"`
	AskPrice uint64         `json:"ask_price"`
	Buyer    common.Address `json:"buyer"`
	Seller   common.Address `json:"seller"`
}

// SaveDeferred persists an outstanding deferred trade record.
func (s *Store) SaveDeferred(bookID common.Hash, rec *book.DeferredTrade) error {
	data, err := json.Marshal(deferredRecord{
		ID:       rec.ID,
		Book:     bookID,
		ItemID:   rec.ItemID(),
		VaultID:  rec.VaultID(),
		Payment:  rec.Payment,
		AskPrice: rec.AskPrice,
		Buyer:    rec.Buyer,
		Seller:   rec.Seller,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal deferred record: %w", err)
	}
	if err := s.db.Set(deferredKey(bookID, rec.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save deferred record: %w", err)
	}
	return nil
}

// DeleteDeferred removes a finalized record.
func (s *Store) DeleteDeferred(bookID, recID common.Hash) error {
	if err := s.db.Delete(deferredKey(bookID, recID), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete deferred record: %w", err)
	}
	return nil
}

// SaveVaultItem records an item entering custody; DeleteVaultItem records
// it leaving.
func (s *Store) SaveVaultItem(vaultID common.Hash, item *custody.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	if err := s.db.Set(vaultItemKey(vaultID, item.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save vault item: %w", err)
	}
	return nil
}

func (s *Store) DeleteVaultItem(vaultID, itemID common.Hash) error {
	if err := s.db.Delete(vaultItemKey(vaultID, itemID), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete vault item: %w", err)
	}
	return nil
}

// SaveInventoryItem persists a delivered item under its new owner.
func (s *Store) SaveInventoryItem(owner common.Address, item *custody.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	if err := s.db.Set(inventoryKey(owner, item.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save inventory item: %w", err)
	}
	return nil
}

// DeleteInventoryItem removes an item from an owner's holdings (it went
// back into a vault).
func (s *Store) DeleteInventoryItem(owner common.Address, itemID common.Hash) error {
	if err := s.db.Delete(inventoryKey(owner, itemID), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete inventory item: %w", err)
	}
	return nil
}

// LoadInventory loads every delivered item held by an owner.
func (s *Store) LoadInventory(owner common.Address) ([]*custody.Item, error) {
	prefix := inventoryPrefix(owner)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var items []*custody.Item
	for iter.First(); iter.Valid(); iter.Next() {
		var item custody.Item
		if err := json.Unmarshal(iter.Value(), &item); err != nil {
			continue // Skip invalid entries
		}
		items = append(items, &item)
	}
	return items, nil
}

// depthRecord is the latest depth snapshot of one book.
type depthRecord struct {
	Asks []book.Level `json:"asks"`
	Bids []book.Level `json:"bids"`
}

// SaveDepth persists the current depth snapshot of a book.
func (s *Store) SaveDepth(bookID common.Hash, asks, bids []book.Level) error {
	data, err := json.Marshal(depthRecord{Asks: asks, Bids: bids})
	if err != nil {
		return fmt.Errorf("failed to marshal depth: %w", err)
	}
	// NoSync: the snapshot is advisory and rewritten on every mutation.
	if err := s.db.Set(depthKey(bookID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save depth: %w", err)
	}
	return nil
}

// SaveTrade appends a settled trade to the book's history.
func (s *Store) SaveTrade(ev book.TradeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}
	if err := s.db.Set(tradeKey(ev.Book, ev.Timestamp, ev.ItemID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// LoadRecentTrades returns the most recent trades of a book, newest first.
func (s *Store) LoadRecentTrades(bookID common.Hash, limit int) ([]book.TradeEvent, error) {
	prefix := tradePrefix(bookID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []book.TradeEvent
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var ev book.TradeEvent
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			continue
		}
		trades = append(trades, ev)
	}
	return trades, nil
}
