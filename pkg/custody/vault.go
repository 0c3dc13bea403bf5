// Package custody implements the vault that holds items on behalf of an
// owner and gates their release behind single-use transfer authorizations
// plus proof of settlement.
package custody

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlob/itembook/pkg/settle"
)

var (
	ErrCapMismatch   = errors.New("custody: capability does not control this vault")
	ErrVaultMismatch = errors.New("custody: authorization scoped to a different vault")
	ErrItemNotFound  = errors.New("custody: item not in vault")
	ErrAuthConsumed  = errors.New("custody: authorization already consumed")
	ErrAuthStale     = errors.New("custody: authorization predates current custody of the item")
	ErrEmptyReceipt  = errors.New("custody: exclusive release requires at least one payment entry")
	ErrNotAllowed    = errors.New("custody: originating book not on the trading allow-list")
	ErrItemExists    = errors.New("custody: item already in vault")
)

// entry is one item in custody. The serial bumps on every deposit, so an
// authorization minted during an earlier custody period can never release
// the item after it has left and come back.
type entry struct {
	item   *Item
	serial uint64
}

// Vault holds items of one collection for one owner. Items are reachable
// only through a valid, unconsumed transfer authorization scoped to this
// exact vault.
type Vault struct {
	mu         sync.RWMutex
	id         VaultID
	collection string
	owner      common.Address
	items      map[ItemID]*entry
	nextSerial uint64
}

// NewVault creates a vault for one (collection, owner) pair and mints its
// owner capability. The capability is the only way to put items in or mint
// authorizations, and it is never consumed.
func NewVault(collection string, owner common.Address) (*Vault, OwnerCap) {
	id := DeriveID("itembook/vault", []byte(collection), owner.Bytes())
	v := &Vault{
		id:         id,
		collection: collection,
		owner:      owner,
		items:      make(map[ItemID]*entry),
	}
	return v, OwnerCap{vaultID: id}
}

func (v *Vault) ID() VaultID        { return v.id }
func (v *Vault) Collection() string { return v.collection }
func (v *Vault) Owner() common.Address {
	return v.owner
}

// Deposit places an item into custody. Fails if the capability controls a
// different vault, the item belongs to another collection, or the item is
// already inside.
func (v *Vault) Deposit(cap OwnerCap, item *Item) error {
	if cap.vaultID != v.id {
		return ErrCapMismatch
	}
	if item.Collection != v.collection {
		return fmt.Errorf("custody: item collection %q does not match vault collection %q", item.Collection, v.collection)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.items[item.ID]; ok {
		return ErrItemExists
	}
	v.nextSerial++
	v.items[item.ID] = &entry{item: item, serial: v.nextSerial}
	return nil
}

// Has reports whether the item is currently in custody.
func (v *Vault) Has(id ItemID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.items[id]
	return ok
}

// Items returns a snapshot of the item identities in custody.
func (v *Vault) Items() []ItemID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]ItemID, 0, len(v.items))
	for id := range v.items {
		out = append(out, id)
	}
	return out
}

// MintAuth produces a single-use transfer authorization scoped to
// (vault id, item id). Fails unless the capability controls this vault and
// the item is in custody.
func (v *Vault) MintAuth(cap OwnerCap, itemID ItemID, kind AuthKind) (*TransferAuth, error) {
	if cap.vaultID != v.id {
		return nil, ErrCapMismatch
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.items[itemID]
	if !ok {
		return nil, ErrItemNotFound
	}
	return &TransferAuth{
		vaultID: v.id,
		itemID:  itemID,
		kind:    kind,
		serial:  e.serial,
	}, nil
}

// Release consumes the authorization and the receipt together and returns
// the item to the caller. For exclusive-strength authorizations the receipt
// must carry at least one payment entry and its originating book must be on
// the supplied allow-list (list may be nil for ordinary authorizations).
//
// A successful release removes the vault entry, so every other
// authorization minted for the same item dangles permanently.
func (v *Vault) Release(auth *TransferAuth, receipt *settle.Receipt, list *TradingList) (*Item, error) {
	if auth == nil {
		return nil, ErrAuthConsumed
	}
	if auth.vaultID != v.id {
		return nil, ErrVaultMismatch
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if auth.spent {
		return nil, ErrAuthConsumed
	}
	e, ok := v.items[auth.itemID]
	if !ok {
		return nil, ErrItemNotFound
	}
	if e.serial != auth.serial {
		return nil, ErrAuthStale
	}

	if auth.kind == AuthExclusive {
		if receipt.Count() == 0 {
			return nil, ErrEmptyReceipt
		}
		if list == nil || !list.Allows(receipt.Origin()) {
			return nil, ErrNotAllowed
		}
	}

	// Consume receipt and authorization together; all checks passed, so
	// nothing after this point can fail and leave partial state.
	if err := receipt.Close(); err != nil {
		return nil, err
	}
	auth.spent = true
	delete(v.items, auth.itemID)
	return e.item, nil
}
