package market

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Prefix-based so one owner's holdings and one book's
// records scan as a range.
const (
	prefixDeferred  = "dfr:"  // outstanding deferred trade records
	prefixInventory = "inv:"  // delivered items per owner
	prefixVaultItem = "vlt:"  // items in custody per vault
	prefixDepth     = "dep:"  // latest depth snapshot per book
	prefixTrade     = "trd:"  // settled trade history per book
)

// deferredKey: "dfr:{bookID}:{recordID}"
func deferredKey(bookID, recID common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixDeferred, bookID.Hex(), recID.Hex()))
}

// inventoryKey: "inv:{owner}:{itemID}"
func inventoryKey(owner common.Address, itemID common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixInventory, owner.Hex(), itemID.Hex()))
}

func inventoryPrefix(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixInventory, owner.Hex()))
}

// vaultItemKey: "vlt:{vaultID}:{itemID}"
func vaultItemKey(vaultID, itemID common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixVaultItem, vaultID.Hex(), itemID.Hex()))
}

// depthKey: "dep:{bookID}"
func depthKey(bookID common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixDepth, bookID.Hex()))
}

// tradeKey: "trd:{bookID}:{timestamp}:{itemID}"
// Timestamp zero-padded for lexicographic time ordering.
func tradeKey(bookID common.Hash, timestamp int64, itemID common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, bookID.Hex(), timestamp, itemID.Hex()))
}

func tradePrefix(bookID common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, bookID.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
