package custody

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TradingList is the per-collection set of order books approved to drive
// the exclusive release path. A list created with Unrestricted permits any
// originating book.
type TradingList struct {
	mu           sync.RWMutex
	collection   string
	unrestricted bool
	members      map[common.Hash]struct{}
}

// NewTradingList creates an empty allow-list for a collection.
func NewTradingList(collection string) *TradingList {
	return &TradingList{
		collection: collection,
		members:    make(map[common.Hash]struct{}),
	}
}

// Unrestricted creates the universal wildcard list for a collection.
func Unrestricted(collection string) *TradingList {
	l := NewTradingList(collection)
	l.unrestricted = true
	return l
}

// Collection returns the collection this list governs.
func (l *TradingList) Collection() string { return l.collection }

// Add approves an originating book.
func (l *TradingList) Add(origin common.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.members[origin] = struct{}{}
}

// Remove revokes an originating book.
func (l *TradingList) Remove(origin common.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.members, origin)
}

// Allows reports whether the given originating book may use the exclusive
// release path.
func (l *TradingList) Allows(origin common.Hash) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.unrestricted {
		return true
	}
	_, ok := l.members[origin]
	return ok
}
