package funds

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// Store persists balances in Pebble. All access goes through the Ledger's
// mutex.
type Store struct {
	db *pebble.DB
}

const prefixBalance = "bal:"

// balanceKey returns the key for one (address, denomination) balance.
// Format: "bal:{address}:{denom}"
func balanceKey(addr common.Address, denom string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, addr.Hex(), denom))
}

// balancePrefix returns the prefix for all balances of an address.
func balancePrefix(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixBalance, addr.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

type balanceRecord struct {
	Denom  string `json:"denom"`
	Amount uint64 `json:"amount"`
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

// SaveBalance persists one balance.
func (s *Store) SaveBalance(addr common.Address, denom string, amount uint64) error {
	data, err := json.Marshal(balanceRecord{Denom: denom, Amount: amount})
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}
	if err := s.db.Set(balanceKey(addr, denom), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

// LoadBalances loads every denomination balance for an address.
func (s *Store) LoadBalances(addr common.Address) (map[string]uint64, error) {
	prefix := balancePrefix(addr)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[string]uint64)
	for iter.First(); iter.Valid(); iter.Next() {
		var rec balanceRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // Skip invalid entries
		}
		out[rec.Denom] = rec.Amount
	}
	return out, nil
}
