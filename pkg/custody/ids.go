package custody

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// ItemID is the globally unique identity of one non-fungible item.
type ItemID = common.Hash

// VaultID is the globally unique identity of one custody vault.
type VaultID = common.Hash

var idSeq atomic.Uint64

// DeriveID mints a fresh 32-byte identifier from a domain tag and scope
// material, keccak-hashed so handles from different domains never collide.
// A process-local sequence number is mixed in, so every call returns a new
// identifier even for identical inputs; callers must hold on to the handle
// rather than re-derive it.
func DeriveID(domain string, material ...[]byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(domain))
	for _, m := range material {
		h.Write(m)
	}
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], idSeq.Add(1))
	h.Write(seq[:])

	var out common.Hash
	h.Sum(out[:0])
	return out
}
