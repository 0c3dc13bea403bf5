// Package critbit implements an ordered map from uint64 keys to values,
// backed by a binary radix (critical-bit) tree. Internal nodes branch on the
// highest bit position at which keys in their subtree differ, so lookup,
// insert and delete are O(log n) regardless of insertion order, and the
// minimum/maximum key is reached by always following the 0-branch or the
// 1-branch from the root.
package critbit

import (
	"errors"
	"math/bits"
)

var (
	ErrKeyExists   = errors.New("critbit: key already exists")
	ErrKeyNotFound = errors.New("critbit: key not found")
	ErrEmptyTree   = errors.New("critbit: tree is empty")
)

// node is either a leaf (both children nil, key/val meaningful) or an
// internal node (both children set, bit is the critical bit index).
// Critical bit indices strictly decrease along any root-to-leaf path.
type node[V any] struct {
	key   uint64
	val   V
	bit   uint8
	child [2]*node[V]
}

func (n *node[V]) leaf() bool { return n.child[0] == nil }

// dir selects the child to follow for key at the given bit position.
func dir(key uint64, bit uint8) int {
	return int((key >> bit) & 1)
}

// Tree is an ordered uint64-keyed map. Not safe for concurrent use; callers
// hold their own lock.
type Tree[V any] struct {
	root *node[V]
	size int
}

// New returns an empty tree.
func New[V any]() *Tree[V] {
	return &Tree[V]{}
}

func (t *Tree[V]) Len() int    { return t.size }
func (t *Tree[V]) Empty() bool { return t.size == 0 }

// Has reports whether key is present.
func (t *Tree[V]) Has(key uint64) bool {
	n := t.walk(key)
	return n != nil && n.key == key
}

// walk descends to the leaf that would hold key, without comparing it.
func (t *Tree[V]) walk(key uint64) *node[V] {
	n := t.root
	if n == nil {
		return nil
	}
	for !n.leaf() {
		n = n.child[dir(key, n.bit)]
	}
	return n
}

// Get returns a pointer to the value stored at key, letting the caller
// mutate it in place. Fails with ErrKeyNotFound if key is absent.
func (t *Tree[V]) Get(key uint64) (*V, error) {
	n := t.walk(key)
	if n == nil || n.key != key {
		return nil, ErrKeyNotFound
	}
	return &n.val, nil
}

// Insert stores val at key. Fails with ErrKeyExists if key is present;
// multiplicity belongs to the value, not the index.
func (t *Tree[V]) Insert(key uint64, val V) error {
	if t.root == nil {
		t.root = &node[V]{key: key, val: val}
		t.size++
		return nil
	}

	nearest := t.walk(key)
	diff := key ^ nearest.key
	if diff == 0 {
		return ErrKeyExists
	}
	crit := uint8(bits.Len64(diff) - 1)
	d := dir(key, crit)

	// Insert the new internal node above the first node whose critical bit
	// is below crit (or above a leaf).
	slot := &t.root
	for {
		cur := *slot
		if cur.leaf() || cur.bit < crit {
			break
		}
		slot = &cur.child[dir(key, cur.bit)]
	}

	in := &node[V]{bit: crit}
	in.child[d] = &node[V]{key: key, val: val}
	in.child[1-d] = *slot
	*slot = in
	t.size++
	return nil
}

// Remove deletes key and returns its value. Fails with ErrKeyNotFound if
// key is absent.
func (t *Tree[V]) Remove(key uint64) (V, error) {
	var zero V
	if t.root == nil {
		return zero, ErrKeyNotFound
	}

	slot := &t.root
	var parentSlot **node[V]
	lastDir := 0
	n := *slot
	for !n.leaf() {
		parentSlot = slot
		lastDir = dir(key, n.bit)
		slot = &n.child[lastDir]
		n = *slot
	}
	if n.key != key {
		return zero, ErrKeyNotFound
	}

	if parentSlot == nil {
		t.root = nil
	} else {
		// Splice the sibling into the parent's slot.
		parent := *parentSlot
		*parentSlot = parent.child[1-lastDir]
	}
	t.size--
	return n.val, nil
}

// Min returns the smallest key. Fails with ErrEmptyTree on an empty tree.
func (t *Tree[V]) Min() (uint64, error) {
	if t.root == nil {
		return 0, ErrEmptyTree
	}
	n := t.root
	for !n.leaf() {
		n = n.child[0]
	}
	return n.key, nil
}

// Max returns the largest key. Fails with ErrEmptyTree on an empty tree.
func (t *Tree[V]) Max() (uint64, error) {
	if t.root == nil {
		return 0, ErrEmptyTree
	}
	n := t.root
	for !n.leaf() {
		n = n.child[1]
	}
	return n.key, nil
}

// Ascend visits every entry in ascending key order until fn returns false.
func (t *Tree[V]) Ascend(fn func(key uint64, val V) bool) {
	ascend(t.root, fn)
}

func ascend[V any](n *node[V], fn func(key uint64, val V) bool) bool {
	if n == nil {
		return true
	}
	if n.leaf() {
		return fn(n.key, n.val)
	}
	if !ascend(n.child[0], fn) {
		return false
	}
	return ascend(n.child[1], fn)
}

// Descend visits every entry in descending key order until fn returns false.
func (t *Tree[V]) Descend(fn func(key uint64, val V) bool) {
	descend(t.root, fn)
}

func descend[V any](n *node[V], fn func(key uint64, val V) bool) bool {
	if n == nil {
		return true
	}
	if n.leaf() {
		return fn(n.key, n.val)
	}
	if !descend(n.child[1], fn) {
		return false
	}
	return descend(n.child[0], fn)
}
