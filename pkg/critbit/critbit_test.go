package critbit

import (
	"errors"
	"math/rand"
	"sort"
	"testing"
)

func TestInsertGetRemove(t *testing.T) {
	tr := New[string]()

	if !tr.Empty() {
		t.Fatal("new tree should be empty")
	}
	if _, err := tr.Min(); !errors.Is(err, ErrEmptyTree) {
		t.Fatalf("Min on empty tree: got %v, want ErrEmptyTree", err)
	}
	if _, err := tr.Max(); !errors.Is(err, ErrEmptyTree) {
		t.Fatalf("Max on empty tree: got %v, want ErrEmptyTree", err)
	}

	keys := []uint64{100, 50, 150, 75, 125, 1, 1 << 63}
	for _, k := range keys {
		if err := tr.Insert(k, "v"); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	if tr.Len() != len(keys) {
		t.Fatalf("len: got %d, want %d", tr.Len(), len(keys))
	}

	// Duplicate insert must fail and leave the tree unchanged.
	if err := tr.Insert(100, "dup"); !errors.Is(err, ErrKeyExists) {
		t.Fatalf("duplicate insert: got %v, want ErrKeyExists", err)
	}
	if tr.Len() != len(keys) {
		t.Fatalf("len after failed insert: got %d, want %d", tr.Len(), len(keys))
	}

	if min, _ := tr.Min(); min != 1 {
		t.Errorf("min: got %d, want 1", min)
	}
	if max, _ := tr.Max(); max != 1<<63 {
		t.Errorf("max: got %d, want %d", max, uint64(1)<<63)
	}

	for _, k := range keys {
		if !tr.Has(k) {
			t.Errorf("missing key %d", k)
		}
	}
	if tr.Has(99) {
		t.Error("has(99) should be false")
	}

	if _, err := tr.Remove(99); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("remove absent key: got %v, want ErrKeyNotFound", err)
	}
	for _, k := range keys {
		if _, err := tr.Remove(k); err != nil {
			t.Fatalf("remove %d: %v", k, err)
		}
	}
	if !tr.Empty() {
		t.Fatal("tree should be empty after removing everything")
	}
}

func TestGetMutatesInPlace(t *testing.T) {
	tr := New[[]int]()
	if err := tr.Insert(42, []int{1}); err != nil {
		t.Fatal(err)
	}
	v, err := tr.Get(42)
	if err != nil {
		t.Fatal(err)
	}
	*v = append(*v, 2)

	v2, _ := tr.Get(42)
	if len(*v2) != 2 {
		t.Fatalf("mutation not visible: got %v", *v2)
	}
	if _, err := tr.Get(7); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("get absent key: got %v, want ErrKeyNotFound", err)
	}
}

func TestOrderedIteration(t *testing.T) {
	tr := New[int]()
	keys := []uint64{9, 3, 7, 1, 200, 40, 5, 1 << 40, 1<<40 + 1}
	for _, k := range keys {
		if err := tr.Insert(k, int(k)); err != nil {
			t.Fatal(err)
		}
	}

	sorted := append([]uint64(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var asc []uint64
	tr.Ascend(func(k uint64, _ int) bool {
		asc = append(asc, k)
		return true
	})
	if len(asc) != len(sorted) {
		t.Fatalf("ascend visited %d keys, want %d", len(asc), len(sorted))
	}
	for i := range sorted {
		if asc[i] != sorted[i] {
			t.Fatalf("ascend order: got %v, want %v", asc, sorted)
		}
	}

	var desc []uint64
	tr.Descend(func(k uint64, _ int) bool {
		desc = append(desc, k)
		return true
	})
	for i := range sorted {
		if desc[i] != sorted[len(sorted)-1-i] {
			t.Fatalf("descend order: got %v", desc)
		}
	}
}

// Random workload: the tree must agree with a reference map and keep min/max
// correct independent of insertion order.
func TestRandomizedAgainstMap(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tr := New[int]()
	ref := make(map[uint64]int)

	for i := 0; i < 5000; i++ {
		k := uint64(rng.Intn(1000))
		if rng.Intn(2) == 0 {
			err := tr.Insert(k, i)
			if _, exists := ref[k]; exists {
				if !errors.Is(err, ErrKeyExists) {
					t.Fatalf("insert existing %d: got %v", k, err)
				}
			} else {
				if err != nil {
					t.Fatalf("insert %d: %v", k, err)
				}
				ref[k] = i
			}
		} else {
			_, err := tr.Remove(k)
			if _, exists := ref[k]; exists {
				if err != nil {
					t.Fatalf("remove existing %d: %v", k, err)
				}
				delete(ref, k)
			} else if !errors.Is(err, ErrKeyNotFound) {
				t.Fatalf("remove absent %d: got %v", k, err)
			}
		}

		if tr.Len() != len(ref) {
			t.Fatalf("len mismatch: tree=%d ref=%d", tr.Len(), len(ref))
		}
	}

	if len(ref) == 0 {
		t.Fatal("workload left the tree empty, widen the key range")
	}
	var wantMin, wantMax uint64
	first := true
	for k := range ref {
		if first || k < wantMin {
			wantMin = k
		}
		if first || k > wantMax {
			wantMax = k
		}
		first = false
	}
	if min, _ := tr.Min(); min != wantMin {
		t.Errorf("min: got %d, want %d", min, wantMin)
	}
	if max, _ := tr.Max(); max != wantMax {
		t.Errorf("max: got %d, want %d", max, wantMax)
	}
}
