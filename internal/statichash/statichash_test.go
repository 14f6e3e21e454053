package statichash

import (
	"math/rand"
	"testing"
)

func hashInt(k int) uint32 { return uint32(k)*2654435761 + 1 }
func eqInt(a, b int) bool  { return a == b }

func TestBuildLookupRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	var keys []int
	seen := map[int]bool{}
	for len(keys) < 500 {
		k := r.Intn(100000)
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}

	m, perm := Build(keys, hashInt, eqInt)
	if !hashPowerOfTwo(len(m.Buckets)) {
		t.Fatalf("bucket count %d is not a power of two", len(m.Buckets))
	}
	if len(m.Buckets) < len(keys) {
		t.Fatalf("bucket count %d < n %d", len(m.Buckets), len(keys))
	}

	for i, origIdx := range perm {
		if m.Keys[i] != keys[origIdx] {
			t.Fatalf("perm mismatch at %d", i)
		}
	}

	for i, k := range keys {
		idx, ok := m.Lookup(k)
		if !ok {
			t.Fatalf("lookup(%d) missing", k)
		}
		if perm[idx] != i {
			t.Fatalf("lookup(%d) returned wrong original index", k)
		}
	}

	for i := 0; i < 1000; i++ {
		k := -1 - i // guaranteed not inserted
		if _, ok := m.Lookup(k); ok {
			t.Fatalf("lookup(%d) found a key that was never inserted", k)
		}
	}
}

func TestBuildPreservesOrderWithinBucket(t *testing.T) {
	// All keys collide into bucket 0 of the four-bucket map (next power of
	// two of n=4).
	keys := []int{5, 3, 9, 1}
	m, perm := Build(keys, func(int) uint32 { return 0 }, eqInt)
	if len(m.Buckets) != 4 {
		t.Fatalf("expected 4 buckets, got %d", len(m.Buckets))
	}
	for i, k := range keys {
		if m.Keys[i] != k || perm[i] != i {
			t.Fatalf("insertion order not preserved: got %v, want %v", m.Keys, keys)
		}
	}
}

func hashPowerOfTwo(n int) bool { return n != 0 && n&(n-1) == 0 }
