// Package statichash implements the immutable, perfect-sized bucketed map
// used to serialize the container's three lookup tables (resource-id →
// resource-entry, content-hash → content-entry, bundle-key → bundle-entry).
//
// The map is built once from a full set of keys and never mutated again;
// that lets the on-disk form be three flat arrays (buckets, keys, values)
// with no tombstones or resize logic.
package statichash

import "github.com/kfc-tools/kfc/internal/hashio"

// Bucket is one entry of the bucket array: the keys (and parallel values)
// belonging to this bucket occupy Keys[Start:Start+Length].
type Bucket struct {
	Start  uint32
	Length uint32
}

// Map is a read-only hash map over keys of type K, built once via Build.
// Values are not stored here; Build instead returns a permutation so the
// caller can reorder its own value slice to match Keys.
type Map[K any] struct {
	Buckets []Bucket
	Keys    []K

	hash func(K) uint32
	eq   func(a, b K) bool
}

// Build buckets keys by hash(key)&(bucketCount-1) using a stable counting
// sort, so that keys sharing a bucket retain their relative insertion order.
// It returns the map plus, for every output position i, the index into the
// original keys slice that Keys[i] came from (perm), so callers can reorder
// a parallel values slice with the same permutation.
func Build[K any](keys []K, hash func(K) uint32, eq func(a, b K) bool) (m *Map[K], perm []int) {
	n := len(keys)
	bucketCount := hashio.NextPowerOfTwo(n)
	mask := bucketCount - 1

	counts := make([]uint32, bucketCount)
	hashes := make([]uint32, n)
	for i, k := range keys {
		h := hash(k) & mask
		hashes[i] = h
		counts[h]++
	}

	starts := make([]uint32, bucketCount)
	var offset uint32
	for i := uint32(0); i < bucketCount; i++ {
		starts[i] = offset
		offset += counts[i]
	}

	cursor := append([]uint32(nil), starts...)
	outKeys := make([]K, n)
	perm = make([]int, n)
	for origIdx, k := range keys {
		b := hashes[origIdx]
		pos := cursor[b]
		outKeys[pos] = k
		perm[pos] = origIdx
		cursor[b]++
	}

	buckets := make([]Bucket, bucketCount)
	for i := uint32(0); i < bucketCount; i++ {
		buckets[i] = Bucket{Start: starts[i], Length: counts[i]}
	}

	return &Map[K]{
		Buckets: buckets,
		Keys:    outKeys,
		hash:    hash,
		eq:      eq,
	}, perm
}

// Load reconstructs a Map from its serialized parts (as read from a
// container), re-attaching the hash/eq functions needed for Lookup.
func Load[K any](buckets []Bucket, keys []K, hash func(K) uint32, eq func(a, b K) bool) *Map[K] {
	return &Map[K]{Buckets: buckets, Keys: keys, hash: hash, eq: eq}
}

// Lookup returns the index into Keys (and, correspondingly, into the
// caller's parallel values slice) of key, or ok=false if key was never
// inserted.
func (m *Map[K]) Lookup(key K) (index int, ok bool) {
	if len(m.Buckets) == 0 {
		return 0, false
	}
	mask := uint32(len(m.Buckets)) - 1
	b := m.Buckets[m.hash(key)&mask]
	for i := b.Start; i < b.Start+b.Length; i++ {
		if m.eq(m.Keys[i], key) {
			return int(i), true
		}
	}
	return 0, false
}

// Len returns the number of keys in the map.
func (m *Map[K]) Len() int { return len(m.Keys) }
