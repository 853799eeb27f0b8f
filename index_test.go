// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package segart

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func pairs(n int, f func(i int) (uint64, uint64)) []KV[uint64, uint64] {
	out := make([]KV[uint64, uint64], n)
	for i := 0; i < n; i++ {
		k, v := f(i)
		out[i] = KV[uint64, uint64]{Key: k, Value: v}
	}
	return out
}

// TestBulkThenPointQueries is scenario S1.
func TestBulkThenPointQueries(t *testing.T) {
	idx := New[uint64, uint64]()
	require.NoError(t, idx.BulkLoad(pairs(10000, func(i int) (uint64, uint64) { return uint64(i), uint64(i + 1) })))

	for i := uint64(0); i < 10000; i++ {
		v, ok := idx.Find(i)
		require.True(t, ok, "key %d", i)
		require.Equal(t, i+1, v)
	}

	_, ok := idx.Find(10000)
	require.False(t, ok)
}

// TestBulkThenInsertThenLookup is scenario S2.
func TestBulkThenInsertThenLookup(t *testing.T) {
	idx := New[uint64, uint64]()
	require.NoError(t, idx.BulkLoad(pairs(5000, func(i int) (uint64, uint64) { return uint64(2 * i), uint64(2*i + 1) })))

	for i := 0; i < 5000; i++ {
		idx.Insert(uint64(2*i+1), uint64(2*i+2))
	}

	for k := uint64(0); k < 10000; k++ {
		v, ok := idx.Find(k)
		require.True(t, ok, "key %d", k)
		require.Equal(t, k+1, v)
	}
}

// TestDuplicateHandling is scenario S3.
func TestDuplicateHandling(t *testing.T) {
	idx := New[uint64, uint64]()
	require.NoError(t, idx.BulkLoad([]KV[uint64, uint64]{{1, 10}, {2, 20}, {3, 30}}))

	existed := idx.Insert(2, 200)
	require.True(t, existed)

	v, ok := idx.Find(2)
	require.True(t, ok)
	require.Equal(t, uint64(200), v)
}

// TestRemoveThenReinsert is scenario S4.
func TestRemoveThenReinsert(t *testing.T) {
	idx := New[uint64, uint64]()
	require.NoError(t, idx.BulkLoad([]KV[uint64, uint64]{{1, 11}, {2, 22}, {3, 33}}))

	require.True(t, idx.Remove(2))
	_, ok := idx.Find(2)
	require.False(t, ok)

	idx.Insert(2, 222)
	v, ok := idx.Find(2)
	require.True(t, ok)
	require.Equal(t, uint64(222), v)
}

// TestRangeScan is scenario S5.
func TestRangeScan(t *testing.T) {
	idx := New[uint64, uint64]()
	require.NoError(t, idx.BulkLoad(pairs(1000, func(i int) (uint64, uint64) { return uint64(i), uint64(i) })))

	results, _, _ := idx.RangeScan(500, 10)

	want := pairs(10, func(i int) (uint64, uint64) { return uint64(500 + i), uint64(500 + i) })
	require.Empty(t, cmp.Diff(want, results))
}

func TestRangeScanPaging(t *testing.T) {
	idx := New[uint64, uint64]()
	require.NoError(t, idx.BulkLoad(pairs(100, func(i int) (uint64, uint64) { return uint64(i), uint64(i) })))

	var all []KV[uint64, uint64]
	start := uint64(0)
	for {
		got, cont, contOk := idx.RangeScan(start, 7)
		all = append(all, got...)
		if !contOk {
			break
		}
		start = cont
	}

	require.Len(t, all, 100)
	for i, kv := range all {
		require.Equal(t, uint64(i), kv.Key)
	}
}

// TestConcurrentWriters is scenario S6.
func TestConcurrentWriters(t *testing.T) {
	const (
		numWriters = 12
		n          = 12000
	)

	idx := New[uint64, uint64]()
	require.NoError(t, idx.BulkLoad(pairs(1, func(int) (uint64, uint64) { return 0, 0 })))

	var wg sync.WaitGroup
	per := n / numWriters
	for w := 0; w < numWriters; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				k := uint64(w*per + i + 1)
				idx.Insert(k, k*10)
			}
		}(w)
	}
	wg.Wait()

	for k := uint64(1); k <= uint64(n); k++ {
		v, ok := idx.Find(k)
		require.True(t, ok, "key %d", k)
		require.Equal(t, k*10, v)
	}
}

// TestInsertFindProperty is testable property 1: every inserted (k,v) is
// returned; never-inserted keys return not-found.
func TestInsertFindProperty(t *testing.T) {
	idx := New[uint64, uint64]()
	require.NoError(t, idx.BulkLoad(pairs(1, func(int) (uint64, uint64) { return 0, 1 })))

	for i := uint64(1); i <= 500; i++ {
		idx.Insert(i, i*7)
	}
	for i := uint64(1); i <= 500; i++ {
		v, ok := idx.Find(i)
		require.True(t, ok)
		require.Equal(t, i*7, v)
	}
	_, ok := idx.Find(999999)
	require.False(t, ok)
}

// TestInsertOrderInvariance is testable property 2: any permutation of
// inserts of the same keys yields the same final logical map.
func TestInsertOrderInvariance(t *testing.T) {
	keys := []uint64{5, 1, 9, 3, 7, 2, 8, 4, 6}

	build := func(order []uint64) map[uint64]uint64 {
		idx := New[uint64, uint64]()
		require.NoError(t, idx.BulkLoad([]KV[uint64, uint64]{{0, 0}}))
		for _, k := range order {
			idx.Insert(k, k*100)
		}
		out := map[uint64]uint64{}
		for _, k := range keys {
			v, ok := idx.Find(k)
			require.True(t, ok)
			out[k] = v
		}
		return out
	}

	baseline := build(keys)

	reversed := make([]uint64, len(keys))
	for i, k := range keys {
		reversed[len(keys)-1-i] = k
	}

	require.Equal(t, baseline, build(reversed))
}

func TestBulkLoadRejectsNonMonotone(t *testing.T) {
	idx := New[uint64, uint64]()
	err := idx.BulkLoad([]KV[uint64, uint64]{{1, 1}, {3, 3}, {2, 2}})
	require.ErrorIs(t, err, ErrInvariantViolation)

	var invErr *InvariantError
	require.ErrorAs(t, err, &invErr)
	require.Equal(t, 2, invErr.Position)
}

func TestMustBulkLoadPanicsOnNonMonotone(t *testing.T) {
	idx := New[uint64, uint64]()
	require.Panics(t, func() {
		idx.MustBulkLoad([]KV[uint64, uint64]{{2, 2}, {1, 1}})
	})
}

func TestBulkLoadUnsorted(t *testing.T) {
	idx := New[uint64, uint64]()
	unsorted := []KV[uint64, uint64]{{3, 30}, {1, 10}, {2, 20}}
	require.NoError(t, idx.BulkLoadUnsorted(unsorted))

	for _, want := range []KV[uint64, uint64]{{1, 10}, {2, 20}, {3, 30}} {
		v, ok := idx.Find(want.Key)
		require.True(t, ok)
		require.Equal(t, want.Value, v)
	}

	// the caller's slice must not have been mutated in place.
	require.Equal(t, uint64(3), unsorted[0].Key)
}

func TestLenApproximatelyTracksInserts(t *testing.T) {
	idx := New[uint64, uint64]()
	require.NoError(t, idx.BulkLoad(pairs(200, func(i int) (uint64, uint64) { return uint64(i), uint64(i) })))
	require.Greater(t, idx.Len(), int64(0))
}

func TestCloseIsIdempotentAndSafe(t *testing.T) {
	idx := New[uint64, uint64]()
	require.NoError(t, idx.BulkLoad(pairs(10, func(i int) (uint64, uint64) { return uint64(i), uint64(i) })))
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())
}
