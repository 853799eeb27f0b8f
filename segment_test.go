// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package segart

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gaissmai/segart/internal/art"
	"github.com/gaissmai/segart/internal/epoch"
	"github.com/gaissmai/segart/internal/fastptr"
)

func newTestTree(t *testing.T) *art.Tree[uint64, uint64] {
	t.Helper()
	fp := fastptr.New()
	em := epoch.New(nil)
	return art.New[uint64, uint64](fp, em, nil)
}

func newTestSegment(t *testing.T, firstKey uint64, numItems int) *segment[uint64, uint64] {
	t.Helper()
	tree := newTestTree(t)
	o := buildOptions()

	plan := segmentPlan[uint64]{firstKey: firstKey, numItems: numItems, a: 1, b: -float64(firstKey)}
	return newSegment[uint64, uint64](plan, tree.FastPointerFor(firstKey, firstKey+uint64(numItems)-1), tree, &o)
}

func TestSegmentInsertFindEmptySlot(t *testing.T) {
	seg := newTestSegment(t, 0, 8)

	existed := seg.Insert(3, 30)
	require.False(t, existed)

	v, ok := seg.Find(3)
	require.True(t, ok)
	require.Equal(t, uint64(30), v)
}

func TestSegmentInsertSameKeyOverwritesInPlace(t *testing.T) {
	seg := newTestSegment(t, 0, 8)

	seg.Insert(3, 30)
	existed := seg.Insert(3, 300)
	require.True(t, existed)

	v, ok := seg.Find(3)
	require.True(t, ok)
	require.Equal(t, uint64(300), v)
}

func TestSegmentCollisionFallsThroughToART(t *testing.T) {
	seg := newTestSegment(t, 0, 1) // every key predicts slot 0

	seg.Insert(0, 1)
	seg.Insert(5, 50) // collides, must spill to ART

	v, ok := seg.Find(0)
	require.True(t, ok)
	require.Equal(t, uint64(1), v)

	v, ok = seg.Find(5)
	require.True(t, ok)
	require.Equal(t, uint64(50), v)
}

func TestSegmentRemoveClearsOccupancyNotKey(t *testing.T) {
	seg := newTestSegment(t, 0, 8)
	seg.Insert(4, 40)

	require.True(t, seg.Remove(4))
	_, ok := seg.Find(4)
	require.False(t, ok)

	// presence bit alone decides occupancy; re-inserting the same key must
	// land cleanly rather than being treated as already-occupied-by-self.
	existed := seg.Insert(4, 444)
	require.False(t, existed)
	v, ok := seg.Find(4)
	require.True(t, ok)
	require.Equal(t, uint64(444), v)
}

func TestSegmentUpdateNeverCreates(t *testing.T) {
	seg := newTestSegment(t, 0, 8)

	require.False(t, seg.Update(9, 90))
	_, ok := seg.Find(9)
	require.False(t, ok)

	seg.Insert(9, 90)
	require.True(t, seg.Update(9, 900))
	v, ok := seg.Find(9)
	require.True(t, ok)
	require.Equal(t, uint64(900), v)
}

func TestSegmentConcurrentInsertsDistinctSlots(t *testing.T) {
	seg := newTestSegment(t, 0, 64)

	var wg sync.WaitGroup
	for i := uint64(0); i < 64; i++ {
		wg.Add(1)
		go func(k uint64) {
			defer wg.Done()
			seg.Insert(k, k*10)
		}(i)
	}
	wg.Wait()

	for i := uint64(0); i < 64; i++ {
		v, ok := seg.Find(i)
		require.True(t, ok, "key %d", i)
		require.Equal(t, i*10, v)
	}
}
