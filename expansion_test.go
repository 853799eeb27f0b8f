// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package segart

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpansionInstalledAfterSaturation(t *testing.T) {
	seg := newTestSegment(t, 0, 4)

	seg.Insert(0, 1)
	seg.Insert(1, 2)
	seg.Insert(2, 3)
	seg.Insert(3, 4) // num_inserts == num_items, no expansion yet
	require.Nil(t, seg.expansion.Load())

	seg.Insert(4, 5) // collides (slot 4 out of range, clamps), num_inserts > num_items
	require.NotNil(t, seg.expansion.Load())
}

func TestExpansionTransparentDuringTransition(t *testing.T) {
	seg := newTestSegment(t, 0, 2)

	seg.Insert(0, 10)
	seg.Insert(1, 20)
	seg.Insert(2, 30) // triggers expansion install

	exp := seg.expansion.Load()
	require.NotNil(t, exp)

	// every key already written, plus one routed straight to the
	// expansion, must still resolve through the parent's own Find.
	seg.Insert(3, 40)

	for k, want := range map[uint64]uint64{0: 10, 1: 20, 2: 30, 3: 40} {
		v, ok := seg.Find(k)
		require.True(t, ok, "key %d", k)
		require.Equal(t, want, v)
	}
}

func TestEagerDrainPublishesReplacement(t *testing.T) {
	idx := New[uint64, uint64]()
	require.NoError(t, idx.BulkLoad([]KV[uint64, uint64]{{0, 1}, {1, 2}}))

	for i := uint64(2); i < 10; i++ {
		idx.Insert(i, i*100)
	}

	for k := uint64(0); k < 10; k++ {
		v, ok := idx.Find(k)
		require.True(t, ok, "key %d", k)
		if k < 2 {
			require.Equal(t, k+1, v)
		} else {
			require.Equal(t, k*100, v)
		}
	}
}
