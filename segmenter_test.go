// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package segart

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveEpsilon(t *testing.T) {
	require.Equal(t, 5, resolveEpsilon(42, 5), "explicit override wins")
	require.Equal(t, 1, resolveEpsilon(1, 0), "ceil(1/1000), floored at 1")
	require.Equal(t, 1, resolveEpsilon(1000, 0))
	require.Equal(t, 2, resolveEpsilon(1001, 0))
}

func TestPlanSegmentsSpecialCases(t *testing.T) {
	t.Run("single key", func(t *testing.T) {
		plans := planSegments([]uint64{42}, 1)
		require.Len(t, plans, 1)
		require.Equal(t, uint64(42), plans[0].firstKey)
		require.Equal(t, 1, plans[0].numItems)
	})

	t.Run("two keys", func(t *testing.T) {
		plans := planSegments([]uint64{10, 20}, 1)
		require.Len(t, plans, 1)
		require.Equal(t, 2, plans[0].numItems)
		require.Equal(t, 0, plans[0].predict(10))
		require.Equal(t, 1, plans[0].predict(20))
	})

	t.Run("empty", func(t *testing.T) {
		require.Nil(t, planSegments([]uint64{}, 1))
	})
}

func TestPlanSegmentsPredictWithinBounds(t *testing.T) {
	keys := make([]uint64, 0, 10000)
	for i := uint64(0); i < 10000; i++ {
		keys = append(keys, i*3) // evenly spaced, easy to fit tightly
	}

	plans := planSegments(keys, resolveEpsilon(len(keys), 0))
	require.NotEmpty(t, plans)

	pos := 0
	for _, p := range plans {
		for j := 0; j < p.numItems; j++ {
			predicted := p.predict(keys[pos])
			require.GreaterOrEqual(t, predicted, 0)
			require.Less(t, predicted, p.numItems)
			pos++
		}
	}
	require.Equal(t, len(keys), pos)
}

func TestPlanSegmentsCoversAllKeysInOrder(t *testing.T) {
	keys := []uint64{1, 2, 3, 100, 101, 500, 900, 901, 902, 950}
	plans := planSegments(keys, 2)

	total := 0
	for _, p := range plans {
		total += p.numItems
	}
	require.Equal(t, len(keys), total)
}
