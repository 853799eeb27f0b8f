// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package bitset

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetClearTest(t *testing.T) {
	b := New(130) // spans three words

	require.False(t, b.Test(0))
	require.False(t, b.Test(63))
	require.False(t, b.Test(64))
	require.False(t, b.Test(129))

	b.Set(0)
	b.Set(64)
	b.Set(129)
	require.True(t, b.Test(0))
	require.True(t, b.Test(64))
	require.True(t, b.Test(129))
	require.False(t, b.Test(1))

	b.Clear(64)
	require.False(t, b.Test(64))
	require.True(t, b.Test(0))
}

func TestSetAllAndCount(t *testing.T) {
	b := New(100)
	b.SetAll(100)
	require.Equal(t, 100, b.Count())

	b.Clear(7)
	b.Clear(50)
	require.Equal(t, 98, b.Count())
}

// TestConcurrentAdjacentBits exercises exactly the hazard this package was
// rewritten for: two different bit positions sharing one 64-bit word,
// flipped concurrently by different goroutines holding no lock but their
// own bit's logical ownership.
func TestConcurrentAdjacentBits(t *testing.T) {
	b := New(64)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(bit int) {
			defer wg.Done()
			b.Set(bit)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 64, b.Count())
}
