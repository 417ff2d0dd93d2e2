// SPDX-License-Identifier: AGPL-3.0-only

package bitmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetTestClear(t *testing.T) {
	b := New(256)

	require.False(t, b.Test(17))
	b.Set(17)
	require.True(t, b.Test(17))
	require.False(t, b.Test(16))
	require.False(t, b.Test(18))

	b.Clear(17)
	require.False(t, b.Test(17))
}

func TestClearAll(t *testing.T) {
	b := New(128)
	for i := 0; i < 128; i += 3 {
		b.Set(i)
	}
	b.ClearAll()
	for i := 0; i < 128; i++ {
		require.False(t, b.Test(i))
	}
}

func TestConcurrentSet(t *testing.T) {
	b := New(2048)
	var wg sync.WaitGroup
	for i := 0; i < 2048; i++ {
		wg.Add(1)
		go func(bit int) {
			defer wg.Done()
			b.Set(bit)
		}(i)
	}
	wg.Wait()
	for i := 0; i < 2048; i++ {
		require.Truef(t, b.Test(i), "bit %d should be set", i)
	}
}
