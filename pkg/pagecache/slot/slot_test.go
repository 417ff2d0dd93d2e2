// SPDX-License-Identifier: AGPL-3.0-only

package slot

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestShouldInitOneWinner(t *testing.T) {
	var s Slot
	const n = 64
	var wins int32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.ShouldInit() {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, winners)
	_ = wins
}

func TestInitThenGetReturnsBuf(t *testing.T) {
	var s Slot
	require.True(t, s.ShouldInit())
	buf := []byte("hello world\n")
	require.NoError(t, s.Init(buf))

	got, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, buf, got)
}

func TestOppsThenGetReturnsError(t *testing.T) {
	var s Slot
	require.True(t, s.ShouldInit())
	sentinel := errors.New("disk on fire")
	require.NoError(t, s.Opps(sentinel))

	_, err := s.Get()
	require.ErrorIs(t, err, sentinel)
}

func TestGetParksUntilInit(t *testing.T) {
	var s Slot
	require.True(t, s.ShouldInit())

	results := make(chan []byte, 1)
	go func() {
		buf, err := s.Get()
		require.NoError(t, err)
		results <- buf
	}()

	select {
	case <-results:
		t.Fatal("Get returned before Init published a value")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, s.Init([]byte("payload")))

	select {
	case buf := <-results:
		require.Equal(t, []byte("payload"), buf)
	case <-time.After(time.Second):
		t.Fatal("Get never woke up after Init")
	}
}

func TestRefcountConservation(t *testing.T) {
	var s Slot
	require.True(t, s.ShouldInit())
	require.NoError(t, s.Init([]byte("x")))

	count, failed := s.References()
	require.False(t, failed)
	require.Equal(t, uint32(1), count)

	_, err := s.Get()
	require.NoError(t, err)
	count, _ = s.References()
	require.Equal(t, uint32(2), count)

	s.Release()
	count, _ = s.References()
	require.Equal(t, uint32(1), count)
}

func TestResetRequiresSoleReference(t *testing.T) {
	var s Slot
	require.True(t, s.ShouldInit())
	require.NoError(t, s.Init([]byte("x")))

	_, err := s.Get() // bumps refcount to 2
	require.NoError(t, err)

	_, ok := s.Reset()
	require.False(t, ok, "reset must fail while references > 1")

	s.Release() // back down to 1 (the pager's own reservation)
	buf, ok := s.Reset()
	require.True(t, ok)
	require.Equal(t, []byte("x"), buf)
	require.False(t, s.HasValue())
}

func TestReleasePanicsWithoutValue(t *testing.T) {
	var s Slot
	require.Panics(t, func() { s.Release() })
}

func TestShouldInitAgainAfterReset(t *testing.T) {
	var s Slot
	require.True(t, s.ShouldInit())
	require.NoError(t, s.Init([]byte("x")))
	_, ok := s.Reset()
	require.True(t, ok)

	require.True(t, s.ShouldInit(), "slot must be reloadable after a successful reset")
}
