// SPDX-License-Identifier: AGPL-3.0-only

// Package slot implements the lazy, single-producer/multi-consumer cell at
// the heart of the page cache: a block-sized buffer that is loaded exactly
// once by whichever caller wins the race, shared by reference count among
// concurrent borrowers, and able to carry a terminal error instead of a
// value.
//
// Publishing (pointer, refcount, version) together would ordinarily want a
// single atomic compare-and-swap of a 128-bit word, which is not portably
// available from Go without cgo or unsafe double-word CAS. This package
// takes the boxed-pointer fallback instead: the triple is held in an
// immutable *state and the box itself is swapped with
// atomic.Pointer[state].CompareAndSwap, which gives the same
// single-CAS-publishes-everything guarantee without unsafe code.
package slot

import (
	"math"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/coldstore/pagecache/pkg/pagecache/internal/futex"
)

// refsFailed is the references sentinel marking the Failed terminal state.
const refsFailed = math.MaxUint32

// ErrNotInitializing is returned by Init/Opps when called without having won
// ShouldInit first (val already set, or the slot was never moved out of
// Empty).
var ErrNotInitializing = errors.New("slot: init/opps called without an in-flight load")

// state is the immutable payload swapped atomically behind Slot.cur. A nil
// *state represents the Empty state.
type state struct {
	val        []byte
	references uint32
	version    uint32
	err        error
}

func (s *state) loading() bool {
	return s != nil && s.val == nil && s.references != refsFailed
}

func (s *state) failed() bool {
	return s != nil && s.references == refsFailed
}

func (s *state) loaded() bool {
	return s != nil && s.val != nil
}

func (s *state) versionOf() uint32 {
	if s == nil {
		return 0
	}
	return s.version
}

// Slot is the lazy cell described above. The zero value is Empty and ready
// to use.
type Slot struct {
	cur atomic.Pointer[state]
	// gen is bumped (and futex-woken) whenever cur transitions out of
	// Empty/Loading, i.e. on every Init or Opps. get() parks on gen while
	// the slot has no value and no error yet.
	gen uint32
}

// ShouldInit attempts to move the slot from Empty to Loading. Exactly one
// caller across an Empty→{Loaded,Failed} cycle receives true; everyone else
// (including later callers once the slot is Loaded or Failed) receives
// false.
func (s *Slot) ShouldInit() bool {
	for {
		old := s.cur.Load()
		if old.loaded() || old.failed() || old.loading() {
			return false
		}
		next := &state{val: nil, references: 0, version: old.versionOf() + 1}
		if s.cur.CompareAndSwap(old, next) {
			return true
		}
	}
}

// HasValue is a fast, possibly-stale snapshot of whether the slot currently
// holds a loaded buffer. It never blocks and is intended only as a
// short-circuit before a full Get.
func (s *Slot) HasValue() bool {
	return s.cur.Load().loaded()
}

// Init publishes buf as the slot's value, transitioning Loading→Loaded, and
// wakes every parked Get. It must be called only by a caller that won
// ShouldInit, and only once.
func (s *Slot) Init(buf []byte) error {
	for {
		old := s.cur.Load()
		if old == nil || old.loaded() {
			return errors.WithStack(ErrNotInitializing)
		}
		next := &state{val: buf, references: 1, version: old.versionOf() + 1}
		if s.cur.CompareAndSwap(old, next) {
			atomic.AddUint32(&s.gen, 1)
			futex.Wake(&s.gen, 1<<30)
			return nil
		}
	}
}

// Opps publishes err as the slot's terminal Failed state, transitioning
// Loading→Failed, and wakes every parked Get. Like Init, it must be called
// only by the winner of ShouldInit.
func (s *Slot) Opps(err error) error {
	for {
		old := s.cur.Load()
		if old == nil || old.loaded() {
			return errors.WithStack(ErrNotInitializing)
		}
		next := &state{references: refsFailed, version: old.versionOf() + 1, err: err}
		if s.cur.CompareAndSwap(old, next) {
			atomic.AddUint32(&s.gen, 1)
			futex.Wake(&s.gen, 1<<30)
			return nil
		}
	}
}

// Get returns a new borrow of the slot's value, parking until a loader
// publishes a value or an error if the slot is currently Empty or Loading.
func (s *Slot) Get() ([]byte, error) {
	for {
		old := s.cur.Load()
		switch {
		case old.loaded():
			next := &state{val: old.val, references: old.references + 1, version: old.version + 1}
			if s.cur.CompareAndSwap(old, next) {
				return old.val, nil
			}
		case old.failed():
			return nil, old.err
		default: // Empty or Loading
			observed := atomic.LoadUint32(&s.gen)
			if s.cur.Load() == old {
				futex.Wait(&s.gen, observed)
			}
		}
	}
}

// Release decrements the reference count acquired by a prior Get/Init. It
// never wakes parked waiters: nothing blocks on the refcount going down.
func (s *Slot) Release() {
	for {
		old := s.cur.Load()
		if !old.loaded() {
			panic("slot: Release of a slot with no value")
		}
		if old.references == 0 {
			panic("slot: Release underflow")
		}
		next := &state{val: old.val, references: old.references - 1, version: old.version + 1}
		if s.cur.CompareAndSwap(old, next) {
			return
		}
	}
}

// Reset attempts to return a Loaded slot back to Empty for eviction. It only
// succeeds if references == 1, i.e. only the pager's own reservation
// remains. On success the caller owns freeing the returned buffer.
func (s *Slot) Reset() ([]byte, bool) {
	for {
		old := s.cur.Load()
		if !old.loaded() || old.references != 1 {
			return nil, false
		}
		if s.cur.CompareAndSwap(old, nil) {
			return old.val, true
		}
	}
}

// References reports the current reference count, for tests and eviction
// scanning. It returns (0, false) for Empty/Loading and (0, true) for
// Failed, matching the "references==MAX marks Failed" encoding at the
// public level by instead returning a clean boolean rather than leaking the
// sentinel.
func (s *Slot) References() (count uint32, failed bool) {
	cur := s.cur.Load()
	if cur.failed() {
		return 0, true
	}
	if !cur.loaded() {
		return 0, false
	}
	return cur.references, false
}
