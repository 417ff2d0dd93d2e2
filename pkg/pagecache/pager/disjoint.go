// SPDX-License-Identifier: AGPL-3.0-only

package pager

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/coldstore/pagecache/pkg/pagecache/rwmutex"
	"github.com/coldstore/pagecache/pkg/pagecache/slot"
)

// disjointShards is the number of independent map shards the disjoint-read
// path hashes page numbers across, so that unrelated disjoint reads do not
// contend on one lock.
const disjointShards = 16

// disjointMap holds slots for reads that cross a block boundary and so
// cannot live in the fixed per-block slot array. It is sharded by page
// number to bound lock contention; each shard is guarded independently by
// a multi-reader/single-writer rwmutex.RWMutex.
type disjointMap struct {
	shards [disjointShards]disjointShard
}

type disjointShard struct {
	mu      rwmutex.RWMutex
	entries map[uint64]*slot.Slot
}

func newDisjointMap() *disjointMap {
	d := &disjointMap{}
	for i := range d.shards {
		d.shards[i].entries = make(map[uint64]*slot.Slot)
	}
	return d
}

func (d *disjointMap) shardFor(page uint64) *disjointShard {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], page)
	return &d.shards[xxhash.Sum64(b[:])%disjointShards]
}

// lookup returns the slot for page if one already exists, without creating
// one.
func (d *disjointMap) lookup(page uint64) *slot.Slot {
	s := d.shardFor(page)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[page]
}

// getOrCreate returns the existing slot for page, or inserts and returns a
// fresh Empty one. created reports whether this call did the inserting,
// i.e. whether this caller is responsible for enqueueing the load.
func (d *disjointMap) getOrCreate(page uint64) (sl *slot.Slot, created bool) {
	shard := d.shardFor(page)

	shard.mu.RLock()
	if existing, ok := shard.entries[page]; ok {
		shard.mu.RUnlock()
		return existing, false
	}
	shard.mu.RUnlock()

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if existing, ok := shard.entries[page]; ok {
		return existing, false
	}
	fresh := &slot.Slot{}
	shard.entries[page] = fresh
	return fresh, true
}
