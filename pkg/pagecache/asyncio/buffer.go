// SPDX-License-Identifier: AGPL-3.0-only

package asyncio

import mmap "github.com/edsrzf/mmap-go"

// allocBuffer returns a page-aligned, anonymous read/write mapping of
// length bytes for the ring to read into. Allocating through mmap rather
// than make gives markReadOnly something it can actually reprotect once a
// read completes in full.
func allocBuffer(length uint32) ([]byte, error) {
	m, err := mmap.MapRegion(nil, int(length), mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, err
	}
	return []byte(m), nil
}

// freeBuffer releases a buffer allocated by allocBuffer. It is a no-op on
// a nil buffer so callers can use it unconditionally in cleanup paths.
func freeBuffer(buf []byte) error {
	if buf == nil {
		return nil
	}
	return mmap.MMap(buf).Unmap()
}

// FreeBlockBuffer releases a block buffer a Reader handed to a completed
// Read callback, once the caller (the pager, on eviction) is done with it.
func FreeBlockBuffer(buf []byte) error {
	return freeBuffer(buf)
}
