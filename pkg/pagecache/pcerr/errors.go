// SPDX-License-Identifier: AGPL-3.0-only

// Package pcerr holds the sentinel errors surfaced across the page cache's
// public API (pager and asyncio), so callers can compare with errors.Is
// regardless of which component produced the error.
package pcerr

import "github.com/pkg/errors"

var (
	// ErrOutOfMemory is returned when admission cannot bring size_used below
	// the effective hard limit even after eviction.
	ErrOutOfMemory = errors.New("pagecache: out of memory")

	// ErrEndOfFile is returned when a read lands entirely beyond the end of
	// the underlying file.
	ErrEndOfFile = errors.New("pagecache: end of file")

	// ErrInvalidFileDescriptor maps EBADF from the underlying read.
	ErrInvalidFileDescriptor = errors.New("pagecache: invalid file descriptor")

	// ErrParamsOutsideAccessibleAddressSpace maps EFAULT from the underlying
	// read.
	ErrParamsOutsideAccessibleAddressSpace = errors.New("pagecache: parameters outside accessible address space")

	// ErrUnexpectedError is the catch-all for I/O errno values this module
	// does not special-case.
	ErrUnexpectedError = errors.New("pagecache: unexpected I/O error")

	// ErrClosed is returned by reads submitted after the async reader has
	// been closed.
	ErrClosed = errors.New("pagecache: reader closed")
)
