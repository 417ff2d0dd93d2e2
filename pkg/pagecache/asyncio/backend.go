// SPDX-License-Identifier: AGPL-3.0-only

package asyncio

// completion is a backend-agnostic view of one io_uring completion queue
// entry: the signed result code libaio/io_uring conventions use (negative
// errno, 0 for EOF, or bytes transferred) plus the user_data token the
// corresponding submission was tagged with.
type completion struct {
	userData uint64
	res      int32
}

// ringBackend abstracts the operations this package needs from an io_uring
// instance. The Linux implementation is a thin wrapper over giouring; other
// platforms have no implementation and Reader construction fails there.
//
// Every method is called only from the worker goroutine that owns the ring;
// the interface carries no concurrency guarantees of its own.
type ringBackend interface {
	// registerFile pre-registers fd with the ring so submissions can use the
	// fixed-file fast path.
	registerFile(fd int) error

	// prepareRead stages a vectored read of len(buf) bytes at offset from
	// the registered file, tagged with userData. It returns false if the
	// submission queue is currently full and nothing was staged.
	prepareRead(buf []byte, offset uint64, userData uint64) bool

	// submit flushes staged entries to the kernel. It returns the number
	// submitted, or an error for a transient condition (interrupted by a
	// signal, or the kernel is overcommitted) the caller should retry.
	submit() (int, error)

	// waitCompletions blocks until at least one completion is available and
	// returns all that are currently ready.
	waitCompletions() ([]completion, error)

	// close tears down the ring.
	close() error
}
