// SPDX-License-Identifier: AGPL-3.0-only

package asyncio

import (
	"os"
	"sync"

	"github.com/go-kit/log"
)

// fakeBackend is an in-memory ringBackend used to exercise the worker
// algorithm, and by extension the pager package's tests, without a real
// io_uring instance. It lives outside _test.go so NewFakeReader can be
// exported for downstream packages (pager) that need a *Reader without
// depending on Linux io_uring being available in the test environment.
type fakeBackend struct {
	mu        sync.Mutex
	staged    []stagedRead
	completed []completion
	closed    bool

	// sqFullForNStages makes the next N prepareRead calls report a full
	// submission queue before succeeding.
	sqFullForNStages int

	// submitErr, when set, is returned once by submit then cleared.
	submitErr error

	source func(off uint64, buf []byte) int32 // returns bytes read, or a negative errno, or 0 for EOF
}

type stagedRead struct {
	buf      []byte
	offset   uint64
	userData uint64
}

func (b *fakeBackend) registerFile(fd int) error { return nil }

func (b *fakeBackend) prepareRead(buf []byte, offset uint64, userData uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sqFullForNStages > 0 {
		b.sqFullForNStages--
		return false
	}
	b.staged = append(b.staged, stagedRead{buf: buf, offset: offset, userData: userData})
	return true
}

func (b *fakeBackend) submit() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		err := b.submitErr
		b.submitErr = nil
		return 0, err
	}
	n := len(b.staged)
	for _, s := range b.staged {
		res := b.source(s.offset, s.buf)
		b.completed = append(b.completed, completion{userData: s.userData, res: res})
	}
	b.staged = nil
	return n, nil
}

func (b *fakeBackend) waitCompletions() ([]completion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.completed
	b.completed = nil
	return out, nil
}

func (b *fakeBackend) close() error {
	b.closed = true
	return nil
}

// NewFakeReader returns a Reader over f backed by an in-memory fake
// completion source instead of a real io_uring instance. source is called
// synchronously for every staged read and returns bytes transferred, 0 for
// EOF, or a negative errno. Intended for tests in other packages (pager)
// that need a working *Reader without depending on Linux io_uring being
// available in the test environment.
func NewFakeReader(f *os.File, source func(offset uint64, buf []byte) int32) *Reader {
	return newReaderWithBackend(f, &fakeBackend{source: source}, 0, log.NewNopLogger(), NewMetrics(nil))
}
