// SPDX-License-Identifier: AGPL-3.0-only

//go:build linux

package asyncio

import (
	"syscall"

	"github.com/pawelgaczynski/giouring"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// giouringBackend is the real ringBackend, a thin wrapper over giouring:
// prepareRead pulls one SQE per call and leaves submission to the caller,
// submit flushes the whole batch in one syscall, and waitCompletions
// blocks for the first CQE then drains whatever else is ready without
// blocking again.
type giouringBackend struct {
	ring *giouring.Ring
	fd   int
}

func newGiouringBackend(queueSize uint32) (*giouringBackend, error) {
	ring, err := giouring.CreateRing(queueSize)
	if err != nil {
		return nil, errors.Wrap(err, "create io_uring")
	}
	return &giouringBackend{ring: ring}, nil
}

func (b *giouringBackend) registerFile(fd int) error {
	b.fd = fd
	if err := b.ring.RegisterFiles([]int32{int32(fd)}); err != nil {
		return errors.Wrap(err, "register file with ring")
	}
	return nil
}

func (b *giouringBackend) prepareRead(buf []byte, offset uint64, userData uint64) bool {
	sqe := b.ring.GetSQE()
	if sqe == nil {
		return false
	}
	iov := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
	sqe.PrepareReadv(0, iov, offset)
	// IOSQE_FIXED_FILE: fd 0 above indexes into the ring's registered file
	// table (registerFile) instead of naming a raw descriptor.
	sqe.Flags |= 1 << 0
	sqe.SetUserData(userData)
	return true
}

func (b *giouringBackend) submit() (int, error) {
	n, err := b.ring.Submit()
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EBUSY) {
			return int(n), errTransientSubmit
		}
		return int(n), errors.Wrap(err, "submit io_uring sqes")
	}
	return int(n), nil
}

func (b *giouringBackend) waitCompletions() ([]completion, error) {
	cqe, err := b.ring.WaitCQE()
	if err != nil {
		if errors.Is(err, syscall.EINTR) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "wait io_uring cqe")
	}

	out := []completion{{userData: cqe.UserData, res: cqe.Res}}
	b.ring.CQESeen(cqe)

	for {
		next, err := b.ring.PeekCQE()
		if err != nil || next == nil {
			break
		}
		out = append(out, completion{userData: next.UserData, res: next.Res})
		b.ring.CQESeen(next)
	}
	return out, nil
}

func (b *giouringBackend) close() error {
	b.ring.QueueExit()
	return nil
}

func newRingBackend(queueSize uint32) (ringBackend, error) {
	return newGiouringBackend(queueSize)
}
