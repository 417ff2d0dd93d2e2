// SPDX-License-Identifier: AGPL-3.0-only

//go:build linux

package futex

import "golang.org/x/sys/unix"

func wait(addr *uint32, observed uint32) {
	// FUTEX_WAIT re-validates *addr == observed atomically inside the
	// kernel before parking, so a Wake that raced with the caller's last
	// read of *addr is never lost: the syscall just returns EAGAIN.
	_, _ = unix.Futex(addr, unix.FUTEX_WAIT, observed, nil, nil, 0)
}

func wake(addr *uint32, n int) {
	_, _ = unix.Futex(addr, unix.FUTEX_WAKE, uint32(n), nil, nil, 0)
}
