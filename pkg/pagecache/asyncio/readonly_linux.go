// SPDX-License-Identifier: AGPL-3.0-only

//go:build linux

package asyncio

import "golang.org/x/sys/unix"

// markReadOnly reprotects a fully-read buffer as read-only. The ring is
// the only legitimate writer to a block buffer; once a read completes
// there is no reason for anything else in the process to mutate it, and
// catching an accidental write with a SIGSEGV beats silently corrupting a
// block every other borrower believes is immutable.
func markReadOnly(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return unix.Mprotect(buf, unix.PROT_READ)
}
