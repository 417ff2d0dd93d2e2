// SPDX-License-Identifier: AGPL-3.0-only

//go:build !linux

package asyncio

// markReadOnly is a no-op outside Linux: newRingBackend already refuses to
// construct a real ring there, so this only runs against the fake backend
// in tests.
func markReadOnly(buf []byte) error { return nil }
