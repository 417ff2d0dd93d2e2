// SPDX-License-Identifier: AGPL-3.0-only

//go:build !linux

package asyncio

import "github.com/pkg/errors"

func newRingBackend(queueSize uint32) (ringBackend, error) {
	return nil, errors.New("asyncio: io_uring backend is only available on linux")
}
