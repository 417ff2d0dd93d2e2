// SPDX-License-Identifier: AGPL-3.0-only

package pager

// Fixed sizing for the page cache's block/page layout.
const (
	PageSize                  = 8192
	BlockSize                 = 2 * 1024 * 1024
	MaxFileSize               = 4 * 1024 * 1024 * 1024
	NumberOfBlocks            = 2048
	NumberOfAccessGenerations = 4
	IoRingQueueSize           = 32

	// PagesPerBlock is derived, not independently specified: BlockSize must
	// be an exact multiple of PageSize.
	PagesPerBlock = BlockSize / PageSize
)
