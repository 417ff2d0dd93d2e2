// SPDX-License-Identifier: AGPL-3.0-only

package pager

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/coldstore/pagecache/pkg/pagecache/asyncio"
	"github.com/coldstore/pagecache/pkg/pagecache/bitmap"
	"github.com/coldstore/pagecache/pkg/pagecache/pcerr"
	"github.com/coldstore/pagecache/pkg/pagecache/slot"
)

// newTestPager builds a Pager around a temp file of size fileSize, reading
// through an in-memory fake completion source (no real io_uring instance),
// so these tests run identically on every platform. It returns the pager
// and a counter of how many reads the fake source actually served.
func newTestPager(t *testing.T, fileSize int64, content []byte, limits MemoryLimits) (*Pager, *int32) {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "pager")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(f.Name()) })

	reads := new(int32)
	reader := asyncio.NewFakeReader(f, func(offset uint64, buf []byte) int32 {
		atomic.AddInt32(reads, 1)
		if offset >= uint64(len(content)) {
			return 0
		}
		n := copy(buf, content[offset:])
		return int32(n)
	})

	numBlocks := int((fileSize + BlockSize - 1) / BlockSize)
	if numBlocks > NumberOfBlocks {
		numBlocks = NumberOfBlocks
	}

	p := &Pager{
		file:         f,
		reader:       reader,
		blocks:       make([]slot.Slot, NumberOfBlocks),
		numBlocks:    numBlocks,
		fileSize:     fileSize,
		disjoint:     newDisjointMap(),
		limits:       limits,
		rotateEveryN: 4096,
		logger:       log.NewNopLogger(),
		metrics:      NewMetrics(nil),
	}
	for i := range p.accessed {
		p.accessed[i] = bitmap.New(NumberOfBlocks)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p, reads
}

func TestTryPageThenGetPageLoadsBlock(t *testing.T) {
	content := make([]byte, 8*1024*1024)
	copy(content, []byte("hello world\n"))
	p, _ := newTestPager(t, int64(len(content)), content, Simple(4*BlockSize))

	_, ok, err := p.TryPage(0, 1)
	require.NoError(t, err)
	require.False(t, ok, "try_page on an unloaded block must return none")

	page, err := p.GetPage(0, 1)
	require.NoError(t, err)
	require.Len(t, page, PageSize)
	require.Equal(t, []byte("hello world\n"), page[:12])
	p.LetGo(0, 1)
}

func TestTwoPagesSameBlockChargeOnce(t *testing.T) {
	content := make([]byte, 8*1024*1024)
	p, _ := newTestPager(t, int64(len(content)), content, Simple(4*BlockSize))

	_, err := p.GetPage(0, 1)
	require.NoError(t, err)
	_, err = p.GetPage(1, 1)
	require.NoError(t, err)

	require.Equal(t, int64(BlockSize), p.sizeUsed.Load())
	p.LetGo(0, 1)
	p.LetGo(1, 1)
}

func TestOutOfMemoryWhenReferencedBlockCannotBeEvicted(t *testing.T) {
	content := make([]byte, 8*1024*1024)
	p, _ := newTestPager(t, int64(len(content)), content, Simple(BlockSize))

	_, err := p.GetPage(0, 1)
	require.NoError(t, err)

	// page 257 lives in block 1, a different block than page 0.
	_, err = p.GetPage(257, 1)
	require.ErrorIs(t, err, pcerr.ErrOutOfMemory)
	p.LetGo(0, 1)
}

func TestConcurrentGetPageSubmitsOneRead(t *testing.T) {
	content := make([]byte, 8*1024*1024)
	for i := range content {
		content[i] = byte(i)
	}
	p, reads := newTestPager(t, int64(len(content)), content, Simple(4*BlockSize))

	const n = 32
	var wg sync.WaitGroup
	results := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buf, err := p.GetPage(0, 1)
			require.NoError(t, err)
			cp := make([]byte, len(buf))
			copy(cp, buf)
			results[i] = cp
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Equal(t, results[0], results[i])
	}
	for i := 0; i < n; i++ {
		p.LetGo(0, 1)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(reads), "exactly one read must be submitted for a raced block load")
}

func TestGetPageBeyondFileSurfacesEndOfFile(t *testing.T) {
	content := make([]byte, BlockSize) // exactly one full block, nothing beyond it
	p, _ := newTestPager(t, int64(len(content)), content, Simple(4*BlockSize))

	_, err := p.GetPage(PagesPerBlock, 1)
	require.ErrorIs(t, err, pcerr.ErrEndOfFile)
}

func TestEvictionRespectsSoftLimitAndSkipsReferencedBlocks(t *testing.T) {
	content := make([]byte, 8*BlockSize)
	p, _ := newTestPager(t, int64(len(content)), content, MemoryLimits{
		SelfSoft: 2 * BlockSize, SelfHard: 4 * BlockSize,
		GlobalSoft: 2 * BlockSize, GlobalHard: 4 * BlockSize,
	})

	for i := uint64(0); i < 4; i++ {
		page := i * PagesPerBlock
		buf, err := p.GetPage(page, 1)
		require.NoError(t, err)
		_ = buf
		require.LessOrEqual(t, p.sizeUsed.Load(), int64(4*BlockSize))
		p.LetGo(page, 1)
	}
}

func TestEvictionPrefersColderOfTwoCandidates(t *testing.T) {
	content := make([]byte, 8*BlockSize)
	p, _ := newTestPager(t, int64(len(content)), content, MemoryLimits{
		SelfSoft: 5 * 1024 * 1024, SelfHard: 8 * BlockSize,
		GlobalSoft: 5 * 1024 * 1024, GlobalHard: 8 * BlockSize,
	})

	hotPage := uint64(0)
	coldPage := uint64(PagesPerBlock)

	_, err := p.GetPage(hotPage, 1)
	require.NoError(t, err)
	p.LetGo(hotPage, 1)

	_, err = p.GetPage(coldPage, 1)
	require.NoError(t, err)
	p.LetGo(coldPage, 1)

	// Both blocks were just touched in the same access generation. Clear
	// the cold block's bit so the two candidates actually differ in
	// recency instead of tying on score.
	curGen := p.currentIdx.Load()
	p.accessed[curGen].Clear(int(coldPage / PagesPerBlock))

	// Load a third block: sizeUsed crosses soft, triggering eviction
	// among the two sole-referenced, loaded candidates above.
	_, err = p.GetPage(2*PagesPerBlock, 1)
	require.NoError(t, err)

	require.False(t, p.blocks[coldPage/PagesPerBlock].HasValue(), "colder block must be the one evicted")
	require.True(t, p.blocks[hotPage/PagesPerBlock].HasValue(), "more recently touched block must survive eviction")
}

func TestLetGoLeavesSizeUsedUnchanged(t *testing.T) {
	content := make([]byte, 8*1024*1024)
	p, _ := newTestPager(t, int64(len(content)), content, Simple(4*BlockSize))

	_, err := p.GetPage(0, 1)
	require.NoError(t, err)
	before := p.sizeUsed.Load()
	p.LetGo(0, 1)
	require.Equal(t, before, p.sizeUsed.Load())
}

func TestDisjointReadSpansBlockBoundary(t *testing.T) {
	content := make([]byte, 8*1024*1024)
	for i := range content {
		content[i] = byte(i)
	}
	p, _ := newTestPager(t, int64(len(content)), content, Simple(4*BlockSize))

	// PagesPerBlock-1 plus a 2-page span crosses into the next block.
	buf, err := p.GetPage(PagesPerBlock-1, 2)
	require.NoError(t, err)
	require.Len(t, buf, 2*PageSize)
	require.Equal(t, content[(PagesPerBlock-1)*PageSize:(PagesPerBlock+1)*PageSize], buf)
	p.LetGo(PagesPerBlock-1, 2)
}
