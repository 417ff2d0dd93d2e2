// SPDX-License-Identifier: AGPL-3.0-only

// Package pager implements the file-backed page cache: a fixed array of
// lazy per-block slots loaded on demand through the async block reader,
// evicted under memory pressure by a recency-weighted usage score, plus a
// sharded side map for reads that cross a block boundary.
package pager

import (
	mrand "math/rand"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/ulid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/coldstore/pagecache/pkg/pagecache/asyncio"
	"github.com/coldstore/pagecache/pkg/pagecache/bitmap"
	"github.com/coldstore/pagecache/pkg/pagecache/pcerr"
	"github.com/coldstore/pagecache/pkg/pagecache/slot"
)

// ErrDisjointTryPageUnsupported is returned by TryPage when the requested
// span crosses a block boundary: the non-blocking path only covers the
// per-block slot array, not the disjoint map. Disjoint spans only ever
// arise from multi-page reads that straddle a boundary, and the only
// documented background-load trigger for a non-blocking call is winning
// should_init on a block slot, so disjoint spans simply are not
// try-able.
var ErrDisjointTryPageUnsupported = errors.New("pager: try_page does not support disjoint spans")

// Pager is a file-backed page cache over one regular, read-only,
// pre-sized file.
type Pager struct {
	id   ulid.ULID
	file *os.File

	reader *asyncio.Reader

	blocks    []slot.Slot
	numBlocks int
	fileSize  int64

	accessed   [NumberOfAccessGenerations]*bitmap.Bitmap
	currentIdx atomic.Uint32

	disjoint *disjointMap

	limits       MemoryLimits
	sizeUsed     atomic.Int64
	rotateEveryN uint64
	requestCount atomic.Uint64

	logger  log.Logger
	metrics *Metrics
}

// New opens path read-only and returns a ready-to-use Pager. The file must
// already be sized; New performs no extension.
func New(path string, limits MemoryLimits, cfg Config, logger log.Logger, reg prometheus.Registerer) (*Pager, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open pager file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat pager file")
	}

	queueSize := cfg.AsyncIO.QueueSize
	if queueSize == 0 {
		queueSize = IoRingQueueSize
	}
	metrics := NewMetrics(reg)
	reader, err := asyncio.NewReader(path, uint32(queueSize), cfg.AsyncIO.PendingQueueCapacity, logger, asyncio.NewMetrics(reg))
	if err != nil {
		f.Close()
		return nil, err
	}

	numBlocks := int((info.Size() + BlockSize - 1) / BlockSize)
	if numBlocks > NumberOfBlocks {
		numBlocks = NumberOfBlocks
	}

	rotateEveryN := cfg.RotateEveryNRequests
	if rotateEveryN == 0 {
		rotateEveryN = 4096
	}

	now := time.Now()
	entropy := ulid.Monotonic(mrand.New(mrand.NewSource(now.UnixNano())), 0)
	id := ulid.MustNew(ulid.Timestamp(now), entropy)

	p := &Pager{
		id:           id,
		file:         f,
		reader:       reader,
		blocks:       make([]slot.Slot, NumberOfBlocks),
		numBlocks:    numBlocks,
		fileSize:     info.Size(),
		disjoint:     newDisjointMap(),
		limits:       limits,
		rotateEveryN: rotateEveryN,
		logger:       log.With(logger, "pager_id", id.String()),
		metrics:      metrics,
	}
	for i := range p.accessed {
		p.accessed[i] = bitmap.New(NumberOfBlocks)
	}

	level.Info(p.logger).Log(
		"msg", "opened pager",
		"path", path,
		"file_size", humanize.IBytes(uint64(info.Size())),
		"soft_limit", humanize.IBytes(limits.effectiveSoft()),
		"hard_limit", humanize.IBytes(limits.effectiveHard()),
	)

	return p, nil
}

// Close shuts down the async reader and releases the file. Callers must
// ensure no borrow is outstanding and no load is in flight; Close does not
// wait for either.
func (p *Pager) Close() error {
	if err := p.reader.Close(); err != nil {
		level.Warn(p.logger).Log("msg", "error closing async reader", "err", err)
	}
	return p.file.Close()
}

// GetPage returns a borrowed view of n pages starting at page, blocking
// until the containing block (or, for a disjoint span, the dedicated
// slot) is loaded. The returned slice is valid until LetGo is called with
// matching arguments.
func (p *Pager) GetPage(page, n uint64) ([]byte, error) {
	p.tick()

	block, lastBlock := blockSpan(page, n)
	if block != lastBlock {
		return p.getPageDisjoint(page, n)
	}
	return p.getPageSameBlock(block, page, n)
}

func (p *Pager) getPageSameBlock(block, page, n uint64) ([]byte, error) {
	if block >= uint64(p.numBlocks) {
		return nil, pcerr.ErrEndOfFile
	}

	sl := &p.blocks[block]
	if sl.ShouldInit() {
		p.beginBlockLoad(block, sl)
	}

	buf, err := sl.Get()
	if err != nil {
		return nil, err
	}
	p.trackAccess(block)
	return sliceForPage(buf, page, n), nil
}

// TryPage is the non-blocking counterpart of GetPage. It returns the slice
// and true if the containing block is already loaded; otherwise it returns
// (nil, false) and, if the slot was Empty, kicks off a background load
// without waiting for it.
func (p *Pager) TryPage(page, n uint64) ([]byte, bool, error) {
	p.tick()

	block, lastBlock := blockSpan(page, n)
	if block != lastBlock {
		return nil, false, ErrDisjointTryPageUnsupported
	}
	if block >= uint64(p.numBlocks) {
		return nil, false, pcerr.ErrEndOfFile
	}

	sl := &p.blocks[block]
	if sl.HasValue() {
		buf, err := sl.Get()
		if err != nil {
			return nil, false, err
		}
		p.trackAccess(block)
		return sliceForPage(buf, page, n), true, nil
	}

	if sl.ShouldInit() {
		p.beginBlockLoad(block, sl)
	}
	return nil, false, nil
}

// LetGo releases one borrow of the block or disjoint slot backing page,
// matching a prior successful GetPage/TryPage.
func (p *Pager) LetGo(page, n uint64) {
	block, lastBlock := blockSpan(page, n)
	if block == lastBlock {
		if block < uint64(p.numBlocks) {
			p.blocks[block].Release()
		}
		return
	}
	if sl := p.disjoint.lookup(page); sl != nil {
		sl.Release()
	}
}

// beginBlockLoad runs the admission and submission half of the same-block
// load path for a slot that just won should_init: charge BlockSize,
// evict if that crosses soft, refuse with OutOfMemory if still over hard
// after eviction (refunding the charge), otherwise submit the read. The
// slot is left Failed on admission refusal and Loading (awaiting the
// reader's callback) on success; either way the caller proceeds to
// sl.Get().
func (p *Pager) beginBlockLoad(block uint64, sl *slot.Slot) {
	used := p.sizeUsed.Add(BlockSize)
	p.metrics.sizeUsed.Set(float64(used))
	if uint64(used) >= p.limits.effectiveSoft() {
		p.evict()
		used = p.sizeUsed.Load()
	}
	if uint64(used) > p.limits.effectiveHard() {
		p.sizeUsed.Sub(BlockSize)
		p.metrics.sizeUsed.Set(float64(p.sizeUsed.Load()))
		p.metrics.outOfMemory.Inc()
		level.Warn(p.logger).Log(
			"msg", "refusing block load, out of memory after eviction",
			"block", block,
			"used", humanize.IBytes(uint64(p.sizeUsed.Load())),
			"hard_limit", humanize.IBytes(p.limits.effectiveHard()),
		)
		_ = sl.Opps(pcerr.ErrOutOfMemory)
		return
	}

	p.metrics.blockLoads.Inc()
	offset := block * BlockSize
	p.reader.Read(offset, BlockSize, func(buf []byte, err error) {
		if err != nil {
			p.metrics.blockLoadFailures.Inc()
			_ = sl.Opps(err)
			return
		}
		_ = sl.Init(buf)
	})
}

func (p *Pager) getPageDisjoint(page, n uint64) ([]byte, error) {
	sl, created := p.disjoint.getOrCreate(page)
	if created {
		if sl.ShouldInit() {
			offset := page * PageSize
			length := uint32(n * PageSize)
			p.reader.Read(offset, length, func(buf []byte, err error) {
				if err != nil {
					_ = sl.Opps(err)
					return
				}
				_ = sl.Init(buf)
			})
		}
	}

	buf, err := sl.Get()
	if err != nil {
		return nil, err
	}
	p.metrics.disjointReads.Inc()
	return buf, nil
}

// evict scans for Loaded, sole-referenced blocks and resets the coldest
// ones by usage score until size_used drops below the effective soft
// limit or no cold candidate remains.
func (p *Pager) evict() {
	type candidate struct {
		block uint64
		score int
	}

	currentIdx := int(p.currentIdx.Load())
	var candidates []candidate
	for i := 0; i < p.numBlocks; i++ {
		count, failed := p.blocks[i].References()
		if failed || count != 1 {
			continue
		}
		var accessedInGen [NumberOfAccessGenerations]bool
		for g := 0; g < NumberOfAccessGenerations; g++ {
			accessedInGen[g] = p.accessed[g].Test(i)
		}
		candidates = append(candidates, candidate{block: uint64(i), score: usageScore(accessedInGen, currentIdx)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })

	var freed int64
	for _, c := range candidates {
		if uint64(p.sizeUsed.Load()) < p.limits.effectiveSoft() {
			break
		}
		if buf, ok := p.blocks[c.block].Reset(); ok {
			if err := asyncio.FreeBlockBuffer(buf); err != nil {
				level.Warn(p.logger).Log("msg", "failed to release evicted block buffer", "block", c.block, "err", err)
			}
			p.sizeUsed.Sub(BlockSize)
			p.metrics.sizeUsed.Set(float64(p.sizeUsed.Load()))
			freed += BlockSize
			p.metrics.evictions.Inc()
		}
	}
	if freed > 0 {
		p.metrics.evictedBytes.Add(float64(freed))
	}
}

// tick advances the request counter and rotates the current access
// generation every rotateEveryN calls, per the request-count-based
// rotation policy this pager uses (the core algorithm only requires
// monotonic rotation mod NumberOfAccessGenerations). The index steps
// downward, so generation (current+i) mod NumberOfAccessGenerations is the
// one that was current i rotations ago, the order usageScore reads them in;
// the generation cleared for reuse is always the oldest.
func (p *Pager) tick() {
	count := p.requestCount.Add(1)
	if count%p.rotateEveryN != 0 {
		return
	}
	cur := p.currentIdx.Load()
	next := (cur + NumberOfAccessGenerations - 1) % NumberOfAccessGenerations
	p.accessed[next].ClearAll()
	p.currentIdx.Store(next)
	p.metrics.generationRotations.Inc()
}

func (p *Pager) trackAccess(block uint64) {
	idx := p.currentIdx.Load()
	p.accessed[idx].Set(int(block))
}

// blockSpan returns the block containing page and the block containing the
// last page of an n-page span; callers compare the two to decide between
// the same-block and disjoint paths.
func blockSpan(page, n uint64) (block, lastBlock uint64) {
	block = page / PagesPerBlock
	lastBlock = (page + n - 1) / PagesPerBlock
	return block, lastBlock
}

func sliceForPage(buf []byte, page, n uint64) []byte {
	offsetInBlock := (page % PagesPerBlock) * PageSize
	return buf[offsetInBlock : offsetInBlock+n*PageSize]
}
