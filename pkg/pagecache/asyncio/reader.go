// SPDX-License-Identifier: AGPL-3.0-only

// Package asyncio implements the asynchronous block reader: one instance
// per opened file, backed by a single io_uring instance driven by a
// dedicated worker goroutine. Each wake cycle batch-stages every pending
// request onto the ring with a single GetSQE/PrepareReadv pass, submits
// once, then drains whatever completions are ready in one syscall and
// delivers each through its callback.
package asyncio

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/gate"
	"github.com/pkg/errors"

	"github.com/coldstore/pagecache/pkg/pagecache/pcerr"
)

// errTransientSubmit marks a ring.submit() failure the worker should retry
// rather than fail requests over: SQ overcommit or a delivered signal.
var errTransientSubmit = errors.New("asyncio: transient submission error")

// Callback is invoked exactly once per Read with either the fully read
// buffer or an error. For every request that reaches the pending queue it
// runs on the worker goroutine; when Read fails before enqueueing (gate
// error, buffer allocation failure, reader already closed) it runs
// synchronously on the goroutine that called Read.
type Callback func(buf []byte, err error)

type request struct {
	offset   uint64
	length   uint32
	buf      []byte
	filled   uint32
	userData uint64
	callback Callback
	queuedAt time.Time
}

// Reader is the async block reader for one opened file.
type Reader struct {
	file    *os.File
	backend ringBackend
	logger  log.Logger
	metrics *Metrics

	// inFlightGate bounds the number of reads admitted into the pending
	// queue to the ring's own queue depth, so the submission-queue-full
	// retry in stageAll is a rare transient rather than the steady state
	// under heavy fan-in.
	inFlightGate gate.Gate

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	pending  []*request
	inFlight map[uint64]*request
	nextID   uint64
	closed   bool
	fatal    error
}

// NewReader opens path read-only and starts the worker goroutine that will
// drive its io_uring instance. queueSize is the submission/completion ring
// depth (Config.QueueSize). pendingCapacity preallocates the pending
// request queue (Config.PendingQueueCapacity); zero leaves it to grow on
// demand.
func NewReader(path string, queueSize uint32, pendingCapacity int, logger log.Logger, metrics *Metrics) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open file for async reads")
	}

	backend, err := newRingBackend(queueSize)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := backend.registerFile(int(f.Fd())); err != nil {
		backend.close()
		f.Close()
		return nil, err
	}

	r := newReaderWithBackend(f, backend, pendingCapacity, logger, metrics)
	r.inFlightGate = gate.NewBlocking(int(queueSize))
	return r, nil
}

// newReaderWithBackend wires up a Reader around an already-constructed
// backend, letting tests substitute a fake ringBackend without touching a
// real io_uring instance. The gate defaults to a no-op so unit tests that
// drive a fakeBackend directly are not throttled.
func newReaderWithBackend(f *os.File, backend ringBackend, pendingCapacity int, logger log.Logger, metrics *Metrics) *Reader {
	r := &Reader{
		file:         f,
		backend:      backend,
		logger:       logger,
		metrics:      metrics,
		inFlightGate: gate.NewNoop(),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		pending:      make([]*request, 0, pendingCapacity),
		inFlight:     make(map[uint64]*request),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Read enqueues a fixed-size read of length bytes starting at offset.
// callback fires exactly once with the filled buffer or an error: from the
// worker goroutine once the request is queued, or synchronously before Read
// returns if the request never gets queued (see Callback). Read itself may block the caller briefly: it first
// waits for a turn on inFlightGate, bounding admitted requests to the
// ring's queue depth so a burst of callers cannot grow the pending queue
// without limit.
func (r *Reader) Read(offset uint64, length uint32, callback Callback) {
	if err := r.inFlightGate.Start(context.Background()); err != nil {
		callback(nil, errors.Wrap(err, "wait for async read turn"))
		return
	}
	gated := func(buf []byte, err error) {
		r.inFlightGate.Done()
		callback(buf, err)
	}

	buf, err := allocBuffer(length)
	if err != nil {
		gated(nil, errors.Wrap(err, "allocate read buffer"))
		return
	}

	req := &request{
		offset:   offset,
		length:   length,
		buf:      buf,
		callback: gated,
		queuedAt: time.Now(),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = freeBuffer(buf)
		gated(nil, pcerr.ErrClosed)
		return
	}
	r.nextID++
	req.userData = r.nextID
	r.pending = append(r.pending, req)
	if r.metrics != nil {
		r.metrics.queueDepth.Inc()
	}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Close signals the worker to drain in-flight work, joins it, and releases
// the ring and file. New Read calls after Close fail with pcerr.ErrClosed.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	select {
	case r.wake <- struct{}{}:
	default:
	}
	r.wg.Wait()

	if err := r.backend.close(); err != nil {
		level.Warn(r.logger).Log("msg", "error closing ring", "err", err)
	}
	return r.file.Close()
}

// FatalError returns the error that terminated the worker, if any, for
// post-mortem inspection. A nil return means the worker is still running or
// was shut down cleanly via Close.
func (r *Reader) FatalError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

func (r *Reader) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.wake:
		case <-r.done:
			r.drainOnShutdown()
			return
		}

		if err := r.drainAndSubmit(); err != nil {
			level.Error(r.logger).Log("msg", "async reader worker failed fatally", "err", err)
			r.mu.Lock()
			r.fatal = err
			r.mu.Unlock()
			r.failAllPending(err)
			return
		}

		select {
		case <-r.done:
			r.drainOnShutdown()
			return
		default:
		}
	}
}

// drainAndSubmit implements the per-wake worker algorithm: stage every
// pending request onto the ring (leaving the rest in the pending queue for
// the next pass if the submission queue fills up), submit, then deliver whatever
// completions are ready. It loops until both the pending and in-flight
// queues are empty.
func (r *Reader) drainAndSubmit() error {
	for {
		sqFull := r.stageAll()

		if _, err := r.submitWithRetry(); err != nil {
			return err
		}

		r.mu.Lock()
		haveWork := len(r.inFlight) > 0
		r.mu.Unlock()

		if haveWork {
			completions, err := r.backend.waitCompletions()
			if err != nil {
				return err
			}
			for _, c := range completions {
				r.deliver(c)
			}
		}

		r.mu.Lock()
		empty := len(r.pending) == 0 && len(r.inFlight) == 0
		r.mu.Unlock()
		if empty {
			return nil
		}
		_ = sqFull
	}
}

// stageAll attempts to enqueue every pending request on the ring. It
// returns true if the submission queue filled up before every request could
// be staged; the unstaged remainder stays in r.pending for the next pass.
func (r *Reader) stageAll() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := 0
	full := false
	for ; i < len(r.pending); i++ {
		req := r.pending[i]
		remaining := req.buf[req.filled:]
		if !r.backend.prepareRead(remaining, req.offset+uint64(req.filled), req.userData) {
			full = true
			break
		}
		r.inFlight[req.userData] = req
		if r.metrics != nil {
			r.metrics.readsSubmitted.Inc()
		}
	}
	r.pending = r.pending[i:]
	return full
}

func (r *Reader) submitWithRetry() (int, error) {
	for {
		n, err := r.backend.submit()
		if err == nil {
			return n, nil
		}
		if errors.Is(err, errTransientSubmit) {
			if r.metrics != nil {
				r.metrics.submitRetries.Inc()
			}
			continue
		}
		return n, err
	}
}

func (r *Reader) deliver(c completion) {
	r.mu.Lock()
	req, ok := r.inFlight[c.userData]
	if ok {
		delete(r.inFlight, c.userData)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	switch {
	case c.res < 0:
		if r.metrics != nil {
			r.metrics.readsFailed.Inc()
			r.metrics.queueDepth.Dec()
		}
		_ = freeBuffer(req.buf)
		req.callback(nil, mapErrno(c.res))

	case c.res == 0:
		if r.metrics != nil {
			r.metrics.readsEOF.Inc()
			r.metrics.queueDepth.Dec()
		}
		_ = freeBuffer(req.buf)
		req.callback(nil, pcerr.ErrEndOfFile)

	case uint32(c.res) < req.length-req.filled:
		// Partial result: advance the io-vector and resubmit the same
		// request for the remainder.
		req.filled += uint32(c.res)
		if r.metrics != nil {
			r.metrics.readsShort.Inc()
		}
		r.mu.Lock()
		r.pending = append(r.pending, req)
		r.mu.Unlock()
		select {
		case r.wake <- struct{}{}:
		default:
		}

	default:
		req.filled += uint32(c.res)
		if r.metrics != nil {
			r.metrics.readsCompleted.Inc()
			r.metrics.queueDepth.Dec()
			r.metrics.completionLatency.Observe(time.Since(req.queuedAt).Seconds())
		}
		if err := markReadOnly(req.buf); err != nil {
			level.Warn(r.logger).Log("msg", "failed to mark completed read buffer read-only", "err", err)
		}
		req.callback(req.buf, nil)
	}
}

func (r *Reader) failAllPending(cause error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	inFlight := r.inFlight
	r.inFlight = make(map[uint64]*request)
	r.mu.Unlock()

	for _, req := range pending {
		_ = freeBuffer(req.buf)
		req.callback(nil, cause)
	}
	for _, req := range inFlight {
		_ = freeBuffer(req.buf)
		req.callback(nil, cause)
	}
}

// drainOnShutdown lets in-flight I/O finish naturally but fails anything
// still waiting in the pending queue; Close does not submit new work.
func (r *Reader) drainOnShutdown() {
	r.mu.Lock()
	stillPending := r.pending
	r.pending = nil
	hasInFlight := len(r.inFlight) > 0
	r.mu.Unlock()

	for _, req := range stillPending {
		_ = freeBuffer(req.buf)
		req.callback(nil, pcerr.ErrClosed)
	}

	for hasInFlight {
		completions, err := r.backend.waitCompletions()
		if err != nil {
			r.failAllPending(err)
			return
		}
		for _, c := range completions {
			r.deliver(c)
		}
		r.mu.Lock()
		hasInFlight = len(r.inFlight) > 0
		r.mu.Unlock()
	}
}

// mapErrno maps a negative io_uring result (a negated errno) to a domain
// error.
func mapErrno(res int32) error {
	switch -res {
	case errnoBadFD:
		return pcerr.ErrInvalidFileDescriptor
	case errnoFault:
		return pcerr.ErrParamsOutsideAccessibleAddressSpace
	default:
		return pcerr.ErrUnexpectedError
	}
}
