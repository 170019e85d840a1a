package ranker

import (
	"sync"
	"sync/atomic"
	"time"

	"taskloom/internal/config"
	"taskloom/internal/logging"
	"taskloom/internal/plan"
)

// Request is one adjustment submission: the baseline snapshot plus the
// effects and locks in force at submission time.
type Request struct {
	Baseline *plan.OrderedPlan
	Effects  []plan.ReflectionEffect
	Locks    plan.LockSet
}

// ApplyFunc receives the winning adjustment once a burst settles. Called
// from the debouncer's worker goroutine, never concurrently with itself.
type ApplyFunc func(*Adjustment)

// ErrorFunc receives adjustment failures (malformed baselines).
type ErrorFunc func(error)

// Debouncer coalesces bursts of reflection changes into a single
// adjustment. Every submission bumps a generation counter; the adjustment
// only runs after the debounce window passes with no newer submission, and
// its result is discarded at apply time if a newer generation has been
// submitted since. Supersession is detected by generation comparison, not
// by holding a lock across the computation.
type Debouncer struct {
	window       time.Duration
	applyTimeout time.Duration
	onApply      ApplyFunc
	onError      ErrorFunc

	generation atomic.Uint64

	mu      sync.Mutex
	timer   *time.Timer
	pending *pendingRequest
	closed  bool
	wg      sync.WaitGroup
}

type pendingRequest struct {
	gen uint64
	req Request
}

// NewDebouncer creates a debouncer with the configured settle window.
func NewDebouncer(cfg config.RankerConfig, onApply ApplyFunc, onError ErrorFunc) *Debouncer {
	return &Debouncer{
		window:       cfg.DebounceWindowDuration(),
		applyTimeout: cfg.ApplyTimeoutDuration(),
		onApply:      onApply,
		onError:      onError,
	}
}

// Submit registers a new adjustment request, superseding any request still
// waiting out its window. Returns the request's generation.
func (d *Debouncer) Submit(req Request) uint64 {
	gen := d.generation.Add(1)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gen
	}

	d.pending = &pendingRequest{gen: gen, req: req}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fire)

	logging.RankerDebug("Adjustment submitted: generation=%d, %d effects", gen, len(req.Effects))
	return gen
}

// Flush runs any pending request immediately instead of waiting out the
// window, then blocks until the worker drains. Used at shutdown and in
// tests.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	if pending != nil {
		d.run(pending)
	}
	d.wg.Wait()
}

// Close stops the debouncer and waits for any in-flight adjustment. A
// pending request that has not fired yet is dropped.
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.mu.Unlock()

	d.wg.Wait()
}

// fire is the timer callback: hand the pending request to a worker.
func (d *Debouncer) fire() {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	closed := d.closed
	if !closed && pending != nil {
		d.wg.Add(1)
	}
	d.mu.Unlock()

	if closed || pending == nil {
		return
	}
	go func() {
		defer d.wg.Done()
		d.run(pending)
	}()
}

// run computes the adjustment and applies it unless superseded. The
// staleness check happens after the computation: a generation bumped
// mid-flight wins, and the stale result is discarded untouched.
func (d *Debouncer) run(p *pendingRequest) {
	start := time.Now()
	adjustment, err := Adjust(p.req.Baseline, p.req.Effects, p.req.Locks)
	if err != nil {
		logging.Get(logging.CategoryRanker).Error("Adjustment failed: %v", err)
		if d.onError != nil {
			d.onError(err)
		}
		return
	}

	current := d.generation.Load()
	if current != p.gen {
		logging.Audit().RankSuperseded(p.req.Baseline.ID, p.gen, current)
		logging.Ranker("Adjustment superseded: generation %d replaced by %d", p.gen, current)
		return
	}

	elapsed := time.Since(start)
	if elapsed > d.applyTimeout {
		logging.Get(logging.CategoryRanker).Warn("Adjustment exceeded apply timeout: %s > %s", elapsed, d.applyTimeout)
	}
	logging.Audit().RankAdjusted(adjustment.Plan.ID, p.gen, adjustment.Moved, elapsed.Milliseconds())
	if d.onApply != nil {
		d.onApply(adjustment)
	}
}
