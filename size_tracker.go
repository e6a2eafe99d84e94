package cdclog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/komuw/cdclog/cdcconfig"
	"github.com/komuw/cdclog/cdcmetrics"
	"golang.org/x/time/rate"
)

// activeSegmentProvider is the sliver of SegmentManager that CdcSizeTracker
// needs to re-evaluate admission after a recalc: whichever segment is active
// *at the moment the recalc runs*, not whichever was active when the recalc
// was submitted (see spec §9's open question on this).
type activeSegmentProvider interface {
	activeSegment() (*fileSegment, error)
}

// ErrorHandler is how a directory-walk failure escapes CdcSizeTracker. In the
// full system this is the commit log's own error handler, which applies the
// configured disk-failure policy (stop, die, ignore); that policy is outside
// this core, so ErrorHandler is just a function the core calls.
type ErrorHandler func(error)

// SizeTracker is CdcSizeTracker: it aggregates unflushed-reserved and
// flushed-on-disk CDC bytes, decides Permitted/Forbidden for new segments, and
// drives the asynchronous recalc that reconciles the two.
type SizeTracker struct {
	budgetBytes     int64
	defaultSegBytes int64
	cdcRawDirectory string

	sizeBytes atomic.Int64

	limiter *rate.Limiter
	sizer   dirSizer

	manager activeSegmentProvider

	errHandler ErrorHandler
	metrics    *cdcmetrics.Metrics

	recalcCh chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewSizeTracker constructs a SizeTracker from config, starts its single
// recalc worker, and returns it. Call bind once a SegmentManager exists, since
// the two are mutually referential (the manager creates segments that the
// tracker must size, and recalc must ask the manager which segment is active).
func NewSizeTracker(cfg *cdcconfig.Config, errHandler ErrorHandler, metrics *cdcmetrics.Metrics) *SizeTracker {
	permitsPerSecond := 1000.0 / float64(cfg.CDCFreeSpaceCheckIntervalMS)
	t := &SizeTracker{
		budgetBytes:     cfg.BudgetBytes(),
		defaultSegBytes: int64(cfg.DefaultSegmentBytes()),
		cdcRawDirectory: cfg.CDCRawDirectory,
		limiter:         rate.NewLimiter(rate.Limit(permitsPerSecond), 1),
		errHandler:      errHandler,
		metrics:         metrics,
		recalcCh:        make(chan struct{}, 1),
		done:            make(chan struct{}),
	}
	go t.recalcLoop()
	return t
}

// bind attaches the SegmentManager this tracker re-evaluates admission
// against during recalc. It must be called exactly once before the tracker's
// recalc worker is relied upon to re-admit a Forbidden segment.
func (t *SizeTracker) bind(manager activeSegmentProvider) {
	t.manager = manager
}

// SizeBytes returns the current best-effort CDC byte count.
func (t *SizeTracker) SizeBytes() int64 {
	return t.sizeBytes.Load()
}

func (t *SizeTracker) setSize(v int64) {
	t.sizeBytes.Store(v)
	if t.metrics != nil {
		t.metrics.SizeBytes.Set(float64(v))
	}
}

// onNewSegment decides the initial CDC state of a freshly created segment and,
// if it is admitted, reserves default_segment_bytes against the budget.
func (t *SizeTracker) onNewSegment(seg *fileSegment) {
	seg.state.Lock()
	total := t.defaultSegBytes + t.sizeBytes.Load()
	if total > t.budgetBytes {
		seg.state.setIfNotContains(StateForbidden)
	} else {
		seg.state.setIfNotContains(StatePermitted)
		t.setSize(t.sizeBytes.Load() + t.defaultSegBytes)
	}
	seg.state.Unlock()

	t.submitOverflowRecalc()
}

// onDiscard updates accounting when a segment is torn down. The add before
// subtract ordering matters: it prevents a transient undercount during which a
// new segment could be mistakenly created in Permitted.
func (t *SizeTracker) onDiscard(seg *fileSegment) {
	seg.state.Lock()
	st := seg.state.get()
	if st == StateContains {
		t.setSize(t.sizeBytes.Load() + int64(seg.OnDiskSize()))
	}
	if st != StateForbidden {
		t.setSize(t.sizeBytes.Load() - t.defaultSegBytes)
	}
	seg.state.Unlock()

	t.submitOverflowRecalc()
}

// submitOverflowRecalc queues at most one recalc task; additional submissions
// while one is pending are silently dropped, per the single-slot executor
// design note.
func (t *SizeTracker) submitOverflowRecalc() {
	select {
	case t.recalcCh <- struct{}{}:
	case <-t.done:
	default:
		if t.metrics != nil {
			t.metrics.RecalcDropped.Inc()
		}
	}
}

func (t *SizeTracker) recalcLoop() {
	for {
		select {
		case <-t.recalcCh:
			select {
			case <-t.done:
				return
			default:
			}
			t.recalculateOverflow()
		case <-t.done:
			return
		}
	}
}

// recalculateOverflow walks the CDC-raw directory, replaces size_bytes
// wholesale with the truth it found, and, if the currently active segment is
// Forbidden, re-runs onNewSegment against it: the re-admission path once a
// consumer has drained enough of the directory.
func (t *SizeTracker) recalculateOverflow() {
	if err := t.limiter.Wait(context.Background()); err != nil {
		t.handleError(fmt.Errorf("cdclog: recalc rate limiter wait failed: %w", err))
		return
	}

	start := time.Now()
	total, err := t.sizer.walk(t.cdcRawDirectory)
	if t.metrics != nil {
		t.metrics.RecalcDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		t.handleError(fmt.Errorf("cdclog: cdc directory walk failed: %w", err))
		return
	}

	t.setSize(total)

	if t.manager == nil {
		return
	}
	seg, err := t.manager.activeSegment()
	if err != nil {
		return
	}
	if seg.state.get() == StateForbidden {
		t.onNewSegment(seg)
	}
}

func (t *SizeTracker) handleError(err error) {
	if t.errHandler != nil {
		t.errHandler(err)
	}
}

// Shutdown stops the recalc worker gracefully; an in-flight walk runs to
// completion, but no further recalcs are started afterwards.
func (t *SizeTracker) Shutdown() {
	t.stopOnce.Do(func() { close(t.done) })
}
