package cdclog

import (
	"os"
	"time"

	"github.com/komuw/cdclog/cdcconfig"
	"github.com/komuw/cdclog/cdcmetrics"
	"github.com/rs/zerolog"
)

// System bundles the fully wired commit log, its CDC size tracker, and its
// allocator: the handful of components a caller needs in order to admit
// writes under a CDC budget.
type System struct {
	Log       *Log
	Tracker   *SizeTracker
	Allocator *Allocator
}

// New wires together a complete CDC-aware commit log from cfg: a Log bound to
// a SizeTracker and a CdcLinkManager, with an Allocator sitting in front of it
// that also serves as the Log's segment discarder during cleanup.
func New(cfg *cdcconfig.Config, maxLogBytes uint64, maxLogAge time.Duration, errHandler ErrorHandler, logger zerolog.Logger, metrics *cdcmetrics.Metrics) (*System, error) {
	if err := os.MkdirAll(cfg.CDCRawDirectory, ownerReadableWritable); err != nil {
		return nil, errMkDir(err)
	}
	links := newLinkManager(cfg.CDCRawDirectory)

	tracker := NewSizeTracker(cfg, errHandler, metrics)

	defaultSegBytes := cfg.DefaultSegmentBytes()
	l, err := NewLog(cfg.CommitLogDirectory, defaultSegBytes, defaultSegBytes, maxLogBytes, maxLogAge, tracker, links)
	if err != nil {
		tracker.Shutdown()
		return nil, err
	}

	alloc := NewAllocator(l, tracker, links, cfg.CDCRawDirectory, logger, metrics)
	l.bindDiscarder(alloc)

	return &System{Log: l, Tracker: tracker, Allocator: alloc}, nil
}

// Shutdown stops the size tracker's recalc worker. It does not close the
// active segment: callers that want a clean shutdown of in-flight appends
// should discard the active segment explicitly first.
func (s *System) Shutdown() {
	s.Tracker.Shutdown()
}
