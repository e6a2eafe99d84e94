// Package cdclog implements a CDC-aware commit-log segment allocator: the part
// of a distributed column store that admits writes into durable, append-only
// log segments while enforcing a bounded on-disk budget for change-data-capture
// (CDC) data, rejecting CDC-tracked writes with a distinct error once that
// budget is exhausted rather than stalling the write path or dropping data.
package cdclog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// tNow returns the number of nanoseconds elapsed since January 1, 1970 UTC. The
// result is undefined for a date before the year 1678 or after 2262; see
// time.UnixNano for more. Segment ids are assigned from this clock, which
// keeps them both unique and monotonically ascending under normal operation.
func tNow() uint64 {
	return uint64(time.Now().In(time.UTC).UnixNano())
}

// Log is SegmentManager: it owns the ordered list of segments for one
// commit-log directory, publishes the current active segment, and performs
// the hand-off to a fresh one when the active segment is full.
type Log struct {
	path        string
	initialized bool

	maxSegBytes     uint64
	defaultSegBytes uint64

	cleaner *cleaner
	tracker *SizeTracker
	links   *linkManager

	// mu protects segments. Once NewLog returns, every read takes mu.RLock and
	// every write takes mu.Lock; segmentWrite is the only place that assigns
	// l.segments.
	mu sync.RWMutex
	// The latest segment is at the end of the slice: l.segments[len(l.segments)-1]
	// is always the active segment.
	segments []*fileSegment
}

// NewLog creates or reopens a commit log at path. maxSegBytes bounds each
// segment's size; maxLogBytes and maxLogAge bound how much of the log the
// cleaner retains. tracker and links must already exist; NewLog binds itself
// to tracker, and the caller is expected to bind an Allocator as the Log's
// discarder afterward (see Log.bindDiscarder), since these components are
// mutually referential.
func NewLog(path string, maxSegBytes uint64, defaultSegBytes uint64, maxLogBytes uint64, maxLogAge time.Duration, tracker *SizeTracker, links *linkManager) (*Log, error) {
	cl, err := newCleaner(maxLogBytes, maxLogAge)
	if err != nil {
		return nil, err
	}

	l := &Log{
		path:            path,
		initialized:     true,
		maxSegBytes:     maxSegBytes,
		defaultSegBytes: defaultSegBytes,
		cleaner:         cl,
		tracker:         tracker,
		links:           links,
	}

	if err := l.createPath(); err != nil {
		return nil, err
	}
	if err := l.open(); err != nil {
		return nil, err
	}

	tracker.bind(l)
	return l, nil
}

func (l *Log) String() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fmt.Sprintf("cdclog.Log{path:%s, segments: %s}", l.path, l.segments)
}

func (l *Log) createPath() error {
	if err := os.MkdirAll(l.path, ownerReadableWritable); err != nil {
		return errMkDir(err)
	}
	return nil
}

func (l *Log) open() error {
	if !l.initialized {
		return errLogNotInitialized
	}

	files, err := os.ReadDir(l.path)
	if err != nil {
		return errReadDir(err)
	}

	segs := []*fileSegment{}
	for _, file := range files {
		if filepath.Ext(file.Name()) != lFileSuffix {
			continue
		}
		// files are named with their id (see tNow) before the suffix.
		fNoExt := strings.TrimSuffix(file.Name(), lFileSuffix)
		id, errA := strconv.ParseUint(fNoExt, 10, 64)
		if errA != nil {
			return errParseSegmentID(errA)
		}
		seg, errB := newFileSegment(l.path, id, l.maxSegBytes, l.defaultSegBytes)
		if errB != nil {
			return errB
		}
		segs = append(segs, seg)
	}

	if len(segs) == 0 {
		// the directory is empty. create a new segment from scratch.
		seg, errC := l.createSegment(tNow())
		if errC != nil {
			return errC
		}
		l.segmentWrite([]*fileSegment{seg}, nil)
		return nil
	}

	// the latest segment should be at the end of the slice.
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })

	// Recovering segments from disk: the CDC link for each may or may not
	// still exist (the consumer, or a prior clean shutdown, may have left it
	// in place). Reattach an existing link rather than re-deriving its
	// absence, and rebuild accounting for every recovered segment in
	// ascending id order so size_bytes reflects the whole recovered set, not
	// just whichever segment is active. This recovery path sits outside what
	// spec.md enumerates (replay is an external collaborator there); it is a
	// deliberate, documented choice, not a guess.
	for _, seg := range segs {
		linkPath := l.links.cdcLinkPath(seg.filePath)
		if _, statErr := os.Stat(linkPath); statErr == nil {
			seg.cdcLinkPath = linkPath
		} else {
			created, linkErr := l.links.createLink(seg.filePath)
			if linkErr != nil {
				return fmt.Errorf("cdclog: recovering cdc link for %s failed: %w", seg.filePath, linkErr)
			}
			seg.cdcLinkPath = created
		}
		l.tracker.onNewSegment(seg)
	}
	l.segmentWrite(segs, nil)
	return nil
}

// createSegment creates a brand-new segment, links it into the CDC-raw
// directory, and sets its initial CDC state. Link creation failure is fatal
// here: per §7, the segment must never be exposed as active if the node
// cannot honor the CDC contract for it.
func (l *Log) createSegment(id uint64) (*fileSegment, error) {
	seg, err := newFileSegment(l.path, id, l.maxSegBytes, l.defaultSegBytes)
	if err != nil {
		return nil, err
	}

	linkPath, err := l.links.createLink(seg.filePath)
	if err != nil {
		_ = seg.Close()
		return nil, fmt.Errorf("cdclog: segment not activated, %w", err)
	}
	seg.cdcLinkPath = linkPath

	l.tracker.onNewSegment(seg)
	return seg, nil
}

func (l *Log) segmentWrite(segs []*fileSegment, seg *fileSegment) {
	if seg != nil {
		segs = append(segs, seg)
	}
	l.segments = segs
}

func (l *Log) segmentRead() []*fileSegment {
	return l.segments
}

func (l *Log) activeLocked() (*fileSegment, error) {
	n := len(l.segmentRead())
	if n <= 0 {
		return nil, errNoActiveSegment
	}
	return l.segmentRead()[n-1], nil
}

// Active returns the current active segment, i.e. the one new reservations
// are attempted against.
func (l *Log) Active() (*fileSegment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.activeLocked()
}

// activeSegment satisfies activeSegmentProvider, letting CdcSizeTracker ask
// which segment is active right now, independent of whichever one was active
// when a recalc was submitted.
func (l *Log) activeSegment() (*fileSegment, error) {
	return l.Active()
}

// SwitchSegment promotes a fresh segment to active in place of old and closes
// old to further appends. If another writer has already performed the
// hand-off (old is no longer active), this is a no-op: the caller's next
// Active() call will observe the winning segment and retry against it.
func (l *Log) SwitchSegment(old *fileSegment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.activeLocked()
	if err == nil && old != nil && current != old {
		return nil
	}

	seg, err := l.createSegment(tNow())
	if err != nil {
		return err
	}
	l.segmentWrite(l.segmentRead(), seg)

	if old != nil {
		// we do not care about this error: the log now has a new active
		// segment regardless of whether the old one synced cleanly on close.
		_ = old.Close()
	}
	return nil
}

// Path returns the directory, in the filesystem, of the commit log.
func (l *Log) Path() string {
	return l.path
}

// Clean applies the cleaner's size and age retention to the log, deleting the
// older segments it does not retain from the log (and, via the bound
// discarder, from the filesystem and CDC-raw directory).
func (l *Log) Clean() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cleaned, err := l.cleaner.clean(l.segments)
	if err != nil {
		return err
	}
	l.segmentWrite(cleaned, nil)
	return nil
}

// bindDiscarder wires the cleaner's segment teardown through d (normally an
// Allocator), so that discarding a segment during cleanup goes through CDC
// accounting and link/sidecar removal instead of a bare filesystem delete.
func (l *Log) bindDiscarder(d discarder) {
	l.cleaner.bind(d)
}

const internalMaxToRead = 64 * 1000 * 1000 // 64Mb

// Read reads up to maxToRead bytes from the commit log starting after offset.
// maxToRead is a hint; this method can read more or less than that. If it
// encounters an error it still returns all data read so far, its offset, and
// the error.
func (l *Log) Read(offset uint64, maxToRead uint64) (dataRead []byte, lastReadOffset uint64, err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	max := int(maxToRead)
	if max <= 0 {
		max = internalMaxToRead
	} else if max > internalMaxToRead*10 {
		max = internalMaxToRead * 10
	}

	var sizeReadSofar int
	for _, seg := range l.segments {
		if seg.id <= offset {
			continue
		}
		b, errR := seg.Read()
		if errR != nil {
			return dataRead, lastReadOffset, errR
		}
		dataRead = append(dataRead, b...)
		lastReadOffset = seg.id
		sizeReadSofar += len(b)
		if sizeReadSofar >= max {
			break
		}
	}
	return dataRead, lastReadOffset, nil
}
