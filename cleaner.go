package cdclog

import (
	"errors"
	"time"
)

var errBadCleaner = errors.New("cdclog: cleaner cannot have negative or zero maxLogBytes/maxLogAge")

// discarder is the sliver of Allocator that cleaner needs: CDC-aware segment
// teardown (accounting, link, and sidecar cleanup) ahead of the actual
// filesystem delete.
type discarder interface {
	Discard(seg *fileSegment, del bool) error
}

// cleaner retains the newest segments and deletes the older rest from the log
// and, via discard, from the filesystem. Walking from the newest segment
// backward, it keeps a segment while the running total of the sizes of the
// newer segments already seen is under maxLogBytes, and then, on what is left,
// while the running total of their ages is under maxLogAge. The newest
// segment is always kept.
type cleaner struct {
	maxLogBytes uint64
	maxLogAge   time.Duration
	discard     discarder
}

func newCleaner(maxLogBytes uint64, maxLogAge time.Duration) (*cleaner, error) {
	if maxLogBytes <= 0 || maxLogAge <= 0 {
		return nil, errBadCleaner
	}
	return &cleaner{maxLogBytes: maxLogBytes, maxLogAge: maxLogAge}, nil
}

func (c *cleaner) bind(d discarder) {
	c.discard = d
}

func (c *cleaner) clean(segs []*fileSegment) ([]*fileSegment, error) {
	if len(segs) <= 1 {
		// retain at least one
		return segs, nil
	}

	// limit by number of bytes first.
	segs, err := c.cleanByBytes(segs)
	if err != nil {
		return nil, err
	}

	// then by age.
	return c.cleanByAge(segs)
}

func (c *cleaner) cleanByBytes(segs []*fileSegment) ([]*fileSegment, error) {
	if len(segs) <= 1 {
		return segs, nil
	}

	var total uint64
	cleanedSegs := []*fileSegment{}
	var indexOfCleanedSeg []int

	// start with the most active segment.
	for i := len(segs) - 1; i >= 0; i-- {
		s := segs[i]
		if total < c.maxLogBytes {
			// it means the first will always be added. we want the latest
			// segment to always be at the end of the list, so we prepend
			// instead of append.
			cleanedSegs = append([]*fileSegment{s}, cleanedSegs...)
			indexOfCleanedSeg = append(indexOfCleanedSeg, i)
		}
		total += s.OnDiskSize()
	}

	if len(cleanedSegs) > 0 {
		for i := len(segs) - 1; i >= 0; i-- {
			if contains(indexOfCleanedSeg, i) {
				continue
			}
			if err := c.discardSegment(segs[i]); err != nil {
				return segs, err
			}
		}
		return cleanedSegs, nil
	}
	return segs, nil
}

func (c *cleaner) cleanByAge(segs []*fileSegment) ([]*fileSegment, error) {
	if len(segs) <= 1 {
		return segs, nil
	}

	var total uint64
	cleanedSegs := []*fileSegment{}
	var indexOfCleanedSeg []int

	// start with the most active segment.
	for i := len(segs) - 1; i >= 0; i-- {
		s := segs[i]
		if total < uint64(c.maxLogAge.Nanoseconds()) {
			cleanedSegs = append([]*fileSegment{s}, cleanedSegs...)
			indexOfCleanedSeg = append(indexOfCleanedSeg, i)
		}
		total += s.ageNanos()
	}

	if len(cleanedSegs) > 0 {
		for i := len(segs) - 1; i >= 0; i-- {
			if contains(indexOfCleanedSeg, i) {
				continue
			}
			if err := c.discardSegment(segs[i]); err != nil {
				return segs, err
			}
		}
		return cleanedSegs, nil
	}
	return segs, nil
}

func (c *cleaner) discardSegment(s *fileSegment) error {
	if c.discard == nil {
		// no discarder bound yet: fall back to a bare close+remove so the
		// cleaner still functions standalone (e.g. in tests that exercise it
		// without a full Allocator wired up).
		return s.remove()
	}
	return c.discard.Discard(s, true)
}

// contains tells whether a contains x.
func contains(a []int, x int) bool {
	for _, n := range a {
		if x == n {
			return true
		}
	}
	return false
}
