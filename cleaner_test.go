package cdclog

import (
	"testing"
	"time"
)

func TestNewCleaner(t *testing.T) {
	t.Parallel()

	t.Run("zero or negative maxLogBytes errors", func(t *testing.T) {
		t.Parallel()
		if _, err := newCleaner(0, 1); err == nil {
			t.Errorf("\ngot \n\tnil \nwanted \n\t%#+v", errBadCleaner)
		}
	})

	t.Run("zero or negative maxLogAge errors", func(t *testing.T) {
		t.Parallel()
		if _, err := newCleaner(1, 0); err == nil {
			t.Errorf("\ngot \n\tnil \nwanted \n\t%#+v", errBadCleaner)
		}
		if _, err := newCleaner(1, -1); err == nil {
			t.Errorf("\ngot \n\tnil \nwanted \n\t%#+v", errBadCleaner)
		}
	})
}

func TestCleanByBytes(t *testing.T) {
	t.Parallel()

	t.Run("total size over budget discards oldest segments", func(t *testing.T) {
		t.Parallel()

		cl, err := newCleaner(10, time.Hour)
		if err != nil {
			t.Fatal("\n\t", err)
		}

		segs := []*fileSegment{}
		for i := 0; i < 10; i++ {
			s, removePath := createSegmentForTests(t)
			defer removePath()
			if _, ok, errA := s.Allocate(1); errA != nil || !ok {
				t.Fatal("\n\t", errA, ok)
			}
			segs = append(segs, s)
		}

		cleaned, errB := cl.cleanByBytes(segs)
		if errB != nil {
			t.Fatal("\n\t", errB)
		}
		if len(cleaned) != 10 {
			t.Errorf("\ngot \n\t%#+v \nwanted \n\t%#+v", len(cleaned), 10)
		}
	})

	t.Run("retains at least one segment", func(t *testing.T) {
		t.Parallel()

		cl, err := newCleaner(1, time.Hour)
		if err != nil {
			t.Fatal("\n\t", err)
		}

		s, removePath := createSegmentForTests(t)
		defer removePath()

		cleaned, errA := cl.cleanByBytes([]*fileSegment{s})
		if errA != nil {
			t.Fatal("\n\t", errA)
		}
		if len(cleaned) != 1 {
			t.Errorf("\ngot \n\t%#+v \nwanted \n\t%#+v", len(cleaned), 1)
		}
	})
}

type recordingDiscarder struct {
	discarded []*fileSegment
}

func (r *recordingDiscarder) Discard(seg *fileSegment, del bool) error {
	r.discarded = append(r.discarded, seg)
	return seg.remove()
}

func TestCleanDelegatesToBoundDiscarder(t *testing.T) {
	t.Parallel()

	cl, err := newCleaner(5, time.Hour)
	if err != nil {
		t.Fatal("\n\t", err)
	}
	rec := &recordingDiscarder{}
	cl.bind(rec)

	segs := []*fileSegment{}
	for i := 0; i < 6; i++ {
		s, removePath := createSegmentForTests(t)
		defer removePath()
		if _, ok, errA := s.Allocate(1); errA != nil || !ok {
			t.Fatal("\n\t", errA, ok)
		}
		segs = append(segs, s)
	}

	cleaned, err := cl.clean(segs)
	if err != nil {
		t.Fatal("\n\t", err)
	}
	if len(cleaned) >= len(segs) {
		t.Errorf("\ngot \n\t%#+v segments remaining, wanted fewer than %#+v", len(cleaned), len(segs))
	}
	if len(rec.discarded) == 0 {
		t.Errorf("\ngot \n\t%#+v discards, wanted at least one", len(rec.discarded))
	}
}
