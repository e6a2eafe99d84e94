package cdclog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

type readWriteCloserSyncerTruncater interface {
	io.ReadWriteCloser
	Name() string
	Sync() error
	Truncate(size int64) error
}

// fileSegment is a durable append-only commit-log file and the Go realization of
// SegmentWriter plus the Segment attributes from the data model: a unique
// ascending id, a primary path, a CDC link path, a CDC state, and an on-disk
// size that grows monotonically until close.
type fileSegment struct {
	id              uint64
	filePath        string
	cdcLinkPath     string
	defaultSegBytes uint64

	// mu protects currentSegBytes, maxSegBytes, f, age & closed. It is the
	// segment's append-path lock, distinct from state's CDC lock.
	mu              sync.RWMutex
	currentSegBytes uint64
	maxSegBytes     uint64
	f               readWriteCloserSyncerTruncater
	age             uint64 // diff between now() - id

	closed bool

	state *stateMachine
}

func newFileSegment(path string, id uint64, maxSegBytes uint64, defaultSegBytes uint64) (*fileSegment, error) {
	filePath := filepath.Join(path, fmt.Sprintf("%d%s", id, lFileSuffix))
	f, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, ownerReadableWritable)
	if err != nil {
		return nil, errOpenFile(err)
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, errStatFile(err)
	}

	var age uint64
	now := tNow()
	if id > now {
		// The segment appears to have been created in the future. Is that you Einstein?
		// Set age to 0, as if the segment has just been created, to avoid
		// underflowing the uint64 subtraction below.
		age = 0
	} else {
		age = now - id
	}

	return &fileSegment{
		filePath:        filePath,
		id:              id,
		currentSegBytes: uint64(fi.Size()),
		maxSegBytes:     maxSegBytes,
		defaultSegBytes: defaultSegBytes,
		f:               f,
		age:             age,
		state:           newStateMachine(),
	}, nil
}

func (s *fileSegment) String() string {
	return fmt.Sprintf("segment{file: %s, id:%d, state:%s}", s.filePath, s.id, s.state.get())
}

// IsFull shows whether the segment holds as much data as it is allowed to.
func (s *fileSegment) IsFull() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSegBytes >= s.maxSegBytes
}

// Allocate reserves size bytes in the segment and returns their offset. It
// never blocks and never partially reserves: if the segment cannot fit size
// bytes it returns ok=false and the segment is left untouched, so the caller
// (Allocator) can hand off to a fresh segment and retry.
func (s *fileSegment) Allocate(size uint64) (res Reservation, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentSegBytes+size > s.maxSegBytes {
		return Reservation{}, false, nil
	}

	offset := s.currentSegBytes
	newSize := s.currentSegBytes + size
	if errA := s.f.Truncate(int64(newSize)); errA != nil {
		return Reservation{}, false, errSegmentAllocate(errA)
	}

	s.currentSegBytes = newSize
	s.age = tNow() - s.id

	if errB := s.f.Sync(); errB != nil {
		return Reservation{}, false, errSegmentSync(errB)
	}

	return Reservation{SegmentID: s.id, Offset: offset, Length: size}, true, nil
}

// OnDiskSize returns the segment's current on-disk footprint.
func (s *fileSegment) OnDiskSize() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSegBytes
}

func (s *fileSegment) ageNanos() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.age
}

// Close syncs and closes the underlying file. It is idempotent: a segment may
// be closed once by SwitchSegment (when it stops being active) and again,
// harmlessly, by Discard.
func (s *fileSegment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *fileSegment) closeLocked() error {
	if s.closed {
		return nil
	}

	// Note: sync of file does not also sync its directory.
	if err := s.f.Sync(); err != nil {
		return errSegmentSync(err)
	}
	if err := s.f.Close(); err != nil {
		return errSegmentClose(err)
	}

	s.closed = true
	return nil
}

// remove closes and deletes the segment's primary file from the filesystem.
func (s *fileSegment) remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.closeLocked(); err != nil {
		return err
	}
	if err := os.Remove(s.filePath); err != nil && !os.IsNotExist(err) {
		return errSegmentRemove(err)
	}
	return nil
}

// Read reads all data currently written to the segment.
func (s *fileSegment) Read() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := os.ReadFile(s.f.Name())
	if err != nil {
		return nil, fmt.Errorf("cdclog: segment read failed: %w", err)
	}
	return b, nil
}
