package cdclog

import (
	"sync"
	"sync/atomic"
)

// CdcState is the per-segment CDC admission state described in the data model:
// a segment starts Permitted or Forbidden and may move between the two as the
// budget is recalculated, but once it reaches Contains it is terminal.
type CdcState uint32

const (
	StatePermitted CdcState = iota
	StateForbidden
	StateContains
)

func (s CdcState) String() string {
	switch s {
	case StatePermitted:
		return "PERMITTED"
	case StateForbidden:
		return "FORBIDDEN"
	case StateContains:
		return "CONTAINS"
	default:
		return "UNKNOWN"
	}
}

// stateMachine is the dedicated CDC-state lock for one segment. It is deliberately
// separate from the segment's own append-path mutex: CDC-state transitions must be
// serializable with size accounting, but must never block the write hot path, which
// only ever takes the segment's data-append critical section.
type stateMachine struct {
	mu    sync.Mutex
	state atomic.Uint32
}

func newStateMachine() *stateMachine {
	return &stateMachine{}
}

// get returns the current state without locking; state is published via the
// release (Store, under mu) / acquire (Load) pair on the atomic, so readers
// always observe a state some writer actually committed.
func (s *stateMachine) get() CdcState {
	return CdcState(s.state.Load())
}

// Lock/Unlock expose the dedicated CDC lock to CdcSizeTracker, which must update
// size_bytes atomically with a state transition (invariant I3): both happen while
// the lock is held.
func (s *stateMachine) Lock()   { s.mu.Lock() }
func (s *stateMachine) Unlock() { s.mu.Unlock() }

// compareAndSet transitions the state from expected to new if, and only if, the
// current state is still expected. The caller must hold the lock.
func (s *stateMachine) compareAndSet(expected, new CdcState) bool {
	if CdcState(s.state.Load()) != expected {
		return false
	}
	s.state.Store(uint32(new))
	return true
}

// setIfNotContains applies new unconditionally unless the segment has already
// reached Contains, which is terminal. The caller must hold the lock. This is the
// explicit enforcement of the open question in spec §9: the source lets
// setCDCState accept any value, but the allocator never calls it with FORBIDDEN
// on a segment already in CONTAINS, so we make that refusal structural here.
func (s *stateMachine) setIfNotContains(new CdcState) {
	if CdcState(s.state.Load()) == StateContains {
		return
	}
	s.state.Store(uint32(new))
}

// markContains transitions Permitted -> Contains. It is a no-op if the segment is
// already Contains, and panics if the segment is Forbidden: a CDC-tracked
// reservation must never have succeeded against a Forbidden segment (invariant
// I2), so reaching this call in that state means admission was skipped somewhere
// upstream, which is a programming bug, not a runtime condition to recover from.
func (s *stateMachine) markContains() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch CdcState(s.state.Load()) {
	case StateContains:
		return
	case StateForbidden:
		panic("cdclog: markContains called on a FORBIDDEN segment; admission must precede reservation")
	default:
		s.state.Store(uint32(StateContains))
	}
}
