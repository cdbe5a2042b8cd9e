package asyncrt

import "sync/atomic"

// loopState is the lifecycle state of a Loop.
//
//	StateCreated  (0) -> StateRunning (1)     [Run]
//	StateRunning  (1) -> StateDraining (2)    [Shutdown]
//	StateDraining (2) -> StateClosed   (3)    [shutdown drain complete]
//	StateCreated  (0) -> StateClosed   (3)    [Shutdown before Run]
type loopState uint32

const (
	stateCreated loopState = iota
	stateRunning
	stateDraining
	stateClosed
)

func (s loopState) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateRunning:
		return "running"
	case stateDraining:
		return "draining"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// atomicLoopState is a lock-free wrapper around loopState.
type atomicLoopState struct {
	v atomic.Uint32
}

func (s *atomicLoopState) load() loopState { return loopState(s.v.Load()) }

func (s *atomicLoopState) store(v loopState) { s.v.Store(uint32(v)) }

func (s *atomicLoopState) cas(from, to loopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
