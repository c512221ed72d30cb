package domain

import (
	"sync"
	"sync/atomic"
)

type State int32

const (
	StateRunning State = iota
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// ProcessState is the process-wide run flag. It starts RUNNING and may move to STOPPED once.
type ProcessState struct {
	state atomic.Int32

	mu     sync.Mutex
	reason string
}

func NewProcessState() *ProcessState {
	return &ProcessState{}
}

func (p *ProcessState) Get() State {
	return State(p.state.Load())
}

// Stop moves the state to STOPPED. Only the first call wins and returns true.
func (p *ProcessState) Stop(reason string) bool {
	if !p.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) {
		return false
	}
	p.mu.Lock()
	p.reason = reason
	p.mu.Unlock()
	return true
}

func (p *ProcessState) Reason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}
