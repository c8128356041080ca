package tcp

import (
	"sync"
	"sync/atomic"
)

// ShutdownSignal is a single-fire broadcast. Raising it more than once is
// harmless; only the first reason is kept.
type ShutdownSignal struct {
	once   sync.Once
	ch     chan struct{}
	reason atomic.Value // string
}

func NewShutdownSignal() *ShutdownSignal {
	return &ShutdownSignal{ch: make(chan struct{})}
}

// Raise fires the signal.
func (s *ShutdownSignal) Raise(reason string) {
	s.once.Do(func() {
		s.reason.Store(reason)
		close(s.ch)
	})
}

// Done is closed once the signal has been raised.
func (s *ShutdownSignal) Done() <-chan struct{} {
	return s.ch
}

// Raised reports whether the signal has fired.
func (s *ShutdownSignal) Raised() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Reason returns why the signal was raised, or "" if it has not been.
func (s *ShutdownSignal) Reason() string {
	if r, ok := s.reason.Load().(string); ok {
		return r
	}
	return ""
}
