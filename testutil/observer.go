package testutil

import (
	"sync"
	"testing"
	"time"
)

// Ended is one OnRecordingEnded call.
type Ended struct {
	Path    string
	Success bool
}

// ObserverRecorder records recorder observer callbacks. It satisfies
// recorder.Observer.
type ObserverRecorder struct {
	mu     sync.Mutex
	ended  []Ended
	failed []error
	signal chan struct{}
}

func NewObserverRecorder() *ObserverRecorder {
	return &ObserverRecorder{signal: make(chan struct{}, 64)}
}

func (o *ObserverRecorder) OnRecordingEnded(path string, success bool) {
	o.mu.Lock()
	o.ended = append(o.ended, Ended{Path: path, Success: success})
	o.mu.Unlock()
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *ObserverRecorder) OnRecordingFailed(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, err)
}

// EndedCalls returns a copy of the OnRecordingEnded calls so far.
func (o *ObserverRecorder) EndedCalls() []Ended {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Ended(nil), o.ended...)
}

// FailedCalls returns a copy of the OnRecordingFailed errors so far.
func (o *ObserverRecorder) FailedCalls() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.failed...)
}

// WaitEnded blocks until OnRecordingEnded has been called n times and
// returns the calls.
func (o *ObserverRecorder) WaitEnded(t *testing.T, n int, timeout time.Duration) []Ended {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if calls := o.EndedCalls(); len(calls) >= n {
			return calls
		}
		select {
		case <-o.signal:
		case <-deadline:
			t.Fatalf("OnRecordingEnded called %d times, want %d", len(o.EndedCalls()), n)
			return nil
		}
	}
}
