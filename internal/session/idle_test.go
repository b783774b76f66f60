package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubSinks struct{ active atomic.Bool }

func (s *stubSinks) Active() bool { return s.active.Load() }

type exitRecorder struct {
	mu    sync.Mutex
	fired bool
	ch    chan struct{}
}

func newExitRecorder() *exitRecorder {
	return &exitRecorder{ch: make(chan struct{})}
}

func (e *exitRecorder) exit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.fired {
		e.fired = true
		close(e.ch)
	}
}

func (e *exitRecorder) didFire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fired
}

func TestIdleSupervisorTerminates(t *testing.T) {
	activity := NewActivity()
	sinks := &stubSinks{}
	exit := newExitRecorder()

	w := NewIdleSupervisor(activity, sinks, 50*time.Millisecond, 10*time.Millisecond, exit.exit)
	w.Start()
	defer w.Stop()

	select {
	case <-exit.ch:
	case <-time.After(time.Second):
		t.Fatal("supervisor never terminated an idle session")
	}
}

func TestIdleSupervisorActivityResetsClock(t *testing.T) {
	activity := NewActivity()
	sinks := &stubSinks{}
	exit := newExitRecorder()

	w := NewIdleSupervisor(activity, sinks, 200*time.Millisecond, 20*time.Millisecond, exit.exit)
	w.Start()
	defer w.Stop()

	// Keep issuing commands just under the threshold; the session must
	// survive well past it.
	for i := 0; i < 6; i++ {
		time.Sleep(100 * time.Millisecond)
		activity.Mark()
	}
	assert.False(t, exit.didFire(), "active session must not self-terminate")
}

func TestIdleSupervisorSinkPreventsTermination(t *testing.T) {
	activity := NewActivity()
	sinks := &stubSinks{}
	sinks.active.Store(true)
	exit := newExitRecorder()

	w := NewIdleSupervisor(activity, sinks, 30*time.Millisecond, 10*time.Millisecond, exit.exit)
	w.Start()
	defer w.Stop()

	time.Sleep(150 * time.Millisecond)
	assert.False(t, exit.didFire(), "a registered sink keeps the session alive")
}

func TestIdleSupervisorStop(t *testing.T) {
	activity := NewActivity()
	exit := newExitRecorder()

	w := NewIdleSupervisor(activity, &stubSinks{}, 30*time.Millisecond, 10*time.Millisecond, exit.exit)
	w.Start()
	w.Stop()
	w.Stop() // idempotent

	time.Sleep(100 * time.Millisecond)
	assert.False(t, exit.didFire(), "stopped supervisor must not fire")
}

func TestActivityIdleFor(t *testing.T) {
	clock := time.Unix(1000, 0)
	a := newActivityAt(func() time.Time { return clock })
	assert.Equal(t, time.Duration(0), a.IdleFor())

	clock = clock.Add(7 * time.Second)
	assert.Equal(t, 7*time.Second, a.IdleFor())

	a.Mark()
	assert.Equal(t, time.Duration(0), a.IdleFor())
}
