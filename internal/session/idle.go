package session

import (
	"log"
	"sync"
	"time"
)

const (
	// DefaultIdleThreshold is how long a session with no sink and no
	// command activity survives before self-terminating.
	DefaultIdleThreshold = 15 * time.Second
	// DefaultIdleTick is the supervisor's check interval.
	DefaultIdleTick = time.Second
)

// SinkStatus reports whether a remote endpoint is currently registered.
type SinkStatus interface {
	Active() bool
}

// IdleSupervisor terminates the whole session when no sink is registered
// and no command has arrived within the threshold. It protects against
// orphaned sessions piling up after a client crashes without teardown.
type IdleSupervisor struct {
	activity  *Activity
	sinks     SinkStatus
	threshold time.Duration
	tick      time.Duration
	exit      func()

	stopOnce sync.Once
	stop     chan struct{}
}

func NewIdleSupervisor(activity *Activity, sinks SinkStatus, threshold, tick time.Duration, exit func()) *IdleSupervisor {
	if threshold <= 0 {
		threshold = DefaultIdleThreshold
	}
	if tick <= 0 {
		tick = DefaultIdleTick
	}
	return &IdleSupervisor{
		activity:  activity,
		sinks:     sinks,
		threshold: threshold,
		tick:      tick,
		exit:      exit,
		stop:      make(chan struct{}),
	}
}

func (w *IdleSupervisor) Start() {
	go w.run()
}

func (w *IdleSupervisor) run() {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if w.sinks.Active() {
				continue
			}
			if idle := w.activity.IdleFor(); idle > w.threshold {
				log.Printf("no sink and no activity for %v, exiting", idle.Round(time.Millisecond))
				w.exit()
				return
			}
		}
	}
}

func (w *IdleSupervisor) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}
