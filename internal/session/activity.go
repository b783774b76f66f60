package session

import (
	"sync/atomic"
	"time"
)

// Activity records the time of the last inbound command. Written by every
// command path, read by the idle supervisor; last-writer-wins is fine, no
// cross-command ordering is needed.
type Activity struct {
	now  func() time.Time
	last atomic.Int64
}

func NewActivity() *Activity {
	return newActivityAt(time.Now)
}

func newActivityAt(now func() time.Time) *Activity {
	a := &Activity{now: now}
	a.Mark()
	return a
}

func (a *Activity) Mark() {
	a.last.Store(a.now().UnixNano())
}

// IdleFor returns the elapsed time since the last mark.
func (a *Activity) IdleFor() time.Duration {
	return a.now().Sub(time.Unix(0, a.last.Load()))
}
