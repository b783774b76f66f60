package ipc

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const frameWriteTimeout = 5 * time.Second

// wsSink adapts a video WebSocket connection into a frame sink with a
// death notification. The death callback fires exactly once, from the
// connection's read goroutine, with no sink locks held.
type wsSink struct {
	writeMu sync.Mutex
	conn    *websocket.Conn

	deathMu sync.Mutex
	deathFn func()
	dead    bool
}

func newWSSink(conn *websocket.Conn) *wsSink {
	return &wsSink{conn: conn}
}

func (s *wsSink) OnVideoFrame(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *wsSink) NotifyDeath(fn func()) (revoke func()) {
	s.deathMu.Lock()
	defer s.deathMu.Unlock()
	if s.dead {
		// Already unreachable: fire asynchronously, still exactly once.
		go fn()
		return func() {}
	}
	s.deathFn = fn
	return func() {
		s.deathMu.Lock()
		defer s.deathMu.Unlock()
		s.deathFn = nil
	}
}

// died reports the endpoint unreachable. Idempotent.
func (s *wsSink) died() {
	s.deathMu.Lock()
	if s.dead {
		s.deathMu.Unlock()
		return
	}
	s.dead = true
	fn := s.deathFn
	s.deathFn = nil
	s.deathMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *wsSink) close() {
	s.conn.Close()
}
