package ipc

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"keyhole/internal/capture"
	"keyhole/internal/control"
)

// Server serves the control and video channels. At most one video
// endpoint is live; a new connection detaches the previous one.
type Server struct {
	svc   *control.Service
	token string

	upgrader websocket.Upgrader

	mu      sync.Mutex
	current *wsSink
}

func NewServer(svc *control.Service, token string) *Server {
	return &Server{
		svc:   svc,
		token: token,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /control", s.handleControl)
	mux.HandleFunc("GET /video", s.handleVideo)
	return mux
}

func (s *Server) ListenAndServe(addr string) error {
	log.Printf("ipc listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) checkAuth(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.token
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("control upgrade: %v", err)
		return
	}
	defer conn.Close()

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("control channel closed: %v", err)
			}
			return
		}
		if reply := s.dispatch(cmd); reply != nil {
			if err := conn.WriteJSON(reply); err != nil {
				log.Printf("control reply failed: %v", err)
				return
			}
		}
	}
}

// dispatch routes one command to the control service and builds the
// reply for synchronous-return ops, nil for one-way ops.
func (s *Server) dispatch(cmd Command) *Reply {
	switch cmd.Op {
	case OpEnsureDisplay:
		s.svc.EnsureDisplay(cmd.Width, cmd.Height, cmd.DPI, cmd.BitrateKbps)
		return s.displayReply(cmd.Seq)
	case OpDestroyDisplay:
		s.svc.DestroyDisplay()
		return s.displayReply(cmd.Seq)
	case OpLaunchApp:
		s.svc.LaunchApp(cmd.App)
	case OpTap:
		s.svc.Tap(cmd.X, cmd.Y)
	case OpSwipe:
		s.svc.Swipe(cmd.X, cmd.Y, cmd.X2, cmd.Y2, cmd.DurationMs)
	case OpTouchDown:
		s.svc.TouchDown(cmd.X, cmd.Y)
	case OpTouchMove:
		s.svc.TouchMove(cmd.X, cmd.Y)
	case OpTouchUp:
		s.svc.TouchUp(cmd.X, cmd.Y)
	case OpKey:
		s.svc.InjectKey(cmd.KeyCode)
	case OpScreenshot:
		return &Reply{Op: OpScreenshot, Seq: cmd.Seq, Image: s.svc.RequestScreenshot()}
	case OpDisplayID:
		return s.displayReply(cmd.Seq)
	default:
		log.Printf("unknown command op %q", cmd.Op)
	}
	return nil
}

func (s *Server) displayReply(seq int64) *Reply {
	id := s.svc.DisplayID()
	reply := &Reply{Op: OpDisplayID, Seq: seq, DisplayID: &id}
	if id != capture.NoDisplay {
		if size, ok := s.svc.VideoSize(); ok {
			reply.Size = &size
		}
	}
	return reply
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("video upgrade: %v", err)
		return
	}

	snk := newWSSink(conn)

	// Single endpoint: detach and close any previous connection first.
	s.mu.Lock()
	prev := s.current
	s.current = snk
	s.mu.Unlock()
	if prev != nil {
		prev.close()
	}

	s.svc.SetVideoSink(snk)
	log.Printf("video sink attached from %s", r.RemoteAddr)

	// The consumer never sends data; this read loop exists to observe
	// the connection dying.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	snk.died()
	conn.Close()

	s.mu.Lock()
	if s.current == snk {
		s.current = nil
	}
	s.mu.Unlock()
	log.Printf("video sink from %s detached", r.RemoteAddr)
}
