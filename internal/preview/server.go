package preview

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"keyhole/internal/types"
)

// SinkSetter points the frame stream at a new sink; nil clears it.
type SinkSetter interface {
	SetVideoSink(ref types.Sink)
}

// Server answers WHEP requests and wires the accepted viewer into the
// engine's frame stream. One viewer at a time: a new offer tears down
// the previous session.
type Server struct {
	token string
	sinks SinkSetter

	mu   sync.Mutex
	sess *Session
}

func NewServer(sinks SinkSetter, token string) *Server {
	return &Server{sinks: sinks, token: token}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /whep", s.handleOffer)
	mux.HandleFunc("PATCH /whep/{id}", s.handlePatch)
	mux.HandleFunc("DELETE /whep/{id}", s.handleDelete)
	mux.HandleFunc("OPTIONS /whep", s.handleOptions)
	mux.HandleFunc("OPTIONS /whep/{id}", s.handleOptions)
	return mux
}

// Teardown closes the active viewer session, if any.
func (s *Server) Teardown() {
	s.mu.Lock()
	sess := s.sess
	s.sess = nil
	s.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Expose-Headers", "Location")
	w.WriteHeader(204)
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", "Location")

	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", 401)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", 400)
		return
	}

	s.Teardown()

	sess, err := NewSession(uuid.New().String())
	if err != nil {
		log.Printf("preview session create error: %v", err)
		http.Error(w, "internal error", 500)
		return
	}

	sdp, err := sess.Answer(string(body))
	if err != nil {
		sess.Close()
		log.Printf("preview offer error: %v", err)
		http.Error(w, "bad SDP offer", 400)
		return
	}

	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()
	s.sinks.SetVideoSink(sess)

	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", fmt.Sprintf("/whep/%s", sess.ID))
	w.WriteHeader(201)
	w.Write([]byte(sdp))
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", 401)
		return
	}

	sess := s.active(r.PathValue("id"))
	if sess == nil {
		http.Error(w, "not found", 404)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", 400)
		return
	}
	if strings.TrimSpace(string(body)) == "" {
		w.WriteHeader(204)
		return
	}

	for _, line := range strings.Split(string(body), "\r\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "a=candidate:") {
			if err := sess.AddCandidate(strings.TrimPrefix(line, "a=")); err != nil {
				log.Printf("add ice candidate error: %v", err)
			}
		}
	}
	w.WriteHeader(204)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", 401)
		return
	}

	s.mu.Lock()
	sess := s.sess
	if sess == nil || sess.ID != r.PathValue("id") {
		s.mu.Unlock()
		http.Error(w, "not found", 404)
		return
	}
	s.sess = nil
	s.mu.Unlock()

	sess.Close()
	w.WriteHeader(200)
}

func (s *Server) active(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || s.sess.ID != id {
		return nil
	}
	return s.sess
}

func (s *Server) checkAuth(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.token
}
