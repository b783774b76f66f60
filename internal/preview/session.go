// Package preview serves the encoded stream to a WHEP viewer over
// WebRTC. A connected viewer is just another video sink: it registers
// through the same registry as the primary channel and its peer
// disconnect is reported as sink death.
package preview

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// frameDuration is the sample pacing handed to the RTP packetizer. The
// encoder targets a fixed frame rate, so a fixed duration is close
// enough for a preview.
const frameDuration = time.Second / 30

// Session is one WHEP viewer: a peer connection carrying a single
// H.264 track. It implements the engine's sink contract, so the frame
// stream can be pointed at it directly.
type Session struct {
	ID    string
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticSample

	mu     sync.Mutex
	closed bool
	deaths []func()
}

func NewSession(id string) (*Session, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register h264: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(me))

	// LAN only, no STUN/TURN.
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
		},
		"video", "keyhole",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create video track: %w", err)
	}
	if _, err = pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add video track: %w", err)
	}

	sess := &Session{ID: id, pc: pc, track: track}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("preview %s peer state: %s", id, state.String())
		if state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateClosed {
			sess.Close()
		}
	})

	return sess, nil
}

// OnVideoFrame writes one access unit to the viewer's track.
func (s *Session) OnVideoFrame(frame []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("preview session %s closed", s.ID)
	}
	s.mu.Unlock()
	return s.track.WriteSample(media.Sample{Data: frame, Duration: frameDuration})
}

// NotifyDeath registers fn to run when the viewer disconnects. A
// session that is already dead fires fn immediately from its own
// goroutine. The returned revoke drops the registration.
func (s *Session) NotifyDeath(fn func()) (revoke func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		go fn()
		return func() {}
	}
	s.deaths = append(s.deaths, fn)
	idx := len(s.deaths) - 1
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < len(s.deaths) {
			s.deaths[idx] = nil
		}
	}
}

// Close tears down the peer connection and fires death callbacks.
// Callbacks run on a fresh goroutine with no session locks held.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	deaths := s.deaths
	s.deaths = nil
	s.mu.Unlock()

	s.pc.Close()
	for _, fn := range deaths {
		if fn != nil {
			go fn()
		}
	}
	log.Printf("preview session %s closed", s.ID)
}

// Answer runs the WHEP offer/answer exchange and returns the local SDP
// once ICE gathering completes.
func (s *Session) Answer(offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-webrtc.GatheringCompletePromise(s.pc)
	return s.pc.LocalDescription().SDP, nil
}

// AddCandidate applies a trickled ICE candidate line.
func (s *Session) AddCandidate(candidate string) error {
	return s.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}
