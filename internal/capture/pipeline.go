// Package capture owns the virtual display, its backing encoder input
// surface, and the encoder, and runs the encode-drain loop that feeds the
// sink registry.
package capture

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"keyhole/internal/display"
	"keyhole/internal/encode"
	"keyhole/internal/types"
)

const (
	defaultBitRate   = 4_000_000
	targetFPS        = 30
	keyFrameInterval = time.Second
	dequeueWait      = 50 * time.Millisecond
	drainJoinTimeout = time.Second

	displayName = "KeyholeVirtualDisplay"
)

// NoDisplay is the platform display id sentinel while no display exists.
const NoDisplay = -1

// FrameForwarder receives encoded access units from the drain loop.
type FrameForwarder interface {
	Forward(data []byte)
}

// InputTarget is retargeted whenever a display is created or destroyed.
type InputTarget interface {
	SetDisplayID(id int)
}

// CodecFactory creates a fresh encoder per display. Mirrors the factory
// indirection the command entry points use for platform pieces.
type CodecFactory func() encode.Codec

// Pipeline coordinates display+encoder lifecycle and the drain loop. A
// display exists only while its encoder exists and vice versa; both are
// created and destroyed atomically under one mutex, so a drain loop never
// runs against a half-destroyed encoder.
type Pipeline struct {
	backend  display.Backend
	newCodec CodecFactory
	forward  FrameForwarder
	inputs   InputTarget

	// DefaultBitRate applies when an ensure-display command carries no
	// bitrate. Zero means the built-in default.
	DefaultBitRate int

	mu        sync.Mutex
	codec     encode.Codec
	surface   encode.Surface
	handle    display.Handle
	displayID int
	size      types.VideoSize

	draining  atomic.Bool // drain loop run flag
	drainDone chan struct{}
}

func New(backend display.Backend, newCodec CodecFactory, forward FrameForwarder, inputs InputTarget) *Pipeline {
	return &Pipeline{
		backend:   backend,
		newCodec:  newCodec,
		forward:   forward,
		inputs:    inputs,
		displayID: NoDisplay,
	}
}

// AlignSize rounds both dimensions down to a multiple of 8. Hardware
// encoders commonly reject unaligned dimensions. If alignment collapses a
// dimension to zero the requested size is used, floored at 2.
func AlignSize(width, height int) (int, int) {
	aw := width &^ 7
	ah := height &^ 7
	if aw <= 0 || ah <= 0 {
		aw = max(2, width)
		ah = max(2, height)
	}
	return aw, ah
}

// EnsureDisplay creates the virtual display and encoder pair if none
/// exists. Idempotent: with a display already active it is a no-op, even
// for a different requested size. Errors are logged, never returned to
// the command transport; any partial construction is fully unwound.
func (p *Pipeline) EnsureDisplay(width, height, dpi, bitrateKbps int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle != nil || p.codec != nil {
		log.Printf("ensure display: already active (id=%d)", p.displayID)
		return
	}

	bitRate := defaultBitRate
	if p.DefaultBitRate > 0 {
		bitRate = p.DefaultBitRate
	}
	if bitrateKbps > 0 {
		bitRate = bitrateKbps * 1000
	}
	aw, ah := AlignSize(width, height)
	log.Printf("ensure display: %dx%d dpi=%d -> aligned %dx%d, %d bps",
		width, height, dpi, aw, ah, bitRate)

	codec := p.newCodec()
	fail := func(stage string, err error) {
		log.Printf("ensure display: %s failed: %v", stage, err)
		p.unwindLocked(codec)
	}

	if err := codec.Configure(encode.Format{
		Width:            aw,
		Height:           ah,
		FPS:              targetFPS,
		BitRate:          bitRate,
		KeyFrameInterval: keyFrameInterval,
	}); err != nil {
		fail("configure encoder", err)
		return
	}

	surface, err := codec.InputSurface()
	if err != nil {
		fail("input surface", err)
		return
	}
	p.surface = surface

	if err := codec.Start(); err != nil {
		fail("start encoder", err)
		return
	}

	flags := display.DefaultFlags(p.backend.HostVersion())
	handle, err := p.backend.Create(displayName, aw, ah, dpi, surface, flags)
	if err != nil {
		fail("create virtual display", err)
		return
	}

	p.codec = codec
	p.handle = handle
	p.displayID = handle.ID()
	p.size = types.VideoSize{Width: aw, Height: ah}

	if err := p.backend.SetIMEPolicy(p.displayID, display.IMEPolicyLocal); err != nil {
		log.Printf("set IME policy for display %d: %v", p.displayID, err)
	}
	if p.inputs != nil {
		p.inputs.SetDisplayID(p.displayID)
	}

	p.draining.Store(true)
	p.drainDone = make(chan struct{})
	go p.drainLoop(codec, p.drainDone)

	log.Printf("virtual display %d up at %dx%d", p.displayID, aw, ah)
}

// unwindLocked releases a partially constructed pipeline after a setup
// failure, returning to the uninitialized state.
func (p *Pipeline) unwindLocked(codec encode.Codec) {
	if p.handle != nil {
		p.handle.Release()
		p.handle = nil
	}
	if p.surface != nil {
		p.surface.Release()
		p.surface = nil
	}
	if codec != nil {
		codec.Release()
	}
	p.codec = nil
	p.displayID = NoDisplay
	p.size = types.VideoSize{}
}

// drainLoop is the only reader of encoder output. It exits on
// end-of-stream, on the run flag dropping, or on a dequeue error.
func (p *Pipeline) drainLoop(codec encode.Codec, done chan struct{}) {
	defer close(done)
	for p.draining.Load() {
		out, err := codec.DequeueOutput(dequeueWait)
		if errors.Is(err, encode.ErrTryAgain) {
			continue
		}
		if err != nil {
			log.Printf("encoder dequeue failed: %v", err)
			return
		}
		// Configuration records go out first so a downstream decoder can
		// initialize before any frame data arrives.
		for _, rec := range out.ConfigRecords {
			p.forward.Forward(rec)
		}
		if len(out.Data) > 0 {
			p.forward.Forward(out.Data)
		}
		if out.EndOfStream {
			return
		}
	}
}

// DestroyDisplay releases the display and stops the encoder. Safe to call
// with nothing active.
func (p *Pipeline) DestroyDisplay() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyLocked()
}

func (p *Pipeline) destroyLocked() {
	if p.handle != nil {
		p.handle.Release()
		p.handle = nil
	}
	p.displayID = NoDisplay
	p.size = types.VideoSize{}
	if p.inputs != nil {
		p.inputs.SetDisplayID(0)
	}
	p.stopEncoderLocked()
}

// stopEncoderLocked signals end-of-stream, joins the drain goroutine with
// a bounded wait, then stops and releases the encoder and surface. A join
// timeout does not block destruction.
func (p *Pipeline) stopEncoderLocked() {
	p.draining.Store(false)
	if p.codec != nil {
		p.codec.SignalEndOfStream()
	}
	if p.drainDone != nil {
		select {
		case <-p.drainDone:
		case <-time.After(drainJoinTimeout):
			log.Printf("encode drain loop did not stop within %v", drainJoinTimeout)
		}
		p.drainDone = nil
	}
	if p.codec != nil {
		if err := p.codec.Stop(); err != nil {
			log.Printf("stop encoder: %v", err)
		}
		p.codec.Release()
		p.codec = nil
	}
	if p.surface != nil {
		p.surface.Release()
		p.surface = nil
	}
}

// DisplayID returns the platform display id, or NoDisplay.
func (p *Pipeline) DisplayID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.displayID
}

// VideoSize returns the negotiated encode size while a display is active.
func (p *Pipeline) VideoSize() (types.VideoSize, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size, p.handle != nil
}

// Active reports whether a display+encoder pair currently exists.
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle != nil
}
