package client

import (
	"context"
	"log"
	"sync"
	"time"

	"keyhole/internal/types"
)

// sizeWait bounds how long an available surface waits for the engine to
// report the negotiated video size before giving up on attaching.
const sizeWait = 2 * time.Second

// Decoder consumes the raw frame stream once a surface is attached.
// Attach is called at most once per surface lifetime, before any Submit.
type Decoder interface {
	Attach(size types.VideoSize) error
	Submit(frame []byte)
	Detach()
}

// Stream is the controller surface the renderer needs: the video-size
// rendezvous and the frame-handler slot.
type Stream interface {
	AwaitVideoSize(ctx context.Context) (types.VideoSize, error)
	SetFrameHandler(fn types.FrameHandler)
}

// Renderer binds a decoder to the frame stream across surface
// lifecycle events. When a surface becomes available it waits for the
// video size, attaches the decoder, and routes frames into it; when
// the surface goes away it detaches and stops the stream.
type Renderer struct {
	stream Stream
	dec    Decoder

	mu       sync.Mutex
	cancel   context.CancelFunc
	attached bool

	sizeWait time.Duration
}

func NewRenderer(stream Stream, dec Decoder) *Renderer {
	return &Renderer{stream: stream, dec: dec, sizeWait: sizeWait}
}

// SurfaceAvailable starts the attach sequence. It returns immediately;
// the decoder is attached once the video size arrives. If the size does
// not arrive within the wait bound the surface stays unattached and the
// failure is logged.
func (r *Renderer) SurfaceAvailable() {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	go r.attach(ctx)
}

func (r *Renderer) attach(ctx context.Context) {
	wait, cancel := context.WithTimeout(ctx, r.sizeWait)
	defer cancel()

	size, err := r.stream.AwaitVideoSize(wait)
	if err != nil {
		log.Printf("renderer: no video size: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		// Surface went away while we were waiting.
		return
	}
	if err := r.dec.Attach(size); err != nil {
		log.Printf("renderer: attach decoder at %dx%d: %v", size.Width, size.Height, err)
		return
	}
	r.attached = true
	r.stream.SetFrameHandler(r.dec.Submit)
	log.Printf("renderer attached at %dx%d", size.Width, size.Height)
}

// SurfaceDestroyed stops frame delivery and detaches the decoder. Safe
// to call while an attach is still waiting for the video size.
func (r *Renderer) SurfaceDestroyed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.cancel = nil
	r.stream.SetFrameHandler(nil)
	if r.attached {
		r.dec.Detach()
		r.attached = false
	}
}
