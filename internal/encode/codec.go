// Package encode models the hardware video encoder: a state machine that
// owns the input surface a virtual display renders into and drains a queue
// of encoded access units.
package encode

import (
	"errors"
	"time"
)

// State is the encoder lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Format is the encode configuration.
type Format struct {
	Width            int
	Height           int
	FPS              int
	BitRate          int // bits per second
	KeyFrameInterval time.Duration
}

// Output is one dequeued encoder result. ConfigRecords is non-nil exactly
// once, when the output format becomes known (the SPS/PPS equivalent); a
// downstream decoder must see those records before any frame data.
type Output struct {
	Data          []byte
	Key           bool
	ConfigRecords [][]byte
	EndOfStream   bool
}

// ErrTryAgain is returned by DequeueOutput when no output arrived within
// the bounded wait.
var ErrTryAgain = errors.New("encode: no output available")

// Surface is the drawable consumed by the encoder. The display backend
// binds a created display to it; for the ffmpeg codec the bind carries the
// X display name the grabber reads from.
type Surface interface {
	Bind(display string) error
	Release()
}

// Codec is the encoder state machine. Lifecycle: Configure →
// InputSurface → Start → DequeueOutput loop → SignalEndOfStream → Stop →
// Release. Only one goroutine may call DequeueOutput; lifecycle calls are
// serialized by the capture pipeline.
type Codec interface {
	Configure(f Format) error
	InputSurface() (Surface, error)
	Start() error
	DequeueOutput(wait time.Duration) (Output, error)
	SignalEndOfStream()
	Stop() error
	Release()
	State() State
}
