package types

import "context"

// AccessUnit is one encoded output unit from the video encoder: either a
// compressed frame or an initial codec configuration record (SPS/PPS).
type AccessUnit struct {
	Data   []byte
	Config bool
	Key    bool
}

// VideoSize is the negotiated encode geometry, published by the producer
// once the display exists.
type VideoSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Sink receives encoded access units pushed by the producer. Exactly one
// sink may be registered at a time. OnVideoFrame returning an error marks
// the sink dead; the registry drops it without retry.
type Sink interface {
	OnVideoFrame(data []byte) error
}

// DeathNotifier is implemented by sinks whose remote endpoint can vanish.
// NotifyDeath registers fn to fire exactly once when the endpoint becomes
// unreachable and returns a revoke function that unsubscribes it.
type DeathNotifier interface {
	NotifyDeath(fn func()) (revoke func())
}

// FrameHandler consumes raw encoded access units on the client side.
type FrameHandler func(data []byte)

// Runner executes a shell command and returns its combined output. It is
// the only path through which the engine touches external processes it
// does not manage itself (screenshots, input injection).
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Launcher resolves an application name to a launchable entry point and
// starts it on the given display. Resolution failure is not an engine
// error; callers treat it as a logged no-op.
type Launcher interface {
	Launch(ctx context.Context, name string, displayID int) error
}
