// Package session wires the engine together: one explicitly owned object
// holding the capture pipeline, sink registry, input injector, control
// service, and idle supervisor, with a Start/Stop lifecycle. There are no
// process-wide singletons; the entry point owns the session it creates.
package session

import (
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"keyhole/internal/capture"
	"keyhole/internal/control"
	"keyhole/internal/display"
	"keyhole/internal/encode"
	"keyhole/internal/input"
	"keyhole/internal/shell"
	"keyhole/internal/sink"
	"keyhole/internal/types"
)

// Options configures a session. Zero-value fields get production
// defaults; tests inject fakes.
type Options struct {
	Backend  display.Backend
	NewCodec capture.CodecFactory
	Runner   types.Runner
	Launcher types.Launcher

	// DefaultBitrateKbps applies when an ensure-display command does
	// not carry a bitrate.
	DefaultBitrateKbps int

	IdleThreshold time.Duration
	IdleTick      time.Duration
	// Exit terminates the process when the idle supervisor fires.
	Exit func()
}

type Session struct {
	ID string

	Registry *sink.Registry
	Pipeline *capture.Pipeline
	Injector *input.Injector
	Control  *control.Service

	activity *Activity
	idle     *IdleSupervisor
}

func New(opts Options) *Session {
	if opts.Backend == nil {
		opts.Backend = display.NewXvfbBackend()
	}
	if opts.NewCodec == nil {
		opts.NewCodec = func() encode.Codec { return encode.NewFFmpegCodec() }
	}
	if opts.Runner == nil {
		opts.Runner = &shell.ExecRunner{}
	}
	if opts.Launcher == nil {
		opts.Launcher = &shell.ExecLauncher{}
	}
	if opts.Exit == nil {
		opts.Exit = func() { os.Exit(0) }
	}

	s := &Session{
		ID:       uuid.New().String(),
		Registry: sink.New(),
		activity: NewActivity(),
	}
	s.Injector = input.New(opts.Runner)
	s.Pipeline = capture.New(opts.Backend, opts.NewCodec, s.Registry, s.Injector)
	if opts.DefaultBitrateKbps > 0 {
		s.Pipeline.DefaultBitRate = opts.DefaultBitrateKbps * 1000
	}
	s.Control = control.New(s.Pipeline, s.Registry, s.Injector, opts.Launcher, opts.Runner, s.activity)
	s.idle = NewIdleSupervisor(s.activity, s.Registry, opts.IdleThreshold, opts.IdleTick, opts.Exit)
	return s
}

// Start begins background supervision. The display is not created here;
// it appears on the first ensure-display command.
func (s *Session) Start() {
	log.Printf("session %s started", s.ID)
	s.idle.Start()
}

// Stop tears the session down: supervision ends, the sink is dropped,
// and the display+encoder pair is destroyed.
func (s *Session) Stop() {
	s.idle.Stop()
	s.Registry.Clear()
	s.Pipeline.DestroyDisplay()
	log.Printf("session %s stopped", s.ID)
}
