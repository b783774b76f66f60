// Package control is the command surface of the engine. It dispatches to
// the capture pipeline, the input injector, and the sink registry, and
// stamps activity for the idle supervisor on every inbound command.
package control

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"keyhole/internal/capture"
	"keyhole/internal/types"
)

const screenshotTimeout = 10 * time.Second

// Displayer is the capture pipeline as seen by the command surface.
type Displayer interface {
	EnsureDisplay(width, height, dpi, bitrateKbps int)
	DestroyDisplay()
	DisplayID() int
	VideoSize() (types.VideoSize, bool)
}

// SinkSetter installs or clears the registered video sink.
type SinkSetter interface {
	Set(s types.Sink)
}

// Inputter injects display-scoped input events.
type Inputter interface {
	Tap(x, y float64)
	Swipe(x1, y1, x2, y2 float64, durationMs int64)
	TouchDown(x, y float64)
	TouchMove(x, y float64)
	TouchUp(x, y float64)
	InjectKey(code int)
}

// Recorder is stamped on every inbound command.
type Recorder interface {
	Mark()
}

type Service struct {
	display  Displayer
	sinks    SinkSetter
	inputs   Inputter
	launcher types.Launcher
	runner   types.Runner
	activity Recorder

	// ScreenshotDir overrides where the screenshot temp file lands;
	// empty means the system temp dir.
	ScreenshotDir string
}

func New(display Displayer, sinks SinkSetter, inputs Inputter, launcher types.Launcher, runner types.Runner, activity Recorder) *Service {
	return &Service{
		display:  display,
		sinks:    sinks,
		inputs:   inputs,
		launcher: launcher,
		runner:   runner,
		activity: activity,
	}
}

func (s *Service) EnsureDisplay(width, height, dpi, bitrateKbps int) {
	s.activity.Mark()
	s.display.EnsureDisplay(width, height, dpi, bitrateKbps)
}

func (s *Service) DestroyDisplay() {
	s.activity.Mark()
	s.display.DestroyDisplay()
}

// LaunchApp starts the named application on the active virtual display.
// No active display or no launchable entry point is a logged no-op.
func (s *Service) LaunchApp(name string) {
	s.activity.Mark()
	if name == "" {
		return
	}
	id := s.display.DisplayID()
	if id == capture.NoDisplay {
		log.Printf("launch %q: no virtual display", name)
		return
	}
	if err := s.launcher.Launch(context.Background(), name, id); err != nil {
		log.Printf("launch %q on display %d: %v", name, id, err)
		return
	}
	log.Printf("launched %q on display %d", name, id)
}

func (s *Service) Tap(x, y float64) {
	s.activity.Mark()
	s.inputs.Tap(x, y)
}

func (s *Service) Swipe(x1, y1, x2, y2 float64, durationMs int64) {
	s.activity.Mark()
	s.inputs.Swipe(x1, y1, x2, y2, durationMs)
}

func (s *Service) TouchDown(x, y float64) {
	s.activity.Mark()
	s.inputs.TouchDown(x, y)
}

func (s *Service) TouchMove(x, y float64) {
	s.activity.Mark()
	s.inputs.TouchMove(x, y)
}

func (s *Service) TouchUp(x, y float64) {
	s.activity.Mark()
	s.inputs.TouchUp(x, y)
}

func (s *Service) InjectKey(code int) {
	s.activity.Mark()
	s.inputs.InjectKey(code)
}

// RequestScreenshot captures the active display through the platform
// screenshot utility and returns the image bytes, or nil on any failure.
// It is file-based and independent of the live video stream, so it works
// before any sink is attached.
func (s *Service) RequestScreenshot() []byte {
	s.activity.Mark()
	id := s.display.DisplayID()
	if id == capture.NoDisplay {
		log.Printf("screenshot requested but no virtual display")
		return nil
	}

	dir := s.ScreenshotDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "keyhole_screenshot.png")

	ctx, cancel := context.WithTimeout(context.Background(), screenshotTimeout)
	defer cancel()
	out, err := s.runner.Run(ctx, "import",
		"-display", fmt.Sprintf(":%d", id),
		"-window", "root",
		path)
	if err != nil {
		log.Printf("screenshot of display %d failed: %v: %s", id, err, out)
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("screenshot file missing: %v", err)
		return nil
	}
	if len(data) == 0 {
		log.Printf("screenshot file empty: %s", path)
		return nil
	}
	return data
}

// DisplayID returns the platform display id, or the no-display sentinel.
func (s *Service) DisplayID() int {
	s.activity.Mark()
	return s.display.DisplayID()
}

// VideoSize reports the negotiated encode size once a display exists.
func (s *Service) VideoSize() (types.VideoSize, bool) {
	return s.display.VideoSize()
}

// SetVideoSink registers ref as the frame sink; nil clears it.
func (s *Service) SetVideoSink(ref types.Sink) {
	s.activity.Mark()
	s.sinks.Set(ref)
}
