package encode

import (
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// FFmpegCodec drives an ffmpeg subprocess grabbing the display bound to
// its input surface and emitting a raw H.264 Annex-B stream. The process
// is spawned lazily: Start marks the codec running, but the grabber can
// only read once a display has been bound to the surface.
type FFmpegCodec struct {
	state atomic.Int32

	mu      sync.Mutex
	format  Format
	surface *grabSurface
	cmd     *exec.Cmd
	outputs chan Output
	done    chan struct{}
	quit    chan struct{}
}

// grabSurface is the ffmpeg codec's input surface: binding it names the X
// display the grabber reads from.
type grabSurface struct {
	codec   *FFmpegCodec
	display string
}

func (s *grabSurface) Bind(display string) error {
	s.codec.mu.Lock()
	defer s.codec.mu.Unlock()
	s.display = display
	if State(s.codec.state.Load()) == StateRunning && s.codec.cmd == nil {
		return s.codec.spawnLocked()
	}
	return nil
}

func (s *grabSurface) Release() {
	s.codec.mu.Lock()
	defer s.codec.mu.Unlock()
	s.display = ""
}

func NewFFmpegCodec() *FFmpegCodec {
	return &FFmpegCodec{}
}

func (c *FFmpegCodec) State() State { return State(c.state.Load()) }

func (c *FFmpegCodec) Configure(f Format) error {
	if State(c.state.Load()) != StateUninitialized {
		return fmt.Errorf("configure in state %s", c.State())
	}
	if f.Width <= 0 || f.Height <= 0 || f.FPS <= 0 || f.BitRate <= 0 {
		return fmt.Errorf("invalid format %dx%d @%dfps %dbps", f.Width, f.Height, f.FPS, f.BitRate)
	}
	c.mu.Lock()
	c.format = f
	c.outputs = make(chan Output, 64)
	c.done = make(chan struct{})
	c.quit = make(chan struct{})
	c.mu.Unlock()
	return nil
}

func (c *FFmpegCodec) InputSurface() (Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outputs == nil {
		return nil, fmt.Errorf("input surface requested before configure")
	}
	if c.surface == nil {
		c.surface = &grabSurface{codec: c}
	}
	return c.surface, nil
}

func (c *FFmpegCodec) Start() error {
	if !c.state.CompareAndSwap(int32(StateUninitialized), int32(StateRunning)) {
		return fmt.Errorf("start in state %s", c.State())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outputs == nil {
		c.state.Store(int32(StateUninitialized))
		return fmt.Errorf("start before configure")
	}
	if c.surface != nil && c.surface.display != "" {
		return c.spawnLocked()
	}
	return nil
}

func (c *FFmpegCodec) spawnLocked() error {
	f := c.format
	keyint := int(f.KeyFrameInterval.Seconds() * float64(f.FPS))
	if keyint <= 0 {
		keyint = f.FPS
	}
	args := []string{
		"-loglevel", "error",
		"-f", "x11grab",
		"-framerate", strconv.Itoa(f.FPS),
		"-video_size", fmt.Sprintf("%dx%d", f.Width, f.Height),
		"-i", c.surface.display,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-profile:v", "baseline",
		"-b:v", strconv.Itoa(f.BitRate),
		"-maxrate", strconv.Itoa(f.BitRate),
		"-bufsize", strconv.Itoa(f.BitRate / 2),
		"-g", strconv.Itoa(keyint),
		"-bf", "0",
		"-f", "h264",
		"-",
	}

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	c.cmd = cmd

	go c.drainStdout(stdout, c.outputs, c.done, c.quit)
	log.Printf("encoder: ffmpeg grabbing %s at %dx%d", c.surface.display, f.Width, f.Height)
	return nil
}

// drainStdout reads the raw bitstream, splits it into NAL units, and
// queues them as outputs. The first SPS/PPS pair is reported once as the
// format-changed config records, mirroring how a surface encoder exposes
// csd-0/csd-1.
func (c *FFmpegCodec) drainStdout(r io.ReadCloser, outputs chan<- Output, done, quit chan struct{}) {
	defer close(done)
	var (
		split      Splitter
		configSent bool
		pending    [][]byte // SPS/PPS collected before the first frame
		buf        = make([]byte, 64<<10)
	)

	send := func(o Output) bool {
		select {
		case outputs <- o:
			return true
		case <-quit:
			return false
		}
	}

	emit := func(unit []byte) bool {
		if IsConfigNAL(unit) && !configSent {
			pending = append(pending, unit)
			return true
		}
		if !configSent && len(pending) > 0 {
			if !send(Output{ConfigRecords: pending}) {
				return false
			}
			configSent = true
			pending = nil
		}
		return send(Output{Data: unit, Key: IsKeyNAL(unit)})
	}

	for {
		n, err := r.Read(buf)
		if n > 0 {
			split.Write(buf[:n])
			for _, unit := range split.Next() {
				if !emit(unit) {
					return
				}
			}
		}
		if err != nil {
			if last := split.Flush(); last != nil {
				if !emit(last) {
					return
				}
			}
			send(Output{EndOfStream: true})
			return
		}
	}
}

func (c *FFmpegCodec) DequeueOutput(wait time.Duration) (Output, error) {
	c.mu.Lock()
	outputs := c.outputs
	c.mu.Unlock()
	if outputs == nil {
		return Output{}, fmt.Errorf("dequeue before configure")
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case out := <-outputs:
		return out, nil
	case <-timer.C:
		return Output{}, ErrTryAgain
	}
}

// SignalEndOfStream asks the grabber to finish. The drain goroutine
// observes the pipe closing and queues the end-of-stream output.
func (c *FFmpegCodec) SignalEndOfStream() {
	c.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Signal(syscall.SIGINT)
	}
}

func (c *FFmpegCodec) Stop() error {
	c.mu.Lock()
	cmd := c.cmd
	done := c.done
	c.cmd = nil
	c.mu.Unlock()

	if cmd != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			cmd.Process.Kill()
		}
		cmd.Wait()
	}
	c.state.Store(int32(StateStopped))
	return nil
}

func (c *FFmpegCodec) Release() {
	c.mu.Lock()
	if c.quit != nil {
		select {
		case <-c.quit:
		default:
			close(c.quit)
		}
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
		c.cmd.Wait()
		c.cmd = nil
	}
	c.surface = nil
	c.outputs = nil
	c.mu.Unlock()
	c.state.Store(int32(StateUninitialized))
}
