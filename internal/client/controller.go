// Package client is the remote side of the engine: a controller that
// drives the command channel and a renderer that turns the frame stream
// into decoded output.
package client

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"keyhole/internal/capture"
	"keyhole/internal/ipc"
	"keyhole/internal/types"
)

// Controller speaks the engine's command and video channels. Commands
// that produce a reply are correlated by sequence number; the raw frame
// stream is delivered to a pluggable handler.
type Controller struct {
	control *websocket.Conn
	video   *websocket.Conn

	writeMu sync.Mutex
	seq     atomic.Int64

	mu        sync.Mutex
	pending   map[int64]chan ipc.Reply
	displayID int
	size      *types.VideoSize
	waiters   []chan types.VideoSize
	closed    bool

	handler atomic.Value // types.FrameHandler
}

// Dial connects both channels of the engine at addr (host:port). An
// empty token leaves the connection unauthenticated.
func Dial(ctx context.Context, addr, token string) (*Controller, error) {
	var header http.Header
	if token != "" {
		header = http.Header{"Authorization": {"Bearer " + token}}
	}

	control, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+addr+"/control", header)
	if err != nil {
		return nil, fmt.Errorf("dial control channel: %w", err)
	}
	video, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+addr+"/video", header)
	if err != nil {
		control.Close()
		return nil, fmt.Errorf("dial video channel: %w", err)
	}

	c := &Controller{
		control:   control,
		video:     video,
		pending:   make(map[int64]chan ipc.Reply),
		displayID: capture.NoDisplay,
	}
	go c.readControl()
	go c.readVideo()
	return c, nil
}

// Close tears down both channels. Pending calls fail.
func (c *Controller) Close() {
	c.control.Close()
	c.video.Close()
}

// SetFrameHandler installs fn as the raw-frame handler; nil uninstalls
// it and frames are dropped.
func (c *Controller) SetFrameHandler(fn types.FrameHandler) {
	if fn == nil {
		c.handler.Store(types.FrameHandler(nil))
		return
	}
	c.handler.Store(fn)
}

// EnsureDisplay asks the engine for a virtual display and returns the
// platform display id once the engine confirms it.
func (c *Controller) EnsureDisplay(ctx context.Context, width, height, dpi, bitrateKbps int) (int, error) {
	reply, err := c.call(ctx, ipc.Command{
		Op:          ipc.OpEnsureDisplay,
		Width:       width,
		Height:      height,
		DPI:         dpi,
		BitrateKbps: bitrateKbps,
	})
	if err != nil {
		return capture.NoDisplay, err
	}
	if reply.DisplayID == nil {
		return capture.NoDisplay, fmt.Errorf("ensure display: reply carried no display id")
	}
	return *reply.DisplayID, nil
}

func (c *Controller) DestroyDisplay(ctx context.Context) error {
	_, err := c.call(ctx, ipc.Command{Op: ipc.OpDestroyDisplay})
	return err
}

// QueryDisplayID fetches the current platform display id from the
// engine, refreshing the cached id and size.
func (c *Controller) QueryDisplayID(ctx context.Context) (int, error) {
	reply, err := c.call(ctx, ipc.Command{Op: ipc.OpDisplayID})
	if err != nil {
		return capture.NoDisplay, err
	}
	if reply.DisplayID == nil {
		return capture.NoDisplay, fmt.Errorf("display id: empty reply")
	}
	return *reply.DisplayID, nil
}

// Screenshot captures the virtual display out of band and returns the
// PNG bytes.
func (c *Controller) Screenshot(ctx context.Context) ([]byte, error) {
	reply, err := c.call(ctx, ipc.Command{Op: ipc.OpScreenshot})
	if err != nil {
		return nil, err
	}
	return reply.Image, nil
}

func (c *Controller) LaunchApp(name string) error {
	return c.send(ipc.Command{Op: ipc.OpLaunchApp, App: name})
}

func (c *Controller) Tap(x, y float64) error {
	return c.send(ipc.Command{Op: ipc.OpTap, X: x, Y: y})
}

func (c *Controller) Swipe(x1, y1, x2, y2 float64, durationMs int64) error {
	return c.send(ipc.Command{Op: ipc.OpSwipe, X: x1, Y: y1, X2: x2, Y2: y2, DurationMs: durationMs})
}

func (c *Controller) TouchDown(x, y float64) error {
	return c.send(ipc.Command{Op: ipc.OpTouchDown, X: x, Y: y})
}

func (c *Controller) TouchMove(x, y float64) error {
	return c.send(ipc.Command{Op: ipc.OpTouchMove, X: x, Y: y})
}

func (c *Controller) TouchUp(x, y float64) error {
	return c.send(ipc.Command{Op: ipc.OpTouchUp, X: x, Y: y})
}

func (c *Controller) InjectKey(code int) error {
	return c.send(ipc.Command{Op: ipc.OpKey, KeyCode: code})
}

// DisplayID returns the last display id reported by the engine, or the
// no-display sentinel before any display reply arrived.
func (c *Controller) DisplayID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayID
}

// AwaitVideoSize blocks until the engine has reported the negotiated
// video size, or until ctx expires. It resolves immediately once a size
// is known.
func (c *Controller) AwaitVideoSize(ctx context.Context) (types.VideoSize, error) {
	c.mu.Lock()
	if c.size != nil {
		size := *c.size
		c.mu.Unlock()
		return size, nil
	}
	if c.closed {
		c.mu.Unlock()
		return types.VideoSize{}, fmt.Errorf("await video size: connection closed")
	}
	ch := make(chan types.VideoSize, 1)
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	select {
	case size, ok := <-ch:
		if !ok {
			return types.VideoSize{}, fmt.Errorf("await video size: connection closed")
		}
		return size, nil
	case <-ctx.Done():
		return types.VideoSize{}, ctx.Err()
	}
}

// call sends cmd with a fresh sequence number and waits for the
// correlated reply.
func (c *Controller) call(ctx context.Context, cmd ipc.Command) (ipc.Reply, error) {
	cmd.Seq = c.seq.Add(1)
	ch := make(chan ipc.Reply, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ipc.Reply{}, fmt.Errorf("%s: connection closed", cmd.Op)
	}
	c.pending[cmd.Seq] = ch
	c.mu.Unlock()

	if err := c.send(cmd); err != nil {
		c.mu.Lock()
		delete(c.pending, cmd.Seq)
		c.mu.Unlock()
		return ipc.Reply{}, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return ipc.Reply{}, fmt.Errorf("%s: connection closed", cmd.Op)
		}
		return reply, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, cmd.Seq)
		c.mu.Unlock()
		return ipc.Reply{}, ctx.Err()
	}
}

func (c *Controller) send(cmd ipc.Command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.control.WriteJSON(cmd); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Op, err)
	}
	return nil
}

func (c *Controller) readControl() {
	for {
		var reply ipc.Reply
		if err := c.control.ReadJSON(&reply); err != nil {
			c.fail()
			return
		}
		c.dispatch(reply)
	}
}

func (c *Controller) dispatch(reply ipc.Reply) {
	c.mu.Lock()
	if reply.DisplayID != nil {
		c.displayID = *reply.DisplayID
	}
	if reply.Size != nil && c.size == nil {
		c.size = reply.Size
		for _, ch := range c.waiters {
			ch <- *reply.Size
		}
		c.waiters = nil
	}
	ch, ok := c.pending[reply.Seq]
	if ok {
		delete(c.pending, reply.Seq)
	}
	c.mu.Unlock()
	if ok {
		ch <- reply
	}
}

// fail wakes every pending call and size waiter after the control
// channel drops.
func (c *Controller) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for seq, ch := range c.pending {
		close(ch)
		delete(c.pending, seq)
	}
	for _, ch := range c.waiters {
		close(ch)
	}
	c.waiters = nil
}

func (c *Controller) readVideo() {
	for {
		kind, data, err := c.video.ReadMessage()
		if err != nil {
			log.Printf("video channel closed: %v", err)
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if fn, _ := c.handler.Load().(types.FrameHandler); fn != nil {
			fn(data)
		}
	}
}
