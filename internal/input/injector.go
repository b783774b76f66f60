// Package input translates normalized tap/swipe/touch/key commands into
// pointer and key events scoped to a specific virtual display.
package input

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"keyhole/internal/types"
)

// swipeSteps is the number of interpolated pointer moves per swipe.
const swipeSteps = 20

// Injector is a stateless translator holding only the current target
// display id. Injection is fire-and-forget: failures are logged and
// swallowed, callers always observe success.
type Injector struct {
	runner    types.Runner
	displayID atomic.Int64
	timeout   time.Duration
}

func New(runner types.Runner) *Injector {
	return &Injector{runner: runner, timeout: 5 * time.Second}
}

// SetDisplayID retargets injection. 0 means no virtual display is active.
func (in *Injector) SetDisplayID(id int) {
	in.displayID.Store(int64(id))
}

func (in *Injector) DisplayID() int {
	return int(in.displayID.Load())
}

func (in *Injector) run(args ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), in.timeout)
	defer cancel()
	full := append([]string{"-display", fmt.Sprintf(":%d", in.DisplayID())}, args...)
	if out, err := in.runner.Run(ctx, "xdotool", full...); err != nil {
		log.Printf("input: xdotool %v failed: %v: %s", args, err, out)
	}
}

func coord(v float64) string {
	return strconv.Itoa(int(v + 0.5))
}

func (in *Injector) Tap(x, y float64) {
	in.run("mousemove", coord(x), coord(y), "click", "1")
}

// Swipe injects a parameterized motion from (x1,y1) to (x2,y2) spread
// over durationMs.
func (in *Injector) Swipe(x1, y1, x2, y2 float64, durationMs int64) {
	in.TouchDown(x1, y1)
	stepDelay := time.Duration(durationMs) * time.Millisecond / swipeSteps
	for _, p := range swipePath(x1, y1, x2, y2, swipeSteps) {
		time.Sleep(stepDelay)
		in.run("mousemove", coord(p[0]), coord(p[1]))
	}
	in.TouchUp(x2, y2)
}

// swipePath returns steps intermediate points from (x1,y1) to (x2,y2),
// endpoint included, start excluded.
func swipePath(x1, y1, x2, y2 float64, steps int) [][2]float64 {
	path := make([][2]float64, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		path = append(path, [2]float64{x1 + (x2-x1)*t, y1 + (y2-y1)*t})
	}
	return path
}

func (in *Injector) TouchDown(x, y float64) {
	in.run("mousemove", coord(x), coord(y), "mousedown", "1")
}

func (in *Injector) TouchMove(x, y float64) {
	in.run("mousemove", coord(x), coord(y))
}

func (in *Injector) TouchUp(x, y float64) {
	in.run("mousemove", coord(x), coord(y), "mouseup", "1")
}

// InjectKey presses and releases the key with the given code.
func (in *Injector) InjectKey(code int) {
	name, ok := keyName(code)
	if !ok {
		log.Printf("input: unmapped key code %d", code)
		return
	}
	in.run("key", name)
}
