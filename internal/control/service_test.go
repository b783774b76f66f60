package control

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyhole/internal/capture"
	"keyhole/internal/types"
)

type fakeDisplayer struct {
	id       int
	size     types.VideoSize
	active   bool
	ensures  int
	destroys int
}

func (f *fakeDisplayer) EnsureDisplay(w, h, dpi, kbps int) { f.ensures++ }
func (f *fakeDisplayer) DestroyDisplay()                   { f.destroys++ }
func (f *fakeDisplayer) DisplayID() int                    { return f.id }
func (f *fakeDisplayer) VideoSize() (types.VideoSize, bool) {
	return f.size, f.active
}

type fakeSinks struct{ sets []types.Sink }

func (f *fakeSinks) Set(s types.Sink) { f.sets = append(f.sets, s) }

type fakeInputs struct{ taps, keys int }

func (f *fakeInputs) Tap(x, y float64)                      { f.taps++ }
func (f *fakeInputs) Swipe(x1, y1, x2, y2 float64, d int64) {}
func (f *fakeInputs) TouchDown(x, y float64)                {}
func (f *fakeInputs) TouchMove(x, y float64)                {}
func (f *fakeInputs) TouchUp(x, y float64)                  {}
func (f *fakeInputs) InjectKey(code int)                    { f.keys++ }

type fakeLauncher struct {
	calls []string
	ids   []int
	err   error
}

func (f *fakeLauncher) Launch(_ context.Context, name string, displayID int) error {
	f.calls = append(f.calls, name)
	f.ids = append(f.ids, displayID)
	return f.err
}

// screenshotRunner simulates the screenshot utility by writing scripted
// bytes to the path it is handed.
type screenshotRunner struct {
	mu      sync.Mutex
	payload []byte
	err     error
	calls   [][]string
}

func (r *screenshotRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.err != nil {
		return nil, r.err
	}
	path := args[len(args)-1]
	if r.payload != nil {
		if err := os.WriteFile(path, r.payload, 0o644); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

type countingRecorder struct{ marks int }

func (c *countingRecorder) Mark() { c.marks++ }

type testService struct {
	svc      *Service
	display  *fakeDisplayer
	sinks    *fakeSinks
	inputs   *fakeInputs
	launcher *fakeLauncher
	runner   *screenshotRunner
	activity *countingRecorder
}

func newTestService(t *testing.T, displayID int) *testService {
	ts := &testService{
		display:  &fakeDisplayer{id: displayID},
		sinks:    &fakeSinks{},
		inputs:   &fakeInputs{},
		launcher: &fakeLauncher{},
		runner:   &screenshotRunner{},
		activity: &countingRecorder{},
	}
	ts.svc = New(ts.display, ts.sinks, ts.inputs, ts.launcher, ts.runner, ts.activity)
	ts.svc.ScreenshotDir = t.TempDir()
	return ts
}

func TestEveryCommandStampsActivity(t *testing.T) {
	ts := newTestService(t, 3)
	ts.svc.EnsureDisplay(800, 600, 160, 0)
	ts.svc.Tap(1, 2)
	ts.svc.Swipe(0, 0, 1, 1, 100)
	ts.svc.TouchDown(1, 1)
	ts.svc.TouchMove(2, 2)
	ts.svc.TouchUp(3, 3)
	ts.svc.InjectKey(66)
	ts.svc.LaunchApp("editor")
	ts.svc.DisplayID()
	ts.svc.SetVideoSink(nil)
	ts.svc.RequestScreenshot()
	ts.svc.DestroyDisplay()
	assert.Equal(t, 12, ts.activity.marks)
}

func TestLaunchAppOnActiveDisplay(t *testing.T) {
	ts := newTestService(t, 7)
	ts.svc.LaunchApp("editor")
	require.Equal(t, []string{"editor"}, ts.launcher.calls)
	assert.Equal(t, []int{7}, ts.launcher.ids)
}

func TestLaunchAppNoDisplayIsNoop(t *testing.T) {
	ts := newTestService(t, capture.NoDisplay)
	ts.svc.LaunchApp("editor")
	assert.Empty(t, ts.launcher.calls)
}

func TestLaunchAppEmptyNameIsNoop(t *testing.T) {
	ts := newTestService(t, 7)
	ts.svc.LaunchApp("")
	assert.Empty(t, ts.launcher.calls)
}

func TestLaunchAppResolutionFailureSwallowed(t *testing.T) {
	ts := newTestService(t, 7)
	ts.launcher.err = errors.New("no launchable entry point")
	ts.svc.LaunchApp("ghost") // must not panic or surface the error
	assert.Equal(t, []string{"ghost"}, ts.launcher.calls)
}

func TestRequestScreenshotReturnsBytes(t *testing.T) {
	ts := newTestService(t, 4)
	ts.runner.payload = []byte("png-bytes")

	data := ts.svc.RequestScreenshot()
	assert.Equal(t, []byte("png-bytes"), data)

	require.Len(t, ts.runner.calls, 1)
	call := ts.runner.calls[0]
	assert.Equal(t, "import", call[0])
	assert.Contains(t, call, ":4", "screenshot must be scoped to the display id")
	assert.Equal(t, filepath.Join(ts.svc.ScreenshotDir, "keyhole_screenshot.png"), call[len(call)-1])
}

func TestRequestScreenshotNoDisplay(t *testing.T) {
	ts := newTestService(t, capture.NoDisplay)
	assert.Nil(t, ts.svc.RequestScreenshot())
	assert.Empty(t, ts.runner.calls)
}

func TestRequestScreenshotUtilityFailure(t *testing.T) {
	ts := newTestService(t, 4)
	ts.runner.err = errors.New("utility exploded")
	assert.Nil(t, ts.svc.RequestScreenshot())
}

func TestRequestScreenshotMissingFile(t *testing.T) {
	ts := newTestService(t, 4)
	// Runner succeeds but never writes the file.
	assert.Nil(t, ts.svc.RequestScreenshot())
}

func TestRequestScreenshotEmptyFile(t *testing.T) {
	ts := newTestService(t, 4)
	ts.runner.payload = []byte{}
	assert.Nil(t, ts.svc.RequestScreenshot())
}

func TestSetVideoSinkForwardsToRegistry(t *testing.T) {
	ts := newTestService(t, 4)
	ts.svc.SetVideoSink(nil)
	require.Len(t, ts.sinks.sets, 1)
	assert.Nil(t, ts.sinks.sets[0])
}

func TestDisplayIDSentinel(t *testing.T) {
	ts := newTestService(t, capture.NoDisplay)
	assert.Equal(t, capture.NoDisplay, ts.svc.DisplayID())
}
