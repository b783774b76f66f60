package input

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRunner captures every command line it is asked to execute.
type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	return nil, r.err
}

func (r *recordingRunner) all() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestTapScopedToDisplay(t *testing.T) {
	r := &recordingRunner{}
	in := New(r)
	in.SetDisplayID(7)

	in.Tap(10.4, 20.6)

	calls := r.all()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"xdotool", "-display", ":7", "mousemove", "10", "21", "click", "1"}, calls[0])
}

func TestDisplayZeroWhenNoneActive(t *testing.T) {
	r := &recordingRunner{}
	in := New(r)
	in.Tap(1, 1)
	calls := r.all()
	require.Len(t, calls, 1)
	assert.Equal(t, ":0", calls[0][2])
}

func TestSwipePath(t *testing.T) {
	path := swipePath(0, 0, 100, 50, 4)
	require.Len(t, path, 4)
	assert.Equal(t, [2]float64{25, 12.5}, path[0])
	assert.Equal(t, [2]float64{100, 50}, path[3], "swipe must end at the target point")
}

func TestSwipeIssuesDownMovesUp(t *testing.T) {
	r := &recordingRunner{}
	in := New(r)
	in.SetDisplayID(3)

	in.Swipe(0, 0, 100, 100, 0)

	calls := r.all()
	require.Len(t, calls, swipeSteps+2)
	assert.Contains(t, strings.Join(calls[0], " "), "mousedown")
	assert.Contains(t, strings.Join(calls[len(calls)-1], " "), "mouseup")
}

func TestInjectionFailureSwallowed(t *testing.T) {
	r := &recordingRunner{err: errors.New("no such display")}
	in := New(r)

	// Must not panic or surface the error.
	in.Tap(5, 5)
	in.InjectKey(keycodeEnter)
	assert.Len(t, r.all(), 2)
}

func TestInjectKeyMapping(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{keycodeEnter, "Return"},
		{keycodeDel, "BackSpace"},
		{7, "0"},
		{16, "9"},
		{29, "a"},
		{54, "z"},
	}
	for _, tt := range tests {
		r := &recordingRunner{}
		in := New(r)
		in.InjectKey(tt.code)
		calls := r.all()
		require.Len(t, calls, 1, "code %d", tt.code)
		assert.Equal(t, tt.want, calls[0][len(calls[0])-1], "code %d", tt.code)
	}
}

func TestInjectKeyUnmappedIsNoop(t *testing.T) {
	r := &recordingRunner{}
	in := New(r)
	in.InjectKey(9999)
	assert.Empty(t, r.all())
}
