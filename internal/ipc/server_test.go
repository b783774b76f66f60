package ipc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyhole/internal/capture"
	"keyhole/internal/control"
	"keyhole/internal/sink"
	"keyhole/internal/types"
)

type stubDisplayer struct {
	mu     sync.Mutex
	id     int
	size   types.VideoSize
	active bool
}

func (d *stubDisplayer) EnsureDisplay(w, h, dpi, kbps int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		return
	}
	aw, ah := capture.AlignSize(w, h)
	d.id = 5
	d.size = types.VideoSize{Width: aw, Height: ah}
	d.active = true
}

func (d *stubDisplayer) DestroyDisplay() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.id = capture.NoDisplay
	d.active = false
}

func (d *stubDisplayer) DisplayID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return capture.NoDisplay
	}
	return d.id
}

func (d *stubDisplayer) VideoSize() (types.VideoSize, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size, d.active
}

type stubInputs struct {
	mu   sync.Mutex
	taps [][2]float64
}

func (s *stubInputs) Tap(x, y float64) {
	s.mu.Lock()
	s.taps = append(s.taps, [2]float64{x, y})
	s.mu.Unlock()
}
func (s *stubInputs) Swipe(x1, y1, x2, y2 float64, d int64) {}
func (s *stubInputs) TouchDown(x, y float64)                {}
func (s *stubInputs) TouchMove(x, y float64)                {}
func (s *stubInputs) TouchUp(x, y float64)                  {}
func (s *stubInputs) InjectKey(code int)                    {}

type stubLauncher struct{}

func (stubLauncher) Launch(context.Context, string, int) error { return nil }

type stubRunner struct{}

func (stubRunner) Run(context.Context, string, ...string) ([]byte, error) { return nil, nil }

type nopRecorder struct{}

func (nopRecorder) Mark() {}

func newTestServer(t *testing.T) (*httptest.Server, *stubDisplayer, *stubInputs, *sink.Registry) {
	t.Helper()
	displayer := &stubDisplayer{}
	inputs := &stubInputs{}
	registry := sink.New()
	svc := control.New(displayer, registry, inputs, stubLauncher{}, stubRunner{}, nopRecorder{})
	srv := NewServer(svc, "")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, displayer, inputs, registry
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestControlDisplayIDSentinel(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	conn := dial(t, ts, "/control")

	require.NoError(t, conn.WriteJSON(Command{Op: OpDisplayID, Seq: 1}))
	var reply Reply
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, int64(1), reply.Seq)
	require.NotNil(t, reply.DisplayID)
	assert.Equal(t, capture.NoDisplay, *reply.DisplayID)
	assert.Nil(t, reply.Size)
}

func TestControlEnsureReportsSize(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	conn := dial(t, ts, "/control")

	require.NoError(t, conn.WriteJSON(Command{
		Op: OpEnsureDisplay, Seq: 2,
		Width: 1080, Height: 2317, DPI: 320, BitrateKbps: 4000,
	}))
	var reply Reply
	require.NoError(t, conn.ReadJSON(&reply))
	require.NotNil(t, reply.DisplayID)
	assert.Equal(t, 5, *reply.DisplayID)
	require.NotNil(t, reply.Size)
	assert.Equal(t, types.VideoSize{Width: 1080, Height: 2312}, *reply.Size)
}

func TestControlOneWayCommands(t *testing.T) {
	ts, _, inputs, _ := newTestServer(t)
	conn := dial(t, ts, "/control")

	require.NoError(t, conn.WriteJSON(Command{Op: OpTap, X: 10, Y: 20}))
	// One-way ops produce no reply; confirm via a synchronous op after.
	require.NoError(t, conn.WriteJSON(Command{Op: OpDisplayID, Seq: 9}))
	var reply Reply
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, int64(9), reply.Seq)

	inputs.mu.Lock()
	defer inputs.mu.Unlock()
	require.Len(t, inputs.taps, 1)
	assert.Equal(t, [2]float64{10, 20}, inputs.taps[0])
}

func TestVideoSinkReceivesForwardedFrames(t *testing.T) {
	ts, _, _, registry := newTestServer(t)
	conn := dial(t, ts, "/video")

	waitActive(t, registry, true)
	registry.Forward([]byte{0x67, 0x42})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, []byte{0x67, 0x42}, data)
}

func TestVideoDisconnectClearsRegistry(t *testing.T) {
	ts, _, _, registry := newTestServer(t)
	conn := dial(t, ts, "/video")
	waitActive(t, registry, true)

	conn.Close()
	waitActive(t, registry, false)

	// Forwarding after death must be a no-op.
	registry.Forward([]byte{1})
}

func TestSecondVideoConnectionReplacesFirst(t *testing.T) {
	ts, _, _, registry := newTestServer(t)
	first := dial(t, ts, "/video")
	waitActive(t, registry, true)

	second := dial(t, ts, "/video")
	// The first connection is closed by the server.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err, "replaced video connection must be closed")

	waitActive(t, registry, true)
	registry.Forward([]byte{9})
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := second.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, data)
}

func TestAuthToken(t *testing.T) {
	displayer := &stubDisplayer{}
	registry := sink.New()
	svc := control.New(displayer, registry, &stubInputs{}, stubLauncher{}, stubRunner{}, nopRecorder{})
	srv := NewServer(svc, "sekrit")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/control"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{"Authorization": {"Bearer sekrit"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/control"), header)
	require.NoError(t, err)
	conn.Close()
}

func waitActive(t *testing.T, registry *sink.Registry, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.Active() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("registry never became active=%v", want)
}
