// Package ipc exposes the control service over a local transport: JSON
// commands on one WebSocket, encoded video frames pushed on another.
// Semantically this is an object-capability channel, not a network
// protocol; the video connection closing is the sink's death
// notification.
package ipc

import "keyhole/internal/types"

// Command ops accepted on the control channel.
const (
	OpEnsureDisplay  = "ensure_display"
	OpDestroyDisplay = "destroy_display"
	OpLaunchApp      = "launch_app"
	OpTap            = "tap"
	OpSwipe          = "swipe"
	OpTouchDown      = "touch_down"
	OpTouchMove      = "touch_move"
	OpTouchUp        = "touch_up"
	OpKey            = "key"
	OpScreenshot     = "screenshot"
	OpDisplayID      = "display_id"
)

// Command is the inbound envelope. Fields are a union over all ops;
// unused ones stay at their zero values.
type Command struct {
	Op  string `json:"op"`
	Seq int64  `json:"seq,omitempty"`

	Width       int `json:"width,omitempty"`
	Height      int `json:"height,omitempty"`
	DPI         int `json:"dpi,omitempty"`
	BitrateKbps int `json:"bitrate_kbps,omitempty"`

	X  float64 `json:"x,omitempty"`
	Y  float64 `json:"y,omitempty"`
	X2 float64 `json:"x2,omitempty"`
	Y2 float64 `json:"y2,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
	KeyCode    int   `json:"key_code,omitempty"`

	App string `json:"app,omitempty"`
}

// Reply is the outbound envelope for synchronous-return ops, correlated
// by Seq. Display replies also follow ensure/destroy so the consumer
// learns the platform display id and negotiated size without polling.
type Reply struct {
	Op  string `json:"op"`
	Seq int64  `json:"seq,omitempty"`

	DisplayID *int             `json:"display_id,omitempty"`
	Size      *types.VideoSize `json:"size,omitempty"`
	Image     []byte           `json:"image,omitempty"`
}
