package datachannel

import "encoding/json"

// Envelope is the common wrapper for every message on the "rover" data
// channel. Payload is decoded according to Type.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	ActionID  string          `json:"actionId,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Viewer to console.
const (
	TypeCommandMove    = "command.move"
	TypeCommandCapture = "command.capture"
	TypeCommandSource  = "command.source"
	TypeCommandControl = "command.control"
)

// Console to viewer.
const (
	TypeEventStatus  = "event.status"
	TypeEventResults = "event.results"
	TypeEventState   = "event.state"
	TypeEventClear   = "event.clear"
	TypeError        = "error"
)

// CommandMove drives the rover: forward, backward, left, right or stop.
type CommandMove struct {
	Direction string `json:"direction"`
}

// CommandCapture stores the current frame as an exploration sample.
type CommandCapture struct {
	Label string  `json:"label"`
	Depth float64 `json:"depth"`
}

// CommandSource switches the active stream source. URL is only used by the
// external source.
type CommandSource struct {
	Source string `json:"source"`
	URL    string `json:"url,omitempty"`
}

// CommandControl sets a camera control variable.
type CommandControl struct {
	Var string `json:"var"`
	Val int    `json:"val"`
}

type EventStatus struct {
	Text string `json:"text"`
	At   int64  `json:"at"`
}

type EventState struct {
	State string `json:"state"`
}

// EventClear empties a results area.
type EventClear struct {
	Kind    string `json:"kind"`
	Session string `json:"session,omitempty"`
}

// EventError reports a failed command back to the viewer that sent it.
type EventError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
