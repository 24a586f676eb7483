// Package stream owns the lifecycle of the live camera feed: one active
// source, a connection state machine with exponential backoff, a periodic
// liveness probe, and rebroadcast of frames to display sinks.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoFrame means neither a cached frame nor a source snapshot is available.
	ErrNoFrame = errors.New("no frame available")
	// ErrPermissionDenied marks a capture device the process may not open.
	// It is terminal for the source.
	ErrPermissionDenied = errors.New("capture permission denied")
	// ErrNoSource is returned by Start for a nil or unknown source.
	ErrNoSource = errors.New("no stream source")
)

// SourceKind identifies where frames come from.
type SourceKind int

const (
	LocalCapture SourceKind = iota + 1
	RemoteCamera
	External
)

func (k SourceKind) String() string {
	switch k {
	case LocalCapture:
		return "local"
	case RemoteCamera:
		return "remote"
	case External:
		return "external"
	default:
		return fmt.Sprintf("SourceKind(%d)", int(k))
	}
}

func (k SourceKind) Valid() bool {
	return k >= LocalCapture && k <= External
}

// ParseSourceKind accepts the names produced by String.
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "local_capture", "webcam":
		return LocalCapture, nil
	case "remote", "remote_camera", "esp32":
		return RemoteCamera, nil
	case "external", "url":
		return External, nil
	}
	return 0, fmt.Errorf("unknown source %q", s)
}

// State is the connection state owned by the Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{Disconnected, Connecting, Connected} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Source is one way of obtaining frames.
//
// Probe is a lightweight liveness check. Run delivers frames through emit
// until ctx is cancelled or the feed fails; a nil return means the feed ended.
// emit must be passed a slice the source will not reuse. Snapshot captures a
// single still outside the frame loop.
//
// A Source that also implements io.Closer is closed when it is replaced or
// the Manager is stopped.
type Source interface {
	Kind() SourceKind
	Probe(ctx context.Context) error
	Run(ctx context.Context, emit func(frame []byte)) error
	Snapshot(ctx context.Context) ([]byte, error)
}

// FrameSink is a display surface that receives rebroadcast frames.
type FrameSink interface {
	RenderFrame(frame []byte)
}

// Display is the view the Manager reports to: frames plus human-readable
// status text.
type Display interface {
	FrameSink
	SetStatus(text string)
}
