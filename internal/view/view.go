// Package view defines the display surfaces the console renders to and the
// browser-facing WebSocket hub.
package view

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/datastore"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/vision"
)

// Result kinds.
const (
	// KindDetection is the live polling result.
	KindDetection = "detection"
	// KindTransient is the short-lived "DETECTED" readout of an analysis.
	KindTransient = "transient"
	// KindPanel is the full analysis panel.
	KindPanel = "panel"
)

// Results is one render of a results area. Clear set means the area identified
// by Kind (and Session, when present) should be emptied.
type Results struct {
	Kind       string                  `json:"kind"`
	Session    string                  `json:"session,omitempty"`
	Model      string                  `json:"model,omitempty"`
	Image      string                  `json:"image,omitempty"`
	Objects    []vision.Detection      `json:"objects,omitempty"`
	Navigation *vision.Navigation      `json:"navigation,omitempty"`
	Dataset    *datastore.DatasetEntry `json:"dataset,omitempty"`
	Unknown    bool                    `json:"unknown,omitempty"`
	Clear      bool                    `json:"clear,omitempty"`
	At         time.Time               `json:"at"`
}

// View is a display surface: frames, status lines and result renders.
type View interface {
	stream.FrameSink
	SetStatus(text string)
	RenderResults(r Results)
}

// StateView is implemented by views that also show the connection state.
type StateView interface {
	SetState(s stream.State)
}

// Multi fans every call out to its members in order.
type Multi []View

func (m Multi) RenderFrame(frame []byte) {
	for _, v := range m {
		v.RenderFrame(frame)
	}
}

func (m Multi) SetStatus(text string) {
	for _, v := range m {
		v.SetStatus(text)
	}
}

func (m Multi) RenderResults(r Results) {
	for _, v := range m {
		v.RenderResults(r)
	}
}

// SetState forwards to members implementing StateView.
func (m Multi) SetState(s stream.State) {
	for _, v := range m {
		if sv, ok := v.(StateView); ok {
			sv.SetState(s)
		}
	}
}

// Log writes status lines and results to a zap logger. Frames are ignored.
type Log struct {
	Logger *zap.Logger
}

func (l Log) RenderFrame([]byte) {}

func (l Log) SetStatus(text string) {
	l.Logger.Info("status", zap.String("text", text))
}

func (l Log) RenderResults(r Results) {
	if r.Clear {
		l.Logger.Debug("results cleared", zap.String("kind", r.Kind), zap.String("session", r.Session))
		return
	}
	fields := []zap.Field{zap.String("kind", r.Kind), zap.Int("objects", len(r.Objects))}
	if len(r.Objects) > 0 {
		fields = append(fields, zap.String("top", r.Objects[0].Class), zap.Float64("confidence", r.Objects[0].Confidence))
	}
	l.Logger.Debug("results", fields...)
}

// FrameChan is a FrameSink that hands frames to a single consumer, keeping
// only the newest frames when the consumer falls behind.
type FrameChan struct {
	C  chan []byte
	mu sync.Mutex
}

func NewFrameChan(buffer int) *FrameChan {
	if buffer < 1 {
		buffer = 1
	}
	return &FrameChan{C: make(chan []byte, buffer)}
}

func (f *FrameChan) RenderFrame(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		select {
		case f.C <- frame:
			return
		default:
		}
		select {
		case <-f.C:
		default:
		}
	}
}
