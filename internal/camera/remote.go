package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/clock"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"
)

// Transport selects how RemoteSource pulls frames from the module.
type Transport string

const (
	TransportMJPEG     Transport = "mjpeg"
	TransportPoll      Transport = "poll"
	TransportWebSocket Transport = "websocket"
)

// RemoteSource streams from the ESP32 module.
type RemoteSource struct {
	client       *Client
	transport    Transport
	pollInterval time.Duration
	clock        clock.Clock
	dialer       *websocket.Dialer
	logger       *zap.Logger
}

type RemoteOption func(*RemoteSource)

func WithPollInterval(d time.Duration) RemoteOption {
	return func(r *RemoteSource) { r.pollInterval = d }
}

func WithClock(c clock.Clock) RemoteOption {
	return func(r *RemoteSource) { r.clock = c }
}

func WithDialer(d *websocket.Dialer) RemoteOption {
	return func(r *RemoteSource) { r.dialer = d }
}

func NewRemoteSource(client *Client, transport Transport, logger *zap.Logger, opts ...RemoteOption) *RemoteSource {
	r := &RemoteSource{
		client:       client,
		transport:    transport,
		pollInterval: 200 * time.Millisecond,
		clock:        clock.Real(),
		dialer:       websocket.DefaultDialer,
		logger:       logger.With(zap.String("transport", string(transport))),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *RemoteSource) Kind() stream.SourceKind { return stream.RemoteCamera }

func (r *RemoteSource) Probe(ctx context.Context) error {
	return r.client.Status(ctx)
}

func (r *RemoteSource) Snapshot(ctx context.Context) ([]byte, error) {
	return r.client.Capture(ctx)
}

func (r *RemoteSource) Run(ctx context.Context, emit func([]byte)) error {
	switch r.transport {
	case TransportPoll:
		return r.runPoll(ctx, emit)
	case TransportWebSocket:
		return r.runWebSocket(ctx, emit)
	default:
		return r.runMJPEG(ctx, emit)
	}
}

func (r *RemoteSource) runMJPEG(ctx context.Context, emit func([]byte)) error {
	resp, err := r.client.OpenStream(ctx)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	r.logger.Debug("mjpeg stream opened", zap.String("contentType", resp.Header.Get("Content-Type")))
	return ReadMJPEG(ctx, resp.Body, resp.Header.Get("Content-Type"), emit)
}

// runPoll repeatedly fetches /capture. A failed fetch ends the run so the
// manager's backoff takes over.
func (r *RemoteSource) runPoll(ctx context.Context, emit func([]byte)) error {
	for {
		frame, err := r.client.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		emit(frame)
		if err := clock.Sleep(ctx, r.clock, r.pollInterval); err != nil {
			return err
		}
	}
}

func (r *RemoteSource) runWebSocket(ctx context.Context, emit func([]byte)) error {
	conn, _, err := r.dialer.DialContext(ctx, r.client.Endpoints().CameraWS, nil)
	if err != nil {
		return fmt.Errorf("dial camera websocket: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read camera websocket: %w", err)
		}
		if msgType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		emit(data)
	}
}
