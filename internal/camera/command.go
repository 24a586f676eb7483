package camera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/clock"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/metrics"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"
)

// ErrNotConnected is returned by Send while the command socket is down.
var ErrNotConnected = errors.New("command channel not connected")

// MissionUpdate is a status message pushed by the rover firmware.
type MissionUpdate struct {
	MissionStatus  string `json:"missionStatus,omitempty"`
	CurrentBalloon *int   `json:"currentBalloon,omitempty"`
	TargetInfo     string `json:"targetInfo,omitempty"`
}

type CommandOptions struct {
	URL           string
	Probe         func(ctx context.Context) error
	Backoff       stream.Backoff
	MaxRetries    int
	ProbeInterval time.Duration
	Heartbeat     time.Duration
	Clock         clock.Clock
	Dialer        *websocket.Dialer
	Logger        *zap.Logger
	OnUpdate      func(MissionUpdate)
	OnState       func(connected bool)
}

// CommandChannel keeps the rover's /Command WebSocket open. Reconnects follow
// the same policy as the camera stream: probe, connect, back off on failure,
// and after MaxRetries consecutive failures wait for a successful probe.
type CommandChannel struct {
	opts   CommandOptions
	logger *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex
}

func NewCommandChannel(opts CommandOptions) *CommandChannel {
	if opts.Backoff.Base <= 0 {
		opts.Backoff = stream.DefaultBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 10 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Probe == nil {
		opts.Probe = func(context.Context) error { return nil }
	}
	return &CommandChannel{
		opts:   opts,
		logger: opts.Logger.With(zap.String("channel", "command")),
	}
}

// Run maintains the connection until ctx is cancelled.
func (c *CommandChannel) Run(ctx context.Context) {
	failures := 0
	for {
		established, err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if established {
			failures = 0
		}
		failures++

		if failures >= c.opts.MaxRetries {
			metrics.TerminalFailuresTotal.WithLabelValues("command_retries_exhausted").Inc()
			c.logger.Error("command channel retries exhausted", zap.Int("attempts", failures), zap.Error(err))
			if !c.waitForProbe(ctx) {
				return
			}
			failures = 0
			continue
		}

		delay := c.opts.Backoff.Delay(failures - 1)
		c.logger.Warn("command channel attempt failed",
			zap.Int("retry", failures), zap.Duration("delay", delay), zap.Error(err))
		if clock.Sleep(ctx, c.opts.Clock, delay) != nil {
			return
		}
	}
}

func (c *CommandChannel) waitForProbe(ctx context.Context) bool {
	for {
		if clock.Sleep(ctx, c.opts.Clock, c.opts.ProbeInterval) != nil {
			return false
		}
		if err := c.opts.Probe(ctx); err == nil {
			c.logger.Info("command channel probe succeeded, reconnecting")
			return true
		}
	}
}

func (c *CommandChannel) connectOnce(ctx context.Context) (bool, error) {
	metrics.ReconnectAttemptsTotal.WithLabelValues("command").Inc()
	if err := c.opts.Probe(ctx); err != nil {
		return false, fmt.Errorf("probe: %w", err)
	}
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial command websocket: %w", err)
	}
	return true, c.session(ctx, conn)
}

func (c *CommandChannel) session(ctx context.Context, conn *websocket.Conn) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sessionCtx, func() { conn.Close() })
	defer stop()

	c.setConn(conn)
	c.logger.Info("command channel connected", zap.String("url", c.opts.URL))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeat(sessionCtx)
	}()

	err := c.readLoop(conn)

	cancel()
	wg.Wait()
	c.setConn(nil)
	conn.Close()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.logger.Warn("command channel lost", zap.Error(err))
	return err
}

func (c *CommandChannel) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var upd MissionUpdate
		if err := json.Unmarshal(data, &upd); err != nil {
			c.logger.Debug("ignoring non-JSON command message", zap.Error(err))
			continue
		}
		if c.opts.OnUpdate != nil {
			c.opts.OnUpdate(upd)
		}
	}
}

func (c *CommandChannel) heartbeat(ctx context.Context) {
	for {
		if clock.Sleep(ctx, c.opts.Clock, c.opts.Heartbeat) != nil {
			return
		}
		if err := c.Send("heartbeat", "ping", nil); err != nil {
			c.logger.Debug("heartbeat failed", zap.Error(err))
			return
		}
	}
}

func (c *CommandChannel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	connected := conn != nil
	if connected {
		metrics.CommandChannelConnected.Set(1)
	} else {
		metrics.CommandChannelConnected.Set(0)
	}
	if c.opts.OnState != nil {
		c.opts.OnState(connected)
	}
}

// Connected reports whether the socket is currently open.
func (c *CommandChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes {command, value, timestamp} plus any extra fields. Extra
// fields never override the first three.
func (c *CommandChannel) Send(command string, value any, extra map[string]any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	msg := make(map[string]any, len(extra)+3)
	for k, v := range extra {
		msg[k] = v
	}
	msg["command"] = command
	msg["value"] = value
	msg["timestamp"] = c.opts.Clock.Now().UnixMilli()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", command, err)
	}
	return nil
}
