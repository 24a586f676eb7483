package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/clock"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/metrics"
)

var errFeedEnded = errors.New("frame feed ended")

// Options configures a Manager. Zero values take defaults.
type Options struct {
	Backoff       Backoff
	MaxRetries    int
	ProbeInterval time.Duration
	Clock         clock.Clock
	Logger        *zap.Logger
	Display       Display
}

// Status is a point-in-time view of the Manager.
type Status struct {
	State            State      `json:"state"`
	Source           string     `json:"source,omitempty"`
	Retries          int        `json:"retries"`
	Terminal         bool       `json:"terminal"`
	PermissionDenied bool       `json:"permissionDenied"`
	LastError        string     `json:"lastError,omitempty"`
	Frames           uint64     `json:"frames"`
	LastFrameAt      *time.Time `json:"lastFrameAt,omitempty"`
}

// Manager keeps exactly one Source active and rebroadcasts its frames.
//
// Failed attempts are retried after Backoff.Delay(failures-1) until
// MaxRetries consecutive failures, at which point a terminal failure is
// reported once. Independently of frame delivery a probe runs every
// ProbeInterval: while connected a failed probe drops the connection, while
// disconnected a successful probe starts a fresh attempt.
//
// Connection change callbacks run in registration order, outside the
// Manager's lock, and may read Manager state. They must not call Start or
// Stop synchronously.
type Manager struct {
	backoff       Backoff
	maxRetries    int
	probeInterval time.Duration
	clock         clock.Clock
	logger        *zap.Logger
	display       Display

	opMu sync.Mutex // serializes Start and Stop

	mu          sync.Mutex
	src         Source
	state       State
	retryCount  int
	terminal    bool
	blocked     bool
	gen         uint64 // bumped by Start and Stop
	attempt     uint64 // bumped per connection attempt
	sessionCtx  context.Context
	sessionStop context.CancelFunc
	attemptStop context.CancelFunc
	retryTimer  clock.Timer
	probeTimer  clock.Timer
	lastFrame   []byte
	lastFrameAt time.Time
	lastErr     error
	frames      uint64
	sinks       []FrameSink
	listeners   []func(State)
	onTerminal  []func(error)
	queue       []func()

	wg         sync.WaitGroup
	dispatchMu sync.Mutex
}

// NewManager creates an idle Manager in the DISCONNECTED state.
func NewManager(opts Options) *Manager {
	if opts.Backoff.Base <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		backoff:       opts.Backoff,
		maxRetries:    opts.MaxRetries,
		probeInterval: opts.ProbeInterval,
		clock:         opts.Clock,
		logger:        opts.Logger,
		display:       opts.Display,
	}
}

// Start makes src the active source. A previously active source is torn
// down completely, and closed if it implements io.Closer, before src is
// attached. Connection failures never surface here; they drive the state
// machine instead.
func (m *Manager) Start(src Source) error {
	if src == nil || !src.Kind().Valid() {
		return ErrNoSource
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if old := m.teardown(); old != nil {
		m.logger.Info("switching stream source",
			zap.Stringer("from", old.Kind()), zap.Stringer("to", src.Kind()))
	}

	m.mu.Lock()
	m.src = src
	m.retryCount = 0
	m.terminal = false
	m.blocked = false
	m.lastFrame = nil
	m.lastFrameAt = time.Time{}
	m.lastErr = nil
	m.frames = 0
	m.sessionCtx, m.sessionStop = context.WithCancel(context.Background())
	gen := m.gen
	m.probeTimer = m.clock.AfterFunc(m.probeInterval, func() { m.probeTick(gen) })
	m.logger.Info("stream started", zap.Stringer("source", src.Kind()))
	m.startAttemptLocked()
	m.mu.Unlock()

	m.dispatch()
	return nil
}

// Stop releases the active source and cancels every pending retry and probe.
// The Manager stays DISCONNECTED until the next Start.
func (m *Manager) Stop() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	old := m.teardown()

	m.mu.Lock()
	if m.state != Disconnected {
		m.setStateLocked(Disconnected)
		m.statusLocked("Camera stopped")
	}
	m.mu.Unlock()
	m.dispatch()

	if old != nil {
		m.logger.Info("stream stopped", zap.Stringer("source", old.Kind()))
	}
}

// teardown detaches the current source and waits for its goroutines to exit.
// Caller holds opMu.
func (m *Manager) teardown() Source {
	m.mu.Lock()
	m.gen++
	m.attempt++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.probeTimer != nil {
		m.probeTimer.Stop()
		m.probeTimer = nil
	}
	cancel := m.sessionStop
	m.sessionStop = nil
	m.attemptStop = nil
	old := m.src
	m.src = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	if c, ok := old.(io.Closer); ok {
		if err := c.Close(); err != nil {
			m.logger.Warn("closing stream source", zap.Stringer("source", old.Kind()), zap.Error(err))
		}
	}
	return old
}

// CurrentFrame returns the most recent frame. Without one it falls back to a
// snapshot from the active source, and fails with ErrNoFrame when neither
// yields data.
func (m *Manager) CurrentFrame(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	if m.lastFrame != nil {
		frame := bytes.Clone(m.lastFrame)
		m.mu.Unlock()
		return frame, nil
	}
	src := m.src
	m.mu.Unlock()

	if src == nil {
		return nil, ErrNoFrame
	}
	frame, err := src.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	if len(frame) == 0 {
		return nil, ErrNoFrame
	}
	return frame, nil
}

// OnConnectionChange registers cb for every state transition.
func (m *Manager) OnConnectionChange(cb func(State)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, cb)
	m.mu.Unlock()
}

// OnTerminal registers cb for terminal failures: retries exhausted or
// capture permission denied.
func (m *Manager) OnTerminal(cb func(error)) {
	m.mu.Lock()
	m.onTerminal = append(m.onTerminal, cb)
	m.mu.Unlock()
}

// AddSink attaches a display surface. Sinks are compared by identity, so
// pass pointers.
func (m *Manager) AddSink(s FrameSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sinks {
		if existing == s {
			return
		}
	}
	m.sinks = append(m.sinks, s)
}

// RemoveSink detaches a display surface. Removing the last sink does not
// affect the connection.
func (m *Manager) RemoveSink(s FrameSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.sinks {
		if existing == s {
			m.sinks = append(m.sinks[:i:i], m.sinks[i+1:]...)
			return
		}
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Source returns the kind of the active source, or 0 when stopped.
func (m *Manager) Source() SourceKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.src == nil {
		return 0
	}
	return m.src.Kind()
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State:            m.state,
		Retries:          m.retryCount,
		Terminal:         m.terminal,
		PermissionDenied: m.blocked,
		Frames:           m.frames,
	}
	if m.src != nil {
		st.Source = m.src.Kind().String()
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	if !m.lastFrameAt.IsZero() {
		t := m.lastFrameAt
		st.LastFrameAt = &t
	}
	return st
}

func (m *Manager) startAttemptLocked() {
	src := m.src
	if src == nil {
		return
	}
	m.attempt++
	id := m.attempt
	ctx, cancel := context.WithCancel(m.sessionCtx)
	m.attemptStop = cancel
	m.setStateLocked(Connecting)
	m.statusLocked(fmt.Sprintf("Connecting to %s camera...", src.Kind()))
	metrics.ReconnectAttemptsTotal.WithLabelValues("stream").Inc()

	m.wg.Add(1)
	go m.run(ctx, id, src)
}

func (m *Manager) run(ctx context.Context, id uint64, src Source) {
	defer m.wg.Done()

	if err := src.Probe(ctx); err != nil {
		m.attemptFailed(id, fmt.Errorf("probe: %w", err))
		return
	}
	err := src.Run(ctx, func(frame []byte) { m.handleFrame(id, src, frame) })
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errFeedEnded
	}
	m.attemptFailed(id, err)
}

func (m *Manager) handleFrame(id uint64, src Source, frame []byte) {
	if len(frame) == 0 {
		return
	}

	m.mu.Lock()
	if id != m.attempt {
		m.mu.Unlock()
		return
	}
	m.lastFrame = frame
	m.lastFrameAt = m.clock.Now()
	m.frames++
	m.retryCount = 0
	m.terminal = false
	m.lastErr = nil
	if m.state != Connected {
		m.setStateLocked(Connected)
		m.statusLocked(fmt.Sprintf("Camera connected (%s)", src.Kind()))
		m.logger.Info("stream connected", zap.Stringer("source", src.Kind()))
	}
	sinks := append([]FrameSink(nil), m.sinks...)
	m.mu.Unlock()

	metrics.FramesTotal.WithLabelValues(src.Kind().String()).Inc()
	m.dispatch()

	if m.display != nil {
		m.display.RenderFrame(frame)
	}
	for _, s := range sinks {
		s.RenderFrame(frame)
	}
}

func (m *Manager) attemptFailed(id uint64, err error) {
	m.mu.Lock()
	if id != m.attempt {
		m.mu.Unlock()
		return
	}
	if m.attemptStop != nil {
		m.attemptStop()
		m.attemptStop = nil
	}
	m.failLocked(err)
	m.mu.Unlock()
	m.dispatch()
}

func (m *Manager) failLocked(err error) {
	m.lastErr = err
	kind := m.src.Kind()

	if errors.Is(err, ErrPermissionDenied) {
		m.blocked = true
		if m.state != Disconnected {
			m.setStateLocked(Disconnected)
		}
		m.statusLocked(fmt.Sprintf("Camera access denied: %v", err))
		m.reportTerminalLocked(err)
		metrics.TerminalFailuresTotal.WithLabelValues("permission").Inc()
		m.logger.Error("capture permission denied", zap.Stringer("source", kind), zap.Error(err))
		return
	}

	m.retryCount++
	if m.state == Connected {
		m.setStateLocked(Disconnected)
		m.statusLocked("Camera connection lost")
	}

	if m.retryCount >= m.maxRetries {
		m.terminal = true
		if m.state != Disconnected {
			m.setStateLocked(Disconnected)
		}
		m.statusLocked(fmt.Sprintf("Camera unavailable after %d attempts: %v", m.retryCount, err))
		m.reportTerminalLocked(err)
		metrics.TerminalFailuresTotal.WithLabelValues("retries_exhausted").Inc()
		m.logger.Error("stream retries exhausted",
			zap.Stringer("source", kind), zap.Int("attempts", m.retryCount), zap.Error(err))
		return
	}

	delay := m.backoff.Delay(m.retryCount - 1)
	id := m.attempt
	m.statusLocked(fmt.Sprintf("Connection failed, retrying in %s (attempt %d/%d)", delay, m.retryCount, m.maxRetries))
	m.logger.Warn("stream attempt failed",
		zap.Stringer("source", kind),
		zap.Int("retry", m.retryCount),
		zap.Duration("delay", delay),
		zap.Error(err))
	m.retryTimer = m.clock.AfterFunc(delay, func() { m.retry(id) })
}

func (m *Manager) retry(id uint64) {
	m.mu.Lock()
	if id != m.attempt || m.src == nil || m.blocked {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	m.startAttemptLocked()
	m.mu.Unlock()
	m.dispatch()
}

func (m *Manager) probeTick(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.src == nil {
		m.mu.Unlock()
		return
	}
	m.probeTimer = m.clock.AfterFunc(m.probeInterval, func() { m.probeTick(gen) })
	if m.blocked || m.state == Connecting {
		m.mu.Unlock()
		return
	}
	src := m.src
	ctx, cancel := context.WithTimeout(m.sessionCtx, m.probeInterval)
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer cancel()
		err := src.Probe(ctx)
		m.probeResult(gen, err)
	}()
}

func (m *Manager) probeResult(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.src == nil {
		m.mu.Unlock()
		return
	}

	switch {
	case err != nil && m.state == Connected:
		metrics.ProbeFailuresTotal.Inc()
		// Invalidate the running feed before rescheduling.
		m.attempt++
		if m.attemptStop != nil {
			m.attemptStop()
			m.attemptStop = nil
		}
		m.failLocked(fmt.Errorf("probe: %w", err))
	case err != nil:
		metrics.ProbeFailuresTotal.Inc()
		m.logger.Debug("liveness probe failed", zap.Stringer("source", m.src.Kind()), zap.Error(err))
	case m.state == Disconnected && !m.blocked:
		if m.retryTimer != nil {
			m.retryTimer.Stop()
			m.retryTimer = nil
		}
		m.retryCount = 0
		m.terminal = false
		m.logger.Info("liveness probe succeeded, reconnecting", zap.Stringer("source", m.src.Kind()))
		m.startAttemptLocked()
	}
	m.mu.Unlock()
	m.dispatch()
}

func (m *Manager) setStateLocked(s State) {
	m.state = s
	metrics.StreamState.Set(float64(s))
	listeners := append([]func(State){}, m.listeners...)
	m.queue = append(m.queue, func() {
		for _, l := range listeners {
			l(s)
		}
	})
}

func (m *Manager) statusLocked(text string) {
	if m.display == nil {
		return
	}
	d := m.display
	m.queue = append(m.queue, func() { d.SetStatus(text) })
}

func (m *Manager) reportTerminalLocked(err error) {
	cbs := append([]func(error){}, m.onTerminal...)
	m.queue = append(m.queue, func() {
		for _, cb := range cbs {
			cb(err)
		}
	})
}

// dispatch drains queued notifications outside m.mu. Only one goroutine
// drains at a time so callbacks observe transitions in order.
func (m *Manager) dispatch() {
	for {
		if !m.dispatchMu.TryLock() {
			return
		}
		for {
			m.mu.Lock()
			q := m.queue
			m.queue = nil
			m.mu.Unlock()
			if len(q) == 0 {
				break
			}
			for _, f := range q {
				f()
			}
		}
		m.dispatchMu.Unlock()

		// Pick up anything queued between the last drain and the unlock.
		m.mu.Lock()
		more := len(m.queue) > 0
		m.mu.Unlock()
		if !more {
			return
		}
	}
}
