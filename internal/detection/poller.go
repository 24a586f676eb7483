package detection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/clock"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/vision"
)

// warnEvery limits repeated "service unavailable" reports.
const warnEvery = 10 * time.Second

// MissionObjects are the targets that require a manual capture when seen.
var MissionObjects = []string{"hammer", "tennis_ball", "traffic_cone", "balloon"}

// IsMissionObject reports whether class names a mission object. Matching is
// case-insensitive on substrings, so "Pink_Balloon" counts as a balloon.
func IsMissionObject(class string) bool {
	class = strings.ToLower(class)
	for _, obj := range MissionObjects {
		if strings.Contains(class, obj) {
			return true
		}
	}
	return false
}

// FrameProvider supplies the frame to analyse; stream.Manager implements it.
type FrameProvider interface {
	CurrentFrame(ctx context.Context) ([]byte, error)
}

type PollerOptions struct {
	Detector Detector
	Frames   FrameProvider
	Interval time.Duration
	TopK     int
	History  *History
	Clock    clock.Clock
	Logger   *zap.Logger
	OnResult func(vision.Result)
	OnStatus func(text string)
}

// Poller sends the current frame to the detector every Interval while
// running. It is independent of the stream manager's probe timer.
type Poller struct {
	opts PollerOptions

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	lastWarn time.Time
}

func NewPoller(opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.History == nil {
		opts.History = NewHistory(256)
	}
	return &Poller{opts: opts}
}

// Start begins polling. Calling Start while running is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
	p.opts.Logger.Info("object detection started", zap.Duration("interval", p.opts.Interval))
	p.status("Object detection started")
}

// Stop ends polling and waits for an in-flight request to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.opts.Logger.Info("object detection stopped")
	p.status("Object detection stopped")
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) History() *History { return p.opts.History }

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if err := clock.Sleep(ctx, p.opts.Clock, p.opts.Interval); err != nil {
			return
		}
		p.tick(ctx)
	}
}

func (p *Poller) tick(ctx context.Context) {
	frame, err := p.opts.Frames.CurrentFrame(ctx)
	if err != nil {
		if !errors.Is(err, stream.ErrNoFrame) {
			p.opts.Logger.Debug("no frame for detection", zap.Error(err))
		}
		return
	}

	res, err := p.opts.Detector.Detect(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.warn(err)
		return
	}

	p.opts.History.Record(p.opts.Clock.Now(), res)
	res.Objects = vision.Truncate(res.Objects, p.opts.TopK)
	if p.opts.OnResult != nil {
		p.opts.OnResult(res)
	}

	if primary, ok := res.Primary(); ok {
		p.status(fmt.Sprintf("Detected: %s (%.1f%%)", primary.Class, primary.Confidence*100))
		if IsMissionObject(primary.Class) {
			p.status(fmt.Sprintf("MISSION OBJECT FOUND: %s - MANUAL CAPTURE REQUIRED",
				strings.ToUpper(strings.ReplaceAll(primary.Class, "_", " "))))
		}
	}
}

func (p *Poller) warn(err error) {
	now := p.opts.Clock.Now()
	p.mu.Lock()
	if !p.lastWarn.IsZero() && now.Sub(p.lastWarn) < warnEvery {
		p.mu.Unlock()
		return
	}
	p.lastWarn = now
	p.mu.Unlock()

	p.opts.Logger.Warn("detection service unavailable", zap.Error(err))
	p.status("Detection service unavailable")
}

func (p *Poller) status(text string) {
	if p.opts.OnStatus != nil {
		p.opts.OnStatus(text)
	}
}

// MonitorHealth checks the backend after initialDelay and then every
// interval until ctx ends, reporting each result through onStatus.
func MonitorHealth(ctx context.Context, d Detector, clk clock.Clock, initialDelay, interval time.Duration, logger *zap.Logger, onStatus func(string)) {
	wait := initialDelay
	for {
		if clock.Sleep(ctx, clk, wait) != nil {
			return
		}
		wait = interval

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := d.Health(checkCtx)
		cancel()
		if err != nil {
			logger.Warn("detection backend health check failed", zap.Error(err))
			onStatus("Backend not available - object detection disabled")
			continue
		}
		onStatus("Object detection backend online")
	}
}
