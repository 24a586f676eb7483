package detection

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/clock"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/vision"
)

type staticFrames struct {
	frame []byte
	err   error
}

func (s staticFrames) CurrentFrame(context.Context) ([]byte, error) { return s.frame, s.err }

type sink struct {
	mu      sync.Mutex
	results []vision.Result
	status  []string
}

func (s *sink) onResult(r vision.Result) {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
}

func (s *sink) onStatus(text string) {
	s.mu.Lock()
	s.status = append(s.status, text)
	s.mu.Unlock()
}

func (s *sink) counts() (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results), append([]string(nil), s.status...)
}

func countContaining(lines []string, sub string) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(l, sub) {
			n++
		}
	}
	return n
}

func newTestPoller(det Detector, frames FrameProvider) (*Poller, *clock.Fake, *sink) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := &sink{}
	p := NewPoller(PollerOptions{
		Detector: det,
		Frames:   frames,
		Interval: 2 * time.Second,
		TopK:     2,
		Clock:    fc,
		OnResult: s.onResult,
		OnStatus: s.onStatus,
	})
	return p, fc, s
}

func tickOnce(t *testing.T, fc *clock.Fake) {
	t.Helper()
	if !fc.WaitFor(2*time.Second, func() bool { return fc.HasPending(2 * time.Second) }) {
		t.Fatal("poller did not schedule its next tick")
	}
	fc.Advance(2 * time.Second)
}

func TestPollerDeliversTruncatedResults(t *testing.T) {
	det := &MockClient{Result: result("hammer", "rock", "cup")}
	p, fc, s := newTestPoller(det, staticFrames{frame: []byte{1}})
	p.Start()
	defer p.Stop()

	tickOnce(t, fc)
	fc.WaitFor(2*time.Second, func() bool { n, _ := s.counts(); return n == 1 })

	s.mu.Lock()
	got := s.results[0]
	s.mu.Unlock()
	if len(got.Objects) != 2 {
		t.Errorf("expected top 2 objects, got %d", len(got.Objects))
	}
	_, status := s.counts()
	if countContaining(status, "MISSION OBJECT FOUND: HAMMER") != 1 {
		t.Errorf("expected mission object status, got %v", status)
	}
	if st := p.History().Stats(fc.Now(), 30*time.Second); st.TotalFrames != 1 || st.UniqueObjects != 3 {
		t.Errorf("history should record the full result, got %+v", st)
	}
}

func TestIsMissionObject(t *testing.T) {
	tests := []struct {
		class string
		want  bool
	}{
		{"balloon", true},
		{"pink_balloon", true},
		{"Balloon", true},
		{"Hammer", true},
		{"orange Traffic_Cone", true},
		{"tennis ball", false},
		{"rock", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := IsMissionObject(tc.class); got != tc.want {
			t.Errorf("IsMissionObject(%q) = %v, want %v", tc.class, got, tc.want)
		}
	}
}

func TestPollerFlagsMissionObjectVariants(t *testing.T) {
	det := &MockClient{Result: result("Pink_Balloon")}
	p, fc, s := newTestPoller(det, staticFrames{frame: []byte{1}})
	p.Start()
	defer p.Stop()

	tickOnce(t, fc)
	fc.WaitFor(2*time.Second, func() bool { n, _ := s.counts(); return n == 1 })
	_, status := s.counts()
	if countContaining(status, "MISSION OBJECT FOUND: PINK BALLOON") != 1 {
		t.Errorf("status = %v", status)
	}
}

func TestPollerSkipsWithoutFrame(t *testing.T) {
	det := &MockClient{}
	p, fc, _ := newTestPoller(det, staticFrames{err: stream.ErrNoFrame})
	p.Start()
	defer p.Stop()

	tickOnce(t, fc)
	tickOnce(t, fc)
	if det.Calls() != 0 {
		t.Errorf("detector called %d times without a frame", det.Calls())
	}
}

func TestPollerRateLimitsWarnings(t *testing.T) {
	det := &MockClient{DetectErr: errors.New("connection refused")}
	p, fc, s := newTestPoller(det, staticFrames{frame: []byte{1}})
	p.Start()
	defer p.Stop()

	// Ticks at 2s..12s: warnings at 2s and 12s only.
	for i := 0; i < 6; i++ {
		tickOnce(t, fc)
		want := int64(i + 1)
		fc.WaitFor(2*time.Second, func() bool { return det.Calls() == want })
	}
	fc.WaitFor(time.Second, func() bool { return fc.HasPending(2 * time.Second) })

	_, status := s.counts()
	if n := countContaining(status, "Detection service unavailable"); n != 2 {
		t.Errorf("expected 2 rate-limited warnings over 12s, got %d (%v)", n, status)
	}
}

func TestPollerStopCancelsTimer(t *testing.T) {
	det := &MockClient{}
	p, fc, _ := newTestPoller(det, staticFrames{frame: []byte{1}})
	p.Start()
	p.Start()
	fc.WaitFor(time.Second, func() bool { return fc.HasPending(2 * time.Second) })
	p.Stop()

	if len(fc.Pending()) != 0 {
		t.Errorf("expected no pending timers, got %v", fc.Pending())
	}
	fc.Advance(time.Minute)
	if det.Calls() != 0 || p.Running() {
		t.Errorf("poller still active after Stop")
	}
}

func TestMonitorHealth(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	det := &MockClient{HealthErr: errors.New("down")}
	s := &sink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		MonitorHealth(ctx, det, fc, 5*time.Second, 30*time.Second, zap.NewNop(), s.onStatus)
		close(done)
	}()

	fc.WaitFor(time.Second, func() bool { return fc.HasPending(5 * time.Second) })
	fc.Advance(5 * time.Second)
	fc.WaitFor(time.Second, func() bool { return fc.HasPending(30 * time.Second) })
	det.HealthErr = nil
	fc.Advance(30 * time.Second)
	fc.WaitFor(time.Second, func() bool { _, st := s.counts(); return len(st) == 2 })
	cancel()
	<-done

	_, status := s.counts()
	if len(status) != 2 || !strings.Contains(status[0], "not available") || !strings.Contains(status[1], "online") {
		t.Errorf("unexpected health statuses %v", status)
	}
}
