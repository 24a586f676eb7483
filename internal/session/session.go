// Package session holds the state of one WebRTC viewer.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/metrics"
)

const (
	// DefaultMaxFrameBytes is the largest frame sent as one data channel
	// message.
	DefaultMaxFrameBytes = 256 << 10
	// maxBuffered is how much may sit unsent in the data channel before new
	// frames are dropped.
	maxBuffered = 1 << 20
)

// Channel is the part of *webrtc.DataChannel a session writes to.
type Channel interface {
	Send(data []byte) error
	SendText(s string) error
	ReadyState() webrtc.DataChannelState
	BufferedAmount() uint64
}

// Session is one connected viewer: its peer connection and the "rover" data
// channel carrying frames and events.
type Session struct {
	ID        string
	CreatedAt time.Time

	pc       *webrtc.PeerConnection
	dc       Channel
	maxFrame int
	logger   *zap.Logger

	mu      sync.Mutex
	stopped bool
	sent    uint64
	dropped uint64
}

func New(id string, pc *webrtc.PeerConnection, dc Channel, maxFrame int, logger *zap.Logger) *Session {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		pc:        pc,
		dc:        dc,
		maxFrame:  maxFrame,
		logger:    logger.With(zap.String("session", id)),
	}
}

// SendFrame sends a JPEG frame as a binary message. Oversize frames and
// frames arriving while the channel is backed up are dropped.
func (s *Session) SendFrame(frame []byte) {
	if !s.open() {
		return
	}
	if len(frame) > s.maxFrame {
		s.drop("oversize")
		return
	}
	if s.dc.BufferedAmount() > maxBuffered {
		s.drop("slow_viewer")
		return
	}
	if err := s.dc.Send(frame); err != nil {
		s.logger.Debug("send frame failed", zap.Error(err))
		s.drop("send_error")
		return
	}
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
}

// SendEnvelope sends an encoded JSON envelope as a text message.
func (s *Session) SendEnvelope(raw []byte) error {
	if !s.open() {
		return fmt.Errorf("session %s: data channel not open", s.ID)
	}
	return s.dc.SendText(string(raw))
}

// SetRemoteDescription applies the viewer's SDP answer.
func (s *Session) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if s.pc == nil {
		return fmt.Errorf("session %s: no peer connection", s.ID)
	}
	return s.pc.SetRemoteDescription(desc)
}

// Stats reports frames sent and dropped.
func (s *Session) Stats() (sent, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent, s.dropped
}

// Stop closes the peer connection. It is safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	if s.pc != nil {
		if err := s.pc.Close(); err != nil {
			s.logger.Debug("close peer connection", zap.Error(err))
		}
	}
}

func (s *Session) open() bool {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	return !stopped && s.dc != nil && s.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (s *Session) drop(reason string) {
	metrics.FramesDroppedTotal.WithLabelValues(reason).Inc()
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}
