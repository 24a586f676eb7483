package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

type fakeChannel struct {
	mu       sync.Mutex
	state    webrtc.DataChannelState
	buffered uint64
	err      error
	binary   [][]byte
	text     []string
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.binary = append(c.binary, data)
	return nil
}

func (c *fakeChannel) SendText(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = append(c.text, s)
	return nil
}

func (c *fakeChannel) ReadyState() webrtc.DataChannelState { return c.state }
func (c *fakeChannel) BufferedAmount() uint64              { return c.buffered }

func TestSendFrame(t *testing.T) {
	dc := &fakeChannel{state: webrtc.DataChannelStateOpen}
	s := New("v1", nil, dc, 8, zap.NewNop())

	s.SendFrame([]byte("jpeg"))
	s.SendFrame([]byte("way too large"))
	dc.buffered = maxBuffered + 1
	s.SendFrame([]byte("jpeg"))
	dc.buffered = 0
	dc.err = errors.New("closed")
	s.SendFrame([]byte("jpeg"))

	sent, dropped := s.Stats()
	if sent != 1 || dropped != 3 || len(dc.binary) != 1 {
		t.Errorf("sent=%d dropped=%d binary=%d", sent, dropped, len(dc.binary))
	}
}

func TestNothingSentUntilOpen(t *testing.T) {
	dc := &fakeChannel{state: webrtc.DataChannelStateConnecting}
	s := New("v1", nil, dc, 0, zap.NewNop())

	s.SendFrame([]byte("jpeg"))
	if err := s.SendEnvelope([]byte(`{}`)); err == nil {
		t.Error("expected error before open")
	}
	dc.state = webrtc.DataChannelStateOpen
	if err := s.SendEnvelope([]byte(`{"type":"event.status"}`)); err != nil {
		t.Fatal(err)
	}
	if len(dc.binary) != 0 || len(dc.text) != 1 {
		t.Errorf("binary=%d text=%d", len(dc.binary), len(dc.text))
	}
}

func TestStopIsIdempotent(t *testing.T) {
	dc := &fakeChannel{state: webrtc.DataChannelStateOpen}
	s := New("v1", nil, dc, 0, zap.NewNop())
	s.Stop()
	s.Stop()
	s.SendFrame([]byte("jpeg"))
	if len(dc.binary) != 0 {
		t.Error("frame sent after stop")
	}
	if err := s.SetRemoteDescription(webrtc.SessionDescription{}); err == nil {
		t.Error("expected error without peer connection")
	}
}
