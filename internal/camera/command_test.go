package camera

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"
)

type roverStub struct {
	upgrader websocket.Upgrader
	received chan map[string]any
	conns    atomic.Int32

	mu   sync.Mutex
	conn *websocket.Conn
}

func newRoverStub() *roverStub {
	return &roverStub{received: make(chan map[string]any, 64)}
}

func (s *roverStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.conns.Add(1)
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.received <- msg
	}
}

func (s *roverStub) push(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *roverStub) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close()
}

func waitCond(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCommandChannelSendAndUpdates(t *testing.T) {
	stub := newRoverStub()
	srv := httptest.NewServer(stub)
	defer srv.Close()

	updates := make(chan MissionUpdate, 4)
	ch := NewCommandChannel(CommandOptions{
		URL:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		Backoff:   stream.Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond},
		Heartbeat: time.Hour,
		OnUpdate:  func(u MissionUpdate) { updates <- u },
	})

	if err := ch.Send("move", "forward", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before Run, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ch.Run(ctx)
	waitCond(t, "connection", ch.Connected)

	if err := ch.Send("move", "forward", map[string]any{"speed": 2, "command": "ignored"}); err != nil {
		t.Fatal(err)
	}
	msg := <-stub.received
	if msg["command"] != "move" || msg["value"] != "forward" || msg["speed"] != float64(2) {
		t.Errorf("unexpected command payload %v", msg)
	}
	if _, ok := msg["timestamp"]; !ok {
		t.Error("command missing timestamp")
	}

	balloon := 2
	raw, _ := json.Marshal(MissionUpdate{MissionStatus: "searching", CurrentBalloon: &balloon})
	var v map[string]any
	json.Unmarshal(raw, &v)
	if err := stub.push(v); err != nil {
		t.Fatal(err)
	}
	select {
	case u := <-updates:
		if u.MissionStatus != "searching" || u.CurrentBalloon == nil || *u.CurrentBalloon != 2 {
			t.Errorf("unexpected update %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no mission update delivered")
	}
}

func TestCommandChannelReconnects(t *testing.T) {
	stub := newRoverStub()
	srv := httptest.NewServer(stub)
	defer srv.Close()

	var states []bool
	var mu sync.Mutex
	ch := NewCommandChannel(CommandOptions{
		URL:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		Backoff:   stream.Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond},
		Heartbeat: time.Hour,
		OnState: func(c bool) {
			mu.Lock()
			states = append(states, c)
			mu.Unlock()
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ch.Run(ctx)

	waitCond(t, "first connection", func() bool { return stub.conns.Load() == 1 })
	waitCond(t, "connected", ch.Connected)
	stub.drop()
	waitCond(t, "reconnection", func() bool { return stub.conns.Load() == 2 })
	waitCond(t, "connected again", ch.Connected)

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 3 || !states[0] || states[1] || !states[2] {
		t.Errorf("unexpected state sequence %v", states)
	}
}

func TestCommandChannelHeartbeat(t *testing.T) {
	stub := newRoverStub()
	srv := httptest.NewServer(stub)
	defer srv.Close()

	ch := NewCommandChannel(CommandOptions{
		URL:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		Heartbeat: 10 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ch.Run(ctx)

	select {
	case msg := <-stub.received:
		if msg["command"] != "heartbeat" || msg["value"] != "ping" {
			t.Errorf("unexpected heartbeat %v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat received")
	}
}

func TestCommandChannelGivesUpUntilProbeSucceeds(t *testing.T) {
	var probes atomic.Int32
	var healthy atomic.Bool
	stub := newRoverStub()
	srv := httptest.NewServer(stub)
	defer srv.Close()

	ch := NewCommandChannel(CommandOptions{
		URL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Probe: func(context.Context) error {
			probes.Add(1)
			if healthy.Load() {
				return nil
			}
			return errors.New("rover offline")
		},
		Backoff:       stream.Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond},
		MaxRetries:    3,
		ProbeInterval: 20 * time.Millisecond,
		Heartbeat:     time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ch.Run(ctx)

	waitCond(t, "retries exhausted", func() bool { return probes.Load() >= 4 })
	if stub.conns.Load() != 0 {
		t.Fatal("dialed while probe failing")
	}
	healthy.Store(true)
	waitCond(t, "connected after probe", ch.Connected)
}
