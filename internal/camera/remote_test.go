package camera

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"
)

type frameLog struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *frameLog) emit(frame []byte) {
	f.mu.Lock()
	f.frames = append(f.frames, frame)
	f.mu.Unlock()
}

func (f *frameLog) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func waitFrames(t *testing.T, f *frameLog, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.len() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d frames, got %d", n, f.len())
}

func TestRemoteSourceMJPEG(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw := NewMJPEGWriter(w, "frame")
		w.Header().Set("Content-Type", mw.ContentType())
		for i := byte(0); i < 3; i++ {
			mw.WriteFrame(jpeg(i))
			w.(http.Flusher).Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	src := NewRemoteSource(directClient(srv), TransportMJPEG, zap.NewNop())
	if src.Kind() != stream.RemoteCamera {
		t.Fatalf("unexpected kind %v", src.Kind())
	}

	ctx, cancel := context.WithCancel(context.Background())
	var got frameLog
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, got.emit) }()

	waitFrames(t, &got, 3)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !bytes.Equal(got.frames[2], jpeg(2)) {
		t.Errorf("unexpected third frame %x", got.frames[2])
	}
}

func TestRemoteSourceMJPEGFirstFrameThenStall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw := NewMJPEGWriter(w, "frame")
		w.Header().Set("Content-Type", mw.ContentType())
		mw.WriteFrame(jpeg(1))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	src := NewRemoteSource(directClient(srv), TransportMJPEG, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got frameLog
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, got.emit) }()

	waitFrames(t, &got, 1)
	cancel()
	<-done
}

func TestRemoteSourcePollStopsOnCancel(t *testing.T) {
	var captures atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captures.Add(1)
		w.Write(jpeg(9))
	}))
	defer srv.Close()

	src := NewRemoteSource(directClient(srv), TransportPoll, zap.NewNop(), WithPollInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	var got frameLog
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, got.emit) }()

	waitFrames(t, &got, 3)
	cancel()
	<-done

	after := captures.Load()
	time.Sleep(20 * time.Millisecond)
	if captures.Load() != after {
		t.Errorf("polling continued after cancel: %d -> %d", after, captures.Load())
	}
}

func TestRemoteSourcePollFailureEndsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewRemoteSource(directClient(srv), TransportPoll, zap.NewNop())
	if err := src.Run(context.Background(), func([]byte) {}); err == nil {
		t.Fatal("expected capture failure to end Run with an error")
	}
}

func TestRemoteSourceWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Camera" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		conn.WriteMessage(websocket.BinaryMessage, jpeg(1))
		conn.WriteMessage(websocket.BinaryMessage, jpeg(2))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	ep, _ := NewEndpoints(false, host, "")
	src := NewRemoteSource(NewClient(ep, srv.Client()), TransportWebSocket, zap.NewNop())

	var got frameLog
	if err := src.Run(context.Background(), got.emit); err != nil {
		t.Fatalf("expected clean end on normal close, got %v", err)
	}
	if got.len() != 2 {
		t.Fatalf("expected 2 binary frames, got %d", got.len())
	}
}
