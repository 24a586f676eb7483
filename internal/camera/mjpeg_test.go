package camera

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"
)

func jpeg(payload ...byte) []byte {
	out := []byte{0xFF, 0xD8}
	out = append(out, payload...)
	return append(out, 0xFF, 0xD9)
}

func collect(t *testing.T, body []byte, contentType string) [][]byte {
	t.Helper()
	var frames [][]byte
	err := ReadMJPEG(context.Background(), bytes.NewReader(body), contentType, func(f []byte) {
		frames = append(frames, f)
	})
	if err != nil {
		t.Fatalf("ReadMJPEG: %v", err)
	}
	return frames
}

func TestReadMJPEGMultipart(t *testing.T) {
	var buf bytes.Buffer
	w := NewMJPEGWriter(&buf, "123456789000000000000987654321")
	want := [][]byte{jpeg(1, 2, 3), jpeg(4), jpeg(5, 6)}
	for _, f := range want {
		if err := w.WriteFrame(f); err != nil {
			t.Fatal(err)
		}
	}
	buf.WriteString("--123456789000000000000987654321--\r\n")

	frames := collect(t, buf.Bytes(), w.ContentType())
	if len(frames) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(frames))
	}
	for i := range want {
		if !bytes.Equal(frames[i], want[i]) {
			t.Errorf("frame %d = %x, want %x", i, frames[i], want[i])
		}
	}
}

func TestReadMJPEGMarkerFallback(t *testing.T) {
	body := append([]byte("garbage"), jpeg(0xAA, 0xFF, 0x00)...)
	body = append(body, '\r', '\n')
	body = append(body, jpeg(0xBB)...)
	body = append(body, 0xFF, 0xD8, 0x01) // truncated trailing frame

	frames := collect(t, body, "application/octet-stream")
	if len(frames) != 2 {
		t.Fatalf("expected 2 complete frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], jpeg(0xAA, 0xFF, 0x00)) || !bytes.Equal(frames[1], jpeg(0xBB)) {
		t.Errorf("unexpected frames %x", frames)
	}
}

func TestReadMJPEGStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ReadMJPEG(ctx, bytes.NewReader(jpeg(1)), "", func([]byte) {})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReadMJPEGEmitsFrameBeforeNextBoundary(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	w := NewMJPEGWriter(pw, "frame")

	got := make(chan []byte, 1)
	done := make(chan error, 1)
	go func() {
		done <- ReadMJPEG(context.Background(), pr, w.ContentType(), func(f []byte) { got <- f })
	}()

	go w.WriteFrame(jpeg(7, 7))
	select {
	case f := <-got:
		if !bytes.Equal(f, jpeg(7, 7)) {
			t.Fatalf("frame = %x", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame held back until the next part starts")
	}

	pw.Close()
	if err := <-done; err != nil {
		t.Fatalf("ReadMJPEG: %v", err)
	}
}

func TestReadMJPEGPartWithoutLength(t *testing.T) {
	var body bytes.Buffer
	body.WriteString("--b\r\nContent-Type: image/jpeg\r\n\r\n")
	body.Write(jpeg(1, 0xFF, 2))
	body.WriteString("\r\n--b\r\nContent-Type: image/jpeg\r\nContent-Length: 5\r\n\r\n")
	body.Write(jpeg(3))
	body.WriteString("\r\n--b--\r\n")

	frames := collect(t, body.Bytes(), "multipart/x-mixed-replace; boundary=b")
	if len(frames) != 2 || !bytes.Equal(frames[0], jpeg(1, 0xFF, 2)) || !bytes.Equal(frames[1], jpeg(3)) {
		t.Fatalf("frames = %x", frames)
	}
}
