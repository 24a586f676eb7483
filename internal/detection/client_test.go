package detection

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/vision"
)

func TestDetectPostsFrameField(t *testing.T) {
	frame := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/detect" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		f, _, err := r.FormFile("frame")
		if err != nil {
			t.Errorf("missing frame field: %v", err)
			return
		}
		got, _ := io.ReadAll(f)
		if !bytes.Equal(got, frame) {
			t.Errorf("frame bytes mismatch")
		}
		w.Write([]byte(`{"objects":[{"class":"hammer","confidence":0.82,"bbox":{}},{"class":"rock","confidence":0.4}],
			"navigation":{"action":"turn_left","message":"Target hammer at turn left"},"status":"success"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "/detect", "/health", time.Second)
	res, err := c.Detect(context.Background(), frame)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Objects) != 2 || res.Objects[0].Class != "hammer" || res.Objects[0].Confidence != 0.82 {
		t.Errorf("unexpected objects %+v", res.Objects)
	}
	if res.Navigation == nil || res.Navigation.Action != vision.ActionTurnLeft {
		t.Errorf("unexpected navigation %+v", res.Navigation)
	}
}

func TestDetectMalformed(t *testing.T) {
	for _, body := range []string{`not json`, `{"status":"success"}`, `{"error":"model crashed"}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))
		_, err := NewClient(srv.URL, "/detect", "/health", time.Second).Detect(context.Background(), []byte{1})
		srv.Close()
		if !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("body %q: expected ErrMalformedResponse, got %v", body, err)
		}
	}
}

func TestDetectEmptyObjectsIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"objects":[]}`))
	}))
	defer srv.Close()
	res, err := NewClient(srv.URL, "/detect", "/health", time.Second).Detect(context.Background(), []byte{1})
	if err != nil || len(res.Objects) != 0 {
		t.Fatalf("expected empty result, got %+v, %v", res, err)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
		ok   bool
	}{
		{"json", 200, `{"status":"healthy","model_loaded":true}`, true},
		{"any json shape", 200, `[1,2]`, true},
		{"html", 200, `<html>proxy</html>`, false},
		{"server error", 503, `{"status":"down"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			err := NewClient(srv.URL, "/detect", "/health", time.Second).Health(context.Background())
			if tt.ok && err != nil {
				t.Fatalf("expected healthy, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrUnhealthy) {
				t.Fatalf("expected ErrUnhealthy, got %v", err)
			}
		})
	}
}
