package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/clock"
)

// fakeFirebase serves the three REST surfaces from one server:
// /auth (Identity Toolkit), /db (Realtime Database) and /storage.
type fakeFirebase struct {
	t *testing.T

	mu       sync.Mutex
	signIns  int
	samples  map[string]map[string]any
	dataset  map[string]any
	objects  map[string][]byte
	lastAuth string
}

func newFakeFirebase(t *testing.T) (*fakeFirebase, *httptest.Server) {
	f := &fakeFirebase{
		t:       t,
		samples: make(map[string]map[string]any),
		dataset: map[string]any{
			"-a": map[string]any{"type": "Granite", "formation_process": "Igneous", "signs_of_water": false},
			"-b": map[string]any{"type": "Sandstone", "signs_of_water": true,
				"life_support_potential": map[string]any{"percentage": 72, "description": "porous"}},
		},
		objects: make(map[string][]byte),
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeFirebase) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/auth/accounts:signInWithPassword":
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if r.URL.Query().Get("key") != "api-key" || body["email"] != "ops@example.com" {
			http.Error(w, `{"error":"INVALID_LOGIN"}`, http.StatusBadRequest)
			return
		}
		f.signIns++
		json.NewEncoder(w).Encode(map[string]string{"idToken": "tok", "expiresIn": "3600"})

	case strings.HasPrefix(r.URL.Path, "/db/"):
		f.lastAuth = r.URL.Query().Get("auth")
		if f.lastAuth != "tok" {
			http.Error(w, `{"error":"Permission denied"}`, http.StatusUnauthorized)
			return
		}
		path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/db/"), ".json")
		f.serveDB(w, r, path)

	case strings.HasPrefix(r.URL.Path, "/storage/b/bucket/o"):
		if r.URL.Query().Get("alt") == "media" {
			name := strings.TrimPrefix(r.URL.Path, "/storage/b/bucket/o/")
			if r.URL.Query().Get("token") != "dl1" || f.objects[name] == nil {
				http.NotFound(w, r)
				return
			}
			w.Write(f.objects[name])
			return
		}
		if r.Header.Get("Authorization") != "Firebase tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method == http.MethodPost {
			name := r.URL.Query().Get("name")
			f.objects[name], _ = io.ReadAll(r.Body)
			json.NewEncoder(w).Encode(map[string]string{"name": name})
			return
		}
		escaped := strings.TrimPrefix(r.URL.EscapedPath(), "/storage/b/bucket/o/")
		if strings.Contains(escaped, "/") {
			http.Error(w, "object path must be escaped", http.StatusBadRequest)
			return
		}
		name := strings.ReplaceAll(escaped, "%2F", "/")
		if _, ok := f.objects[name]; !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"name": name, "downloadTokens": "dl1,dl2"})

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeFirebase) serveDB(w http.ResponseWriter, r *http.Request, path string) {
	switch {
	case r.Method == http.MethodGet && path == "Samples":
		if len(f.samples) == 0 {
			w.Write([]byte("null"))
			return
		}
		json.NewEncoder(w).Encode(f.samples)
	case r.Method == http.MethodGet && path == "Dataset":
		json.NewEncoder(w).Encode(f.dataset)
	case r.Method == http.MethodPatch && strings.HasPrefix(path, "Samples/"):
		key := strings.TrimPrefix(path, "Samples/")
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec := f.samples[key]
		if rec == nil {
			rec = make(map[string]any)
		}
		for k, v := range patch {
			rec[k] = v
		}
		f.samples[key] = rec
		json.NewEncoder(w).Encode(patch)
	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusBadRequest)
	}
}

func newTestFirebase(t *testing.T, srv *httptest.Server, clk clock.Clock) *Firebase {
	t.Helper()
	fb, err := NewFirebase(FirebaseOptions{
		APIKey:        "api-key",
		DatabaseURL:   srv.URL + "/db/",
		StorageBucket: "bucket",
		Email:         "ops@example.com",
		Password:      "secret",
		AuthURL:       srv.URL + "/auth",
		StorageURL:    srv.URL + "/storage",
		Clock:         clk,
	})
	if err != nil {
		t.Fatal(err)
	}
	return fb
}

func TestFirebaseRequiresDatabaseURL(t *testing.T) {
	if _, err := NewFirebase(FirebaseOptions{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestFirebaseSampleLifecycle(t *testing.T) {
	ctx := context.Background()
	fake, srv := newFakeFirebase(t)
	fb := newTestFirebase(t, srv, clock.NewFake(time.Unix(0, 0)))

	list, err := fb.ListSamples(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("empty list = %v, %v", list, err)
	}

	ref, err := fb.UploadImage(ctx, "EXPLORATION_SAMPLES/screenshot_1.png", []byte("png"), "image/png")
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	u, err := fb.ImageURL(ctx, ref)
	if err != nil {
		t.Fatalf("ImageURL: %v", err)
	}
	if !strings.Contains(u, "EXPLORATION_SAMPLES%2Fscreenshot_1.png?alt=media&token=dl1") {
		t.Errorf("download URL = %q", u)
	}

	if b, err := fb.ReadImage(ctx, ref); err != nil || string(b) != "png" {
		t.Errorf("ReadImage = %q, %v", b, err)
	}

	_, err = fb.CreateSample(ctx, "1", SampleRecord{
		ImageName: "manual_capture_rock_1", Image: ref, Timestamp: 1, AnalystName: "Rover System",
	})
	if err != nil {
		t.Fatalf("CreateSample: %v", err)
	}

	rec, err := fb.AttachAnalysis(ctx, "MANUAL_CAPTURE_ROCK_1", Analysis{
		AnalystName: "Ada", Comment: "looks volcanic", ImageName: "rock-1", Model: "rock", At: time.UnixMilli(99),
	})
	if err != nil {
		t.Fatalf("AttachAnalysis: %v", err)
	}
	if rec.Key != "1" || rec.ImageName != "rock-1" {
		t.Errorf("rec = %+v", rec)
	}
	fake.mu.Lock()
	stored := fake.samples["1"]
	fake.mu.Unlock()
	if stored["analyst_comment"] != "looks volcanic" || stored["image"] != ref {
		t.Errorf("stored = %v", stored)
	}

	if _, err := fb.AttachAnalysis(ctx, "rock-1", Analysis{AnalystName: "Bob", At: time.UnixMilli(100)}); !errors.Is(err, ErrAlreadyAnalyzed) {
		t.Fatalf("second attach err = %v", err)
	}

	fake.mu.Lock()
	signIns := fake.signIns
	fake.mu.Unlock()
	if signIns != 1 {
		t.Errorf("sign-ins = %d, want token reuse", signIns)
	}
}

func TestFirebaseTokenRefreshesBeforeExpiry(t *testing.T) {
	ctx := context.Background()
	fake, srv := newFakeFirebase(t)
	clk := clock.NewFake(time.Unix(0, 0))
	fb := newTestFirebase(t, srv, clk)

	fb.ListSamples(ctx)
	clk.Advance(58 * time.Minute)
	fb.ListSamples(ctx)
	clk.Advance(time.Minute + time.Second)
	fb.ListSamples(ctx)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.signIns != 2 {
		t.Fatalf("sign-ins = %d, want 2", fake.signIns)
	}
}

func TestFirebaseLookupDataset(t *testing.T) {
	_, srv := newFakeFirebase(t)
	fb := newTestFirebase(t, srv, clock.NewFake(time.Unix(0, 0)))

	e, err := fb.LookupDataset(context.Background(), "sandstone")
	if err != nil {
		t.Fatal(err)
	}
	if !e.SignsOfWater || !e.SupportsLife() || e.LifeSupport.Description != "porous" {
		t.Errorf("entry = %+v", e)
	}
	if _, err := fb.LookupDataset(context.Background(), "basalt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestFirebaseBadCredentials(t *testing.T) {
	_, srv := newFakeFirebase(t)
	fb, _ := NewFirebase(FirebaseOptions{
		APIKey:      "wrong",
		DatabaseURL: srv.URL + "/db",
		Email:       "ops@example.com",
		AuthURL:     srv.URL + "/auth",
	})
	if _, err := fb.ListSamples(context.Background()); err == nil {
		t.Fatal("expected sign-in failure")
	}
}
