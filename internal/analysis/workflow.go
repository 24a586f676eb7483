// Package analysis sequences operator image analysis: pick an image, pick a
// model, run it and render the top results.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/clock"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/datastore"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/detection"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/metrics"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/view"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/vision"
)

var (
	ErrModelNotReady = errors.New("model not ready")
	ErrNoImage       = errors.New("no image selected")
	ErrUnknownModel  = errors.New("unknown model")
	// ErrIncomplete means a save request is missing a required field.
	ErrIncomplete = errors.New("analyst name, comment and image name are required")
)

// ModelGeneral routes to the remote detection service. Every other model
// name is a pretrained classifier.
const ModelGeneral = "general"

// ModelRock additionally looks the top class up in the rock dataset.
const ModelRock = "rock"

// Classifier is a loaded pretrained model.
type Classifier interface {
	Predict(ctx context.Context, image []byte) ([]vision.Prediction, error)
}

// LoadFunc loads the named classifier.
type LoadFunc func(ctx context.Context, model string) (Classifier, error)

type Options struct {
	Detector       detection.Detector
	LoadClassifier LoadFunc
	// Models lists the classifier names LoadClassifier understands.
	Models []string
	Store  datastore.Store
	Frames detection.FrameProvider
	View   view.View
	Clock  clock.Clock
	Logger *zap.Logger

	ModelRetry     time.Duration
	TransientClear time.Duration
	PanelClear     time.Duration
	DetectorTopK   int
	ClassifierTopK int

	// ImagePrefix is the storage folder for manual captures.
	ImagePrefix string
	// CameraSource names the active camera for capture records.
	CameraSource func() string
	// SessionIdle is how long an unused operator session is kept.
	SessionIdle time.Duration
}

// Workflow owns the operator sessions and the manual capture path.
type Workflow struct {
	opts   Options
	models map[string]bool

	mu       sync.Mutex
	sessions map[string]*Session
	sweep    clock.Timer
}

func New(opts Options) *Workflow {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.View == nil {
		opts.View = view.Multi{}
	}
	if opts.ModelRetry <= 0 {
		opts.ModelRetry = 3 * time.Second
	}
	if opts.TransientClear <= 0 {
		opts.TransientClear = 5 * time.Second
	}
	if opts.PanelClear <= 0 {
		opts.PanelClear = 50 * time.Second
	}
	if opts.DetectorTopK <= 0 {
		opts.DetectorTopK = 5
	}
	if opts.ClassifierTopK <= 0 {
		opts.ClassifierTopK = 3
	}
	if opts.ImagePrefix == "" {
		opts.ImagePrefix = "EXPLORATION_SAMPLES"
	}
	if opts.SessionIdle <= 0 {
		opts.SessionIdle = 30 * time.Minute
	}
	if opts.CameraSource == nil {
		opts.CameraSource = func() string { return "unknown" }
	}

	models := map[string]bool{ModelGeneral: true}
	for _, m := range opts.Models {
		models[m] = true
	}
	return &Workflow{opts: opts, models: models, sessions: make(map[string]*Session)}
}

// Models returns the selectable model names, sorted.
func (w *Workflow) Models() []string {
	out := make([]string, 0, len(w.models))
	for m := range w.models {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Session returns the session for id, creating it on first use. Sessions
// unused for SessionIdle are closed and forgotten.
func (w *Workflow) Session(id string) *Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.opts.Clock.Now()
	if s, ok := w.sessions[id]; ok {
		s.lastUsed = now
		return s
	}
	s := &Session{
		ID:       id,
		w:        w,
		logger:   w.opts.Logger.With(zap.String("session", id)),
		lastUsed: now,
	}
	w.sessions[id] = s
	if w.sweep == nil {
		w.sweep = w.opts.Clock.AfterFunc(w.opts.SessionIdle, w.sweepIdle)
	}
	return s
}

// Lookup returns an existing session without creating one.
func (w *Workflow) Lookup(id string) (*Session, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[id]
	if ok {
		s.lastUsed = w.opts.Clock.Now()
	}
	return s, ok
}

// SessionCount reports how many operator sessions are open.
func (w *Workflow) SessionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

// CloseSession cancels the session's timers and forgets it.
func (w *Workflow) CloseSession(id string) {
	w.mu.Lock()
	s, ok := w.sessions[id]
	delete(w.sessions, id)
	if len(w.sessions) == 0 {
		w.stopSweepLocked()
	}
	w.mu.Unlock()
	if ok {
		s.close()
	}
}

// Close ends every session.
func (w *Workflow) Close() {
	w.mu.Lock()
	sessions := w.sessions
	w.sessions = make(map[string]*Session)
	w.stopSweepLocked()
	w.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

// sweepIdle closes idle sessions and rearms for the next one to expire.
// The timer only runs while sessions exist.
func (w *Workflow) sweepIdle() {
	idle := w.opts.SessionIdle
	w.mu.Lock()
	now := w.opts.Clock.Now()
	next := idle
	var expired []*Session
	for id, s := range w.sessions {
		left := idle - now.Sub(s.lastUsed)
		if left <= 0 {
			delete(w.sessions, id)
			expired = append(expired, s)
			continue
		}
		if left < next {
			next = left
		}
	}
	w.sweep = nil
	if len(w.sessions) > 0 {
		w.sweep = w.opts.Clock.AfterFunc(next, w.sweepIdle)
	}
	w.mu.Unlock()

	for _, s := range expired {
		s.close()
	}
	if len(expired) > 0 {
		w.opts.Logger.Info("idle analysis sessions closed", zap.Int("count", len(expired)))
	}
}

func (w *Workflow) stopSweepLocked() {
	if w.sweep != nil {
		w.sweep.Stop()
		w.sweep = nil
	}
}

// Samples lists the stored sample records for the gallery.
func (w *Workflow) Samples(ctx context.Context) ([]datastore.SampleRecord, error) {
	if w.opts.Store == nil {
		return nil, nil
	}
	return w.opts.Store.ListSamples(ctx)
}

// CaptureSample stores the current camera frame as a new sample. There is no
// automatic capture: this only runs on operator request.
func (w *Workflow) CaptureSample(ctx context.Context, label string, depth float64) (datastore.SampleRecord, error) {
	if w.opts.Store == nil || w.opts.Frames == nil {
		return datastore.SampleRecord{}, errors.New("capture not configured")
	}
	if label == "" {
		label = "unknown"
	}
	frame, err := w.opts.Frames.CurrentFrame(ctx)
	if err != nil {
		w.opts.View.SetStatus("Screenshot capture failed")
		return datastore.SampleRecord{}, fmt.Errorf("capture: %w", err)
	}

	ts := w.opts.Clock.Now().UnixMilli()
	path := fmt.Sprintf("%s/screenshot_%d.jpg", w.opts.ImagePrefix, ts)
	ref, err := w.opts.Store.UploadImage(ctx, path, frame, "image/jpeg")
	if err != nil {
		w.opts.Logger.Error("sample upload failed", zap.Error(err))
		w.opts.View.SetStatus("Screenshot save failed")
		return datastore.SampleRecord{}, err
	}

	source := w.opts.CameraSource()
	comment := fmt.Sprintf("Manually captured during exploration mission. Context: %s. Source: %s",
		label, strings.ToUpper(source))
	rec := datastore.SampleRecord{
		Object:         label,
		ImageName:      fmt.Sprintf("manual_capture_%s_%d", label, ts),
		Image:          ref,
		Timestamp:      ts,
		Depth:          depth,
		Mode:           "exploration_manual",
		CameraSource:   source,
		AnalystName:    "Rover System",
		AnalystComment: comment,
	}
	rec, err = w.opts.Store.CreateSample(ctx, strconv.FormatInt(ts, 10), rec)
	if err != nil {
		w.opts.Logger.Error("sample record failed", zap.Error(err))
		w.opts.View.SetStatus("Database update failed")
		return datastore.SampleRecord{}, err
	}
	metrics.SamplesSavedTotal.WithLabelValues("capture").Inc()
	w.opts.Logger.Info("sample captured", zap.String("key", rec.Key), zap.String("label", label))
	w.opts.View.SetStatus("Manual capture uploaded to database")
	return rec, nil
}
