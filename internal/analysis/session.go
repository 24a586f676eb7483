package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/clock"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/datastore"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/metrics"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/view"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/vision"
)

// retryLoadTimeout bounds a model load started by the retry timer.
const retryLoadTimeout = 30 * time.Second

// Session is one operator's analysis state: the displayed image, the
// selected model and the pending auto-clear timers.
type Session struct {
	ID     string
	w      *Workflow
	logger *zap.Logger

	// lastUsed is guarded by w.mu.
	lastUsed time.Time

	mu          sync.Mutex
	image       []byte
	imageName   string
	model       string
	ready       bool
	classifier  Classifier
	modelStatus string
	loadGen     uint64
	retry       clock.Timer
	renderGen   uint64
	transient   clock.Timer
	panel       clock.Timer
	closed      bool
}

// State is a read-only view of a session.
type State struct {
	ID          string `json:"id"`
	Model       string `json:"model,omitempty"`
	ModelReady  bool   `json:"modelReady"`
	ModelStatus string `json:"modelStatus,omitempty"`
	ImageName   string `json:"imageName,omitempty"`
	HasImage    bool   `json:"hasImage"`
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:          s.ID,
		Model:       s.model,
		ModelReady:  s.ready,
		ModelStatus: s.modelStatus,
		ImageName:   s.imageName,
		HasImage:    len(s.image) > 0,
	}
}

// Outcome is the result of one analysis.
type Outcome struct {
	Model      string                  `json:"model"`
	ImageName  string                  `json:"imageName,omitempty"`
	Objects    []vision.Detection      `json:"objects"`
	Navigation *vision.Navigation      `json:"navigation,omitempty"`
	Dataset    *datastore.DatasetEntry `json:"dataset,omitempty"`
	// Unknown is set for rock analyses with no dataset entry.
	Unknown bool `json:"unknown,omitempty"`
}

// SetImage makes image the one analysed next and clears earlier results.
func (s *Session) SetImage(image []byte, name string) error {
	if len(image) == 0 {
		return ErrNoImage
	}
	s.mu.Lock()
	s.image = append([]byte(nil), image...)
	s.imageName = name
	s.renderGen++
	stopTimer(&s.transient)
	stopTimer(&s.panel)
	s.mu.Unlock()

	s.clear(view.KindTransient)
	s.clear(view.KindPanel)
	return nil
}

// UseSample loads a stored sample's image by its image name.
func (s *Session) UseSample(ctx context.Context, imageName string) error {
	store := s.w.opts.Store
	if store == nil {
		return datastore.ErrNotFound
	}
	samples, err := store.ListSamples(ctx)
	if err != nil {
		return err
	}
	for _, rec := range samples {
		if !strings.EqualFold(rec.ImageName, imageName) {
			continue
		}
		img, err := store.ReadImage(ctx, rec.Image)
		if err != nil {
			return fmt.Errorf("sample %s: %w", rec.Key, err)
		}
		return s.SetImage(img, rec.ImageName)
	}
	return datastore.ErrNotFound
}

// UseCurrentFrame analyses the camera's current frame.
func (s *Session) UseCurrentFrame(ctx context.Context) error {
	if s.w.opts.Frames == nil {
		return ErrNoImage
	}
	frame, err := s.w.opts.Frames.CurrentFrame(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoImage, err)
	}
	return s.SetImage(frame, fmt.Sprintf("frame_%d", s.w.opts.Clock.Now().UnixMilli()))
}

// SelectModel switches to model and loads it. A failed load is retried every
// ModelRetry for as long as the model stays selected. Selecting the model
// that is already selected does nothing.
func (s *Session) SelectModel(ctx context.Context, model string) error {
	if !s.w.models[model] {
		return fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session closed")
	}
	if s.model == model {
		s.mu.Unlock()
		return nil
	}
	s.model = model
	s.ready = false
	s.classifier = nil
	s.loadGen++
	gen := s.loadGen
	stopTimer(&s.retry)
	s.mu.Unlock()

	s.logger.Info("model selected", zap.String("model", model))
	s.load(ctx, gen)
	return nil
}

func (s *Session) load(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.loadGen {
		s.mu.Unlock()
		return
	}
	model := s.model
	s.retry = nil
	s.mu.Unlock()

	var (
		cls Classifier
		err error
	)
	if model == ModelGeneral {
		s.setModelStatus(gen, "Connecting to GENERAL VISION backend...")
		if s.w.opts.Detector == nil {
			err = errors.New("no detector configured")
		} else {
			err = s.w.opts.Detector.Health(ctx)
		}
	} else {
		s.setModelStatus(gen, fmt.Sprintf("Loading %s model...", strings.ToUpper(model)))
		if s.w.opts.LoadClassifier == nil {
			err = errors.New("no classifier loader configured")
		} else {
			cls, err = s.w.opts.LoadClassifier(ctx, model)
		}
	}

	s.mu.Lock()
	if s.closed || gen != s.loadGen {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.retry = s.w.opts.Clock.AfterFunc(s.w.opts.ModelRetry, func() {
			ctx, cancel := context.WithTimeout(context.Background(), retryLoadTimeout)
			defer cancel()
			s.load(ctx, gen)
		})
		s.mu.Unlock()

		s.logger.Warn("model load failed, retrying",
			zap.String("model", model), zap.Duration("in", s.w.opts.ModelRetry), zap.Error(err))
		if model == ModelGeneral {
			s.setModelStatus(gen, "General Vision backend unavailable - Retrying...")
		} else {
			s.setModelStatus(gen, fmt.Sprintf("Error loading %s model - Retrying...", model))
		}
		return
	}
	s.ready = true
	s.classifier = cls
	s.mu.Unlock()

	s.logger.Info("model ready", zap.String("model", model))
	if model == ModelGeneral {
		s.setModelStatus(gen, "GENERAL VISION Model Ready")
	} else {
		s.setModelStatus(gen, fmt.Sprintf("%s Model Ready", strings.ToUpper(model)))
	}
}

func (s *Session) setModelStatus(gen uint64, text string) {
	s.mu.Lock()
	if gen != s.loadGen {
		s.mu.Unlock()
		return
	}
	s.modelStatus = text
	s.mu.Unlock()
	s.w.opts.View.SetStatus(text)
}

// Analyze runs the selected model on the selected image and renders the
// results. The general model goes to the detection service; every other
// model is a pretrained classifier.
func (s *Session) Analyze(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	img, name, model, ready, cls := s.image, s.imageName, s.model, s.ready, s.classifier
	s.mu.Unlock()
	if len(img) == 0 {
		return Outcome{}, ErrNoImage
	}
	if !ready {
		return Outcome{}, ErrModelNotReady
	}

	out := Outcome{Model: model, ImageName: name}
	start := time.Now()
	var err error
	route := "classifier"
	if model == ModelGeneral {
		route = "detector"
		var res vision.Result
		res, err = s.w.opts.Detector.Detect(ctx, img)
		out.Objects = vision.Truncate(res.Objects, s.w.opts.DetectorTopK)
		out.Navigation = res.Navigation
	} else {
		var preds []vision.Prediction
		preds, err = cls.Predict(ctx, img)
		out.Objects = vision.TopK(preds, s.w.opts.ClassifierTopK)
	}
	metrics.AnalysisLatency.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		s.logger.Warn("analysis failed", zap.String("model", model), zap.Error(err))
		s.w.opts.View.SetStatus("Analysis failed: " + err.Error())
		return Outcome{}, fmt.Errorf("analyze with %s: %w", model, err)
	}

	if model == ModelRock {
		s.lookupDataset(ctx, &out)
	}
	s.render(out)
	return out, nil
}

func (s *Session) lookupDataset(ctx context.Context, out *Outcome) {
	top, ok := vision.Result{Objects: out.Objects}.Primary()
	if !ok || s.w.opts.Store == nil {
		out.Unknown = true
		return
	}
	entry, err := s.w.opts.Store.LookupDataset(ctx, top.Class)
	switch {
	case err == nil:
		out.Dataset = &entry
	case errors.Is(err, datastore.ErrNotFound):
		out.Unknown = true
	default:
		s.logger.Warn("dataset lookup failed", zap.String("type", top.Class), zap.Error(err))
		out.Unknown = true
	}
}

// render shows the transient readout and the panel and schedules their
// auto-clear. A newer render or image cancels older clears.
func (s *Session) render(out Outcome) {
	now := s.w.opts.Clock.Now()
	top, ok := vision.Result{Objects: out.Objects}.Primary()
	if !ok {
		top = vision.Detection{Class: "Unknown"}
	}

	s.mu.Lock()
	s.renderGen++
	gen := s.renderGen
	stopTimer(&s.transient)
	stopTimer(&s.panel)
	s.transient = s.w.opts.Clock.AfterFunc(s.w.opts.TransientClear, func() { s.expire(gen, view.KindTransient) })
	s.panel = s.w.opts.Clock.AfterFunc(s.w.opts.PanelClear, func() { s.expire(gen, view.KindPanel) })
	s.mu.Unlock()

	v := s.w.opts.View
	v.RenderResults(view.Results{
		Kind:    view.KindTransient,
		Session: s.ID,
		Model:   out.Model,
		Objects: []vision.Detection{top},
		At:      now,
	})
	v.RenderResults(view.Results{
		Kind:       view.KindPanel,
		Session:    s.ID,
		Model:      out.Model,
		Image:      out.ImageName,
		Objects:    out.Objects,
		Navigation: out.Navigation,
		Dataset:    out.Dataset,
		Unknown:    out.Unknown,
		At:         now,
	})
	v.SetStatus(fmt.Sprintf("DETECTED: %s (%.1f%%)", strings.ToUpper(top.Class), top.Confidence*100))
}

func (s *Session) expire(gen uint64, kind string) {
	s.mu.Lock()
	stale := s.closed || gen != s.renderGen
	s.mu.Unlock()
	if !stale {
		s.clear(kind)
	}
}

func (s *Session) clear(kind string) {
	s.w.opts.View.RenderResults(view.Results{
		Kind:    kind,
		Session: s.ID,
		Clear:   true,
		At:      s.w.opts.Clock.Now(),
	})
}

// SaveRequest is the analyst input attached to the displayed sample.
type SaveRequest struct {
	AnalystName string `json:"analystName"`
	Comment     string `json:"comment"`
	ImageName   string `json:"imageName"`
}

// SaveAnalysis attaches the analyst input to the stored sample whose image
// name matches the displayed image, then closes the panel.
func (s *Session) SaveAnalysis(ctx context.Context, req SaveRequest) (datastore.SampleRecord, error) {
	if req.AnalystName == "" || req.Comment == "" || req.ImageName == "" {
		return datastore.SampleRecord{}, ErrIncomplete
	}
	s.mu.Lock()
	displayed, model := s.imageName, s.model
	s.mu.Unlock()
	if displayed == "" {
		return datastore.SampleRecord{}, ErrNoImage
	}
	if s.w.opts.Store == nil {
		return datastore.SampleRecord{}, datastore.ErrNotFound
	}

	rec, err := s.w.opts.Store.AttachAnalysis(ctx, displayed, datastore.Analysis{
		AnalystName: req.AnalystName,
		Comment:     req.Comment,
		ImageName:   req.ImageName,
		Model:       model,
		At:          s.w.opts.Clock.Now(),
	})
	if err != nil {
		if !errors.Is(err, datastore.ErrAlreadyAnalyzed) && !errors.Is(err, datastore.ErrNotFound) {
			s.logger.Error("save analysis failed", zap.Error(err))
			s.w.opts.View.SetStatus("Error saving analysis")
		}
		return rec, err
	}
	metrics.SamplesSavedTotal.WithLabelValues("analysis").Inc()
	s.logger.Info("analysis saved", zap.String("sample", rec.Key), zap.String("analyst", req.AnalystName))

	s.mu.Lock()
	s.imageName = rec.ImageName
	s.renderGen++
	stopTimer(&s.transient)
	stopTimer(&s.panel)
	s.mu.Unlock()
	s.clear(view.KindPanel)
	s.w.opts.View.SetStatus("Analysis saved successfully")
	return rec, nil
}

func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.loadGen++
	s.renderGen++
	stopTimer(&s.retry)
	stopTimer(&s.transient)
	stopTimer(&s.panel)
	s.mu.Unlock()
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
