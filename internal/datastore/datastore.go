// Package datastore persists sample records and images and serves the rock
// reference dataset.
package datastore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrAlreadyAnalyzed is returned when a sample already carries an analysis.
	ErrAlreadyAnalyzed = errors.New("sample already analyzed")
)

// SampleRecord is one captured sample. It is created on upload and mutated
// once, when an operator attaches an analysis.
type SampleRecord struct {
	Key               string  `json:"-"`
	Object            string  `json:"object,omitempty"`
	ImageName         string  `json:"image_name"`
	Image             string  `json:"image,omitempty"`
	Timestamp         int64   `json:"timestamp,omitempty"`
	Depth             float64 `json:"depth,omitempty"`
	Mode              string  `json:"mode,omitempty"`
	CameraSource      string  `json:"camera_source,omitempty"`
	AnalystName       string  `json:"analyst_name,omitempty"`
	AnalystComment    string  `json:"analyst_comment,omitempty"`
	ModelUsed         string  `json:"model_used,omitempty"`
	AnalysisTimestamp int64   `json:"analysis_timestamp,omitempty"`
}

// Analyzed reports whether an operator analysis has been attached.
func (r SampleRecord) Analyzed() bool { return r.AnalysisTimestamp != 0 }

// Analysis is what an operator attaches to a sample.
type Analysis struct {
	AnalystName string
	Comment     string
	ImageName   string
	Model       string
	At          time.Time
}

func (a Analysis) apply(rec *SampleRecord) {
	rec.AnalystName = a.AnalystName
	rec.AnalystComment = a.Comment
	if a.ImageName != "" {
		rec.ImageName = a.ImageName
	}
	rec.ModelUsed = a.Model
	rec.AnalysisTimestamp = a.At.UnixMilli()
}

// LifeSupport is the habitability estimate stored with a dataset entry.
type LifeSupport struct {
	Percentage  float64 `json:"percentage"`
	Description string  `json:"description"`
}

// DatasetEntry describes one rock type.
type DatasetEntry struct {
	Type               string       `json:"type"`
	FormationProcess   string       `json:"formation_process,omitempty"`
	Description        string       `json:"description,omitempty"`
	Texture            string       `json:"texture,omitempty"`
	Structure          string       `json:"structure,omitempty"`
	MineralComposition []string     `json:"mineral_composition,omitempty"`
	SignsOfWater       bool         `json:"signs_of_water"`
	LifeSupport        *LifeSupport `json:"life_support_potential,omitempty"`
}

// SupportsLife is true when the life-support estimate is at least 50%.
func (e DatasetEntry) SupportsLife() bool {
	return e.LifeSupport != nil && e.LifeSupport.Percentage >= 50
}

// Store is the realtime data store.
type Store interface {
	// UploadImage stores data under path and returns a reference to it.
	UploadImage(ctx context.Context, path string, data []byte, contentType string) (string, error)
	ImageURL(ctx context.Context, ref string) (string, error)
	ReadImage(ctx context.Context, ref string) ([]byte, error)
	// CreateSample writes rec under key. An empty key gets a generated one.
	CreateSample(ctx context.Context, key string, rec SampleRecord) (SampleRecord, error)
	ListSamples(ctx context.Context) ([]SampleRecord, error)
	// AttachAnalysis updates the sample whose image name matches imageName,
	// ignoring case.
	AttachAnalysis(ctx context.Context, imageName string, a Analysis) (SampleRecord, error)
	LookupDataset(ctx context.Context, rockType string) (DatasetEntry, error)
}

func findSample(samples []SampleRecord, imageName string) (SampleRecord, bool) {
	for _, s := range samples {
		if s.ImageName != "" && strings.EqualFold(s.ImageName, imageName) {
			return s, true
		}
	}
	return SampleRecord{}, false
}

func findDataset(entries map[string]DatasetEntry, rockType string) (DatasetEntry, bool) {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if e := entries[k]; e.Type != "" && strings.EqualFold(e.Type, rockType) {
			return e, true
		}
	}
	return DatasetEntry{}, false
}

func sortSamples(samples []SampleRecord) {
	sort.Slice(samples, func(i, j int) bool { return samples[i].Key < samples[j].Key })
}

func newKey() string { return uuid.NewString() }

// Memory is an in-process Store used for tests and for running without a
// backend.
type Memory struct {
	mu      sync.Mutex
	images  map[string][]byte
	samples map[string]SampleRecord
	dataset map[string]DatasetEntry
}

func NewMemory() *Memory {
	return &Memory{
		images:  make(map[string][]byte),
		samples: make(map[string]SampleRecord),
		dataset: make(map[string]DatasetEntry),
	}
}

// SeedDataset adds a dataset entry under key.
func (m *Memory) SeedDataset(key string, e DatasetEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataset[key] = e
}

// Image returns the bytes stored under ref.
func (m *Memory) Image(ref string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.images[ref]
	return b, ok
}

func (m *Memory) UploadImage(_ context.Context, path string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[path] = append([]byte(nil), data...)
	return path, nil
}

func (m *Memory) ImageURL(_ context.Context, ref string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.images[ref]; !ok {
		return "", ErrNotFound
	}
	return "memory://" + ref, nil
}

func (m *Memory) ReadImage(_ context.Context, ref string) ([]byte, error) {
	b, ok := m.Image(ref)
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (m *Memory) CreateSample(_ context.Context, key string, rec SampleRecord) (SampleRecord, error) {
	if key == "" {
		key = newKey()
	}
	rec.Key = key
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[key] = rec
	return rec, nil
}

func (m *Memory) ListSamples(context.Context) ([]SampleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SampleRecord, 0, len(m.samples))
	for _, s := range m.samples {
		out = append(out, s)
	}
	sortSamples(out)
	return out, nil
}

func (m *Memory) AttachAnalysis(ctx context.Context, imageName string, a Analysis) (SampleRecord, error) {
	samples, _ := m.ListSamples(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := findSample(samples, imageName)
	if !ok {
		return SampleRecord{}, ErrNotFound
	}
	// Re-read under the lock so two concurrent attaches cannot both win.
	rec = m.samples[rec.Key]
	if rec.Analyzed() {
		return rec, ErrAlreadyAnalyzed
	}
	a.apply(&rec)
	m.samples[rec.Key] = rec
	return rec, nil
}

func (m *Memory) LookupDataset(_ context.Context, rockType string) (DatasetEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := findDataset(m.dataset, rockType)
	if !ok {
		return DatasetEntry{}, ErrNotFound
	}
	return e, nil
}
