// Package classifier loads pretrained image classifiers published by URL
// (a model.json + metadata.json pair) and asks a prediction host for
// per-class probabilities.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/vision"
)

var (
	ErrUnknownModel = errors.New("unknown classifier model")
	// ErrNoPredictor means no prediction host is configured.
	ErrNoPredictor = errors.New("no prediction host configured")
	ErrBadModel    = errors.New("invalid model files")
)

// Model is a loaded classifier. Labels come from metadata.json in class
// index order.
type Model struct {
	Name   string
	URL    string
	Labels []string

	predictURL string
	http       *http.Client
}

// TotalClasses is the number of labels the model was trained on.
func (m *Model) TotalClasses() int { return len(m.Labels) }

// Loader resolves model names to their hosted files.
type Loader struct {
	models     map[string]string
	predictURL string
	http       *http.Client
}

// NewLoader builds a Loader. A nil client gets a 15 second timeout.
func NewLoader(models map[string]string, predictURL string, client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	m := make(map[string]string, len(models))
	for name, u := range models {
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		m[name] = u
	}
	return &Loader{models: m, predictURL: predictURL, http: client}
}

// Has reports whether name is a configured model.
func (l *Loader) Has(name string) bool {
	_, ok := l.models[name]
	return ok
}

type metadata struct {
	Labels []string `json:"labels"`
}

// Load fetches model.json and metadata.json for name. Both must be JSON and
// metadata must list at least one label.
func (l *Loader) Load(ctx context.Context, name string) (*Model, error) {
	base, ok := l.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}

	var topology map[string]any
	if err := l.getJSON(ctx, base+"model.json", &topology); err != nil {
		return nil, fmt.Errorf("load %s model.json: %w", name, err)
	}
	var meta metadata
	if err := l.getJSON(ctx, base+"metadata.json", &meta); err != nil {
		return nil, fmt.Errorf("load %s metadata.json: %w", name, err)
	}
	if len(meta.Labels) == 0 {
		return nil, fmt.Errorf("%w: %s metadata has no labels", ErrBadModel, name)
	}

	return &Model{
		Name:       name,
		URL:        base,
		Labels:     meta.Labels,
		predictURL: l.predictURL,
		http:       l.http,
	}, nil
}

func (l *Loader) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := l.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadModel, err)
	}
	return nil
}

type predictResponse struct {
	Predictions   []vision.Prediction `json:"predictions"`
	Probabilities []float64           `json:"probabilities"`
}

// Predict posts image (multipart field "image") and the model URL (field
// "model") to the prediction host. The host may answer with named
// predictions or with a bare probability vector in label order.
func (m *Model) Predict(ctx context.Context, image []byte) ([]vision.Prediction, error) {
	if m.predictURL == "" {
		return nil, ErrNoPredictor
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", m.URL); err != nil {
		return nil, err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="image.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	part.Write(image)
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.predictURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", m.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("predict %s: %s", m.Name, resp.Status)
	}

	var pr predictResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&pr); err != nil {
		return nil, fmt.Errorf("predict %s: decode: %w", m.Name, err)
	}
	if len(pr.Predictions) > 0 {
		return pr.Predictions, nil
	}
	if len(pr.Probabilities) != len(m.Labels) {
		return nil, fmt.Errorf("predict %s: got %d probabilities for %d labels",
			m.Name, len(pr.Probabilities), len(m.Labels))
	}
	out := make([]vision.Prediction, len(m.Labels))
	for i, label := range m.Labels {
		out[i] = vision.Prediction{ClassName: label, Probability: pr.Probabilities[i]}
	}
	return out, nil
}
