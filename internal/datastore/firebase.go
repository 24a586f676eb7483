package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/clock"
)

const (
	DefaultAuthURL    = "https://identitytoolkit.googleapis.com/v1"
	DefaultStorageURL = "https://firebasestorage.googleapis.com/v0"
)

// tokenSlack renews the ID token this long before it expires.
const tokenSlack = time.Minute

// FirebaseOptions configures the REST store. AuthURL and StorageURL default
// to the public Google endpoints.
type FirebaseOptions struct {
	APIKey        string
	DatabaseURL   string
	StorageBucket string
	Email         string
	Password      string
	SamplesPath   string
	DatasetPath   string

	AuthURL    string
	StorageURL string
	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     *zap.Logger
}

// Firebase is a Store over the Firebase REST APIs: Identity Toolkit for the
// service login, Realtime Database for records and Cloud Storage for images.
type Firebase struct {
	opts FirebaseOptions
	http *http.Client

	tokenMu sync.Mutex
	token   string
	expires time.Time

	// attachMu serialises read-check-write in AttachAnalysis.
	attachMu sync.Mutex
}

func NewFirebase(opts FirebaseOptions) (*Firebase, error) {
	if opts.DatabaseURL == "" {
		return nil, errors.New("firebase: database URL required")
	}
	opts.DatabaseURL = strings.TrimRight(opts.DatabaseURL, "/")
	if opts.AuthURL == "" {
		opts.AuthURL = DefaultAuthURL
	}
	if opts.StorageURL == "" {
		opts.StorageURL = DefaultStorageURL
	}
	if opts.SamplesPath == "" {
		opts.SamplesPath = "Samples"
	}
	if opts.DatasetPath == "" {
		opts.DatasetPath = "Dataset"
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Firebase{opts: opts, http: hc}, nil
}

type signInResponse struct {
	IDToken   string `json:"idToken"`
	ExpiresIn string `json:"expiresIn"`
}

// idToken returns a cached ID token, signing in again when it is close to
// expiry. Without credentials it returns "" and requests go unauthenticated.
func (f *Firebase) idToken(ctx context.Context) (string, error) {
	if f.opts.Email == "" {
		return "", nil
	}
	f.tokenMu.Lock()
	defer f.tokenMu.Unlock()

	now := f.opts.Clock.Now()
	if f.token != "" && now.Before(f.expires.Add(-tokenSlack)) {
		return f.token, nil
	}

	body, _ := json.Marshal(map[string]any{
		"email":             f.opts.Email,
		"password":          f.opts.Password,
		"returnSecureToken": true,
	})
	u := f.opts.AuthURL + "/accounts:signInWithPassword?key=" + url.QueryEscape(f.opts.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out signInResponse
	if err := f.do(req, &out); err != nil {
		return "", fmt.Errorf("firebase sign-in: %w", err)
	}
	secs, err := strconv.Atoi(out.ExpiresIn)
	if err != nil || out.IDToken == "" {
		return "", fmt.Errorf("firebase sign-in: malformed response")
	}
	f.token = out.IDToken
	f.expires = now.Add(time.Duration(secs) * time.Second)
	f.opts.Logger.Debug("firebase token refreshed", zap.Time("expires", f.expires))
	return f.token, nil
}

func (f *Firebase) do(req *http.Request, out any) error {
	resp, err := f.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(out)
}

func (f *Firebase) dbURL(ctx context.Context, path string) (string, error) {
	tok, err := f.idToken(ctx)
	if err != nil {
		return "", err
	}
	u := f.opts.DatabaseURL + "/" + strings.Trim(path, "/") + ".json"
	if tok != "" {
		u += "?auth=" + url.QueryEscape(tok)
	}
	return u, nil
}

func (f *Firebase) dbGet(ctx context.Context, path string, out any) error {
	u, err := f.dbURL(ctx, path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return f.do(req, out)
}

func (f *Firebase) dbPatch(ctx context.Context, path string, v any) error {
	u, err := f.dbURL(ctx, path)
	if err != nil {
		return err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return f.do(req, nil)
}

func (f *Firebase) objectURL(ref string) string {
	return f.opts.StorageURL + "/b/" + f.opts.StorageBucket + "/o/" + url.PathEscape(ref)
}

func (f *Firebase) UploadImage(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	tok, err := f.idToken(ctx)
	if err != nil {
		return "", err
	}
	u := f.opts.StorageURL + "/b/" + f.opts.StorageBucket + "/o?name=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	if tok != "" {
		req.Header.Set("Authorization", "Firebase "+tok)
	}
	var meta struct {
		Name string `json:"name"`
	}
	if err := f.do(req, &meta); err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	if meta.Name == "" {
		meta.Name = path
	}
	return meta.Name, nil
}

// ImageURL reads the object's metadata and builds a tokenised download URL.
func (f *Firebase) ImageURL(ctx context.Context, ref string) (string, error) {
	tok, err := f.idToken(ctx)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.objectURL(ref), nil)
	if err != nil {
		return "", err
	}
	if tok != "" {
		req.Header.Set("Authorization", "Firebase "+tok)
	}
	var meta struct {
		DownloadTokens string `json:"downloadTokens"`
	}
	if err := f.do(req, &meta); err != nil {
		return "", fmt.Errorf("image metadata %s: %w", ref, err)
	}
	u := f.objectURL(ref) + "?alt=media"
	if t, _, _ := strings.Cut(meta.DownloadTokens, ","); t != "" {
		u += "&token=" + url.QueryEscape(t)
	}
	return u, nil
}

// ReadImage downloads the object behind ref.
func (f *Firebase) ReadImage(ctx context.Context, ref string) ([]byte, error) {
	u, err := f.ImageURL(ctx, ref)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("download %s: %s", ref, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}

func (f *Firebase) CreateSample(ctx context.Context, key string, rec SampleRecord) (SampleRecord, error) {
	if key == "" {
		key = newKey()
	}
	rec.Key = key
	if err := f.dbPatch(ctx, f.opts.SamplesPath+"/"+key, rec); err != nil {
		return SampleRecord{}, fmt.Errorf("create sample %s: %w", key, err)
	}
	return rec, nil
}

func (f *Firebase) ListSamples(ctx context.Context) ([]SampleRecord, error) {
	var raw map[string]SampleRecord
	if err := f.dbGet(ctx, f.opts.SamplesPath, &raw); err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	out := make([]SampleRecord, 0, len(raw))
	for k, s := range raw {
		s.Key = k
		out = append(out, s)
	}
	sortSamples(out)
	return out, nil
}

func (f *Firebase) AttachAnalysis(ctx context.Context, imageName string, a Analysis) (SampleRecord, error) {
	f.attachMu.Lock()
	defer f.attachMu.Unlock()

	samples, err := f.ListSamples(ctx)
	if err != nil {
		return SampleRecord{}, err
	}
	rec, ok := findSample(samples, imageName)
	if !ok {
		return SampleRecord{}, ErrNotFound
	}
	if rec.Analyzed() {
		return rec, ErrAlreadyAnalyzed
	}
	a.apply(&rec)
	update := map[string]any{
		"analyst_name":       rec.AnalystName,
		"analyst_comment":    rec.AnalystComment,
		"image_name":         rec.ImageName,
		"model_used":         rec.ModelUsed,
		"analysis_timestamp": rec.AnalysisTimestamp,
	}
	if err := f.dbPatch(ctx, f.opts.SamplesPath+"/"+rec.Key, update); err != nil {
		return SampleRecord{}, fmt.Errorf("attach analysis %s: %w", rec.Key, err)
	}
	f.opts.Logger.Info("analysis attached", zap.String("sample", rec.Key), zap.String("analyst", rec.AnalystName))
	return rec, nil
}

func (f *Firebase) LookupDataset(ctx context.Context, rockType string) (DatasetEntry, error) {
	var raw map[string]DatasetEntry
	if err := f.dbGet(ctx, f.opts.DatasetPath, &raw); err != nil {
		return DatasetEntry{}, fmt.Errorf("dataset: %w", err)
	}
	e, ok := findDataset(raw, rockType)
	if !ok {
		return DatasetEntry{}, ErrNotFound
	}
	return e, nil
}
