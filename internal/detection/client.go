// Package detection talks to the remote object-detection backend and runs
// the periodic frame polling loop.
package detection

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

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/metrics"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/vision"
)

var (
	// ErrUnhealthy means the health endpoint did not answer 2xx JSON.
	ErrUnhealthy = errors.New("detection backend unhealthy")
	// ErrMalformedResponse means /detect answered without an objects list.
	ErrMalformedResponse = errors.New("malformed detection response")
)

// Detector is the remote detection service.
type Detector interface {
	Detect(ctx context.Context, frame []byte) (vision.Result, error)
	Health(ctx context.Context) error
}

// Client is the HTTP Detector.
type Client struct {
	predictURL string
	healthURL  string
	http       *http.Client
}

func NewClient(baseURL, predictPath, healthPath string, timeout time.Duration) *Client {
	base := strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		predictURL: base + predictPath,
		healthURL:  base + healthPath,
		http:       &http.Client{Timeout: timeout},
	}
}

type detectResponse struct {
	Objects    *[]vision.Detection `json:"objects"`
	Navigation *vision.Navigation  `json:"navigation"`
	Error      string              `json:"error"`
}

// Detect posts frame as multipart field "frame".
func (c *Client) Detect(ctx context.Context, frame []byte) (vision.Result, error) {
	start := time.Now()
	res, err := c.detect(ctx, frame)
	metrics.DetectionLatency.Observe(float64(time.Since(start).Milliseconds()))
	switch {
	case err == nil:
		metrics.DetectionRequestsTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrMalformedResponse):
		metrics.DetectionRequestsTotal.WithLabelValues("malformed").Inc()
	default:
		metrics.DetectionRequestsTotal.WithLabelValues("error").Inc()
	}
	return res, err
}

func (c *Client) detect(ctx context.Context, frame []byte) (vision.Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="frame"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		return vision.Result{}, err
	}
	part.Write(frame)
	if err := mw.Close(); err != nil {
		return vision.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.predictURL, &body)
	if err != nil {
		return vision.Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return vision.Result{}, fmt.Errorf("detect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return vision.Result{}, fmt.Errorf("detect: %s", resp.Status)
	}

	var dr detectResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&dr); err != nil {
		return vision.Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if dr.Objects == nil {
		if dr.Error != "" {
			return vision.Result{}, fmt.Errorf("%w: backend error %q", ErrMalformedResponse, dr.Error)
		}
		return vision.Result{}, fmt.Errorf("%w: missing objects", ErrMalformedResponse)
	}
	return vision.Result{Objects: *dr.Objects, Navigation: dr.Navigation}, nil
}

// Health reports nil when the backend answers 2xx with any JSON body.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %s", ErrUnhealthy, resp.Status)
	}
	var v any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&v); err != nil {
		return fmt.Errorf("%w: non-JSON health response: %v", ErrUnhealthy, err)
	}
	return nil
}
