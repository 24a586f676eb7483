package camera

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"
)

// ExternalSource reads MJPEG (or single JPEG) from an arbitrary public URL.
type ExternalSource struct {
	url    string
	client *http.Client
}

// NewExternalSource validates rawURL against private and reserved
// destinations before accepting it.
func NewExternalSource(rawURL string, client *http.Client) (*ExternalSource, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{}
	}
	return &ExternalSource{url: rawURL, client: client}, nil
}

func (e *ExternalSource) Kind() stream.SourceKind { return stream.External }

func (e *ExternalSource) URL() string { return e.url }

func (e *ExternalSource) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := e.open(ctx)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (e *ExternalSource) Run(ctx context.Context, emit func([]byte)) error {
	resp, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return ReadMJPEG(ctx, resp.Body, resp.Header.Get("Content-Type"), emit)
}

// Snapshot returns the body of a still-image URL or the first frame of a stream.
func (e *ExternalSource) Snapshot(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	if mediaType, _, _ := mime.ParseMediaType(ct); mediaType == "image/jpeg" {
		return io.ReadAll(io.LimitReader(resp.Body, maxStillBytes))
	}

	var first []byte
	ReadMJPEG(ctx, resp.Body, ct, func(frame []byte) {
		if first == nil {
			first = frame
			cancel()
		}
	})
	if first == nil {
		return nil, fmt.Errorf("no frame in %s", e.url)
	}
	return first, nil
}

func (e *ExternalSource) open(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, fmt.Errorf("external camera: %s", resp.Status)
	}
	return resp, nil
}
