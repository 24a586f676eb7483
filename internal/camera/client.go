package camera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrInvalidControl is returned for an unknown control or an out-of-range value.
	ErrInvalidControl = errors.New("invalid camera control")
	// ErrMalformedStatus means the proxy's status response was not the expected JSON.
	ErrMalformedStatus = errors.New("malformed camera status")
	// ErrOffline means the proxy reported the camera as not online.
	ErrOffline = errors.New("camera offline")
)

const maxStillBytes = 8 << 20

type controlRange struct{ min, max int }

var controls = map[string]controlRange{
	"brightness":     {-2, 2},
	"contrast":       {-2, 2},
	"saturation":     {-2, 2},
	"quality":        {10, 63},
	"framesize":      {0, 10},
	"special_effect": {0, 6},
	"wb_mode":        {0, 4},
}

// ValidateControl checks a control name and value against the module's limits.
func ValidateControl(name string, value int) error {
	r, ok := controls[name]
	if !ok {
		return fmt.Errorf("%w: unknown control %q", ErrInvalidControl, name)
	}
	if value < r.min || value > r.max {
		return fmt.Errorf("%w: %s=%d outside [%d,%d]", ErrInvalidControl, name, value, r.min, r.max)
	}
	return nil
}

// Client issues the camera module's HTTP requests.
type Client struct {
	ep   Endpoints
	http *http.Client
}

// NewClient returns a Client. The http.Client should carry no overall
// timeout because /stream stays open; requests are bounded by their context.
func NewClient(ep Endpoints, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{ep: ep, http: httpClient}
}

func (c *Client) Endpoints() Endpoints { return c.ep }

// Status probes the module. Direct: any 2xx or 404 means alive, since older
// firmware has no status handler. Proxy: a 2xx JSON body with
// status "online" is required.
func (c *Client) Status(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := c.get(ctx, c.ep.Status)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !c.ep.Proxy {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode/100 == 2 || resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("camera status: %s", resp.Status)
	}

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("camera status: %s", resp.Status)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedStatus, err)
	}
	if body.Status == "" {
		return fmt.Errorf("%w: missing status field", ErrMalformedStatus)
	}
	if body.Status != "online" {
		return fmt.Errorf("%w: status %q", ErrOffline, body.Status)
	}
	return nil
}

// Capture fetches a single still image.
func (c *Client) Capture(ctx context.Context) ([]byte, error) {
	resp, err := c.get(ctx, c.ep.Capture)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("camera capture: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxStillBytes))
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("camera capture: empty body")
	}
	return data, nil
}

// SetControl sets one sensor control. Values are validated before any
// request is made.
func (c *Client) SetControl(ctx context.Context, name string, value int) error {
	if err := ValidateControl(name, value); err != nil {
		return err
	}
	q := url.Values{}
	q.Set("var", name)
	q.Set("val", strconv.Itoa(value))

	resp, err := c.get(ctx, c.ep.Control+"?"+q.Encode())
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("camera control %s: %s", name, resp.Status)
	}
	return nil
}

// OpenStream starts the continuous /stream response. The caller closes the body.
func (c *Client) OpenStream(ctx context.Context) (*http.Response, error) {
	resp, err := c.get(ctx, c.ep.Stream)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("camera stream: %s", resp.Status)
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	return c.http.Do(req)
}
