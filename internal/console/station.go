package console

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/analysis"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/camera"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/gateway"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/rover"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"
)

// ErrInvalidSource covers unknown source kinds and rejected external URLs.
var ErrInvalidSource = errors.New("invalid stream source")

// SourceFactory builds the stream source for a kind. url is only used by the
// external source.
type SourceFactory interface {
	Build(kind stream.SourceKind, url string) (stream.Source, error)
}

// CameraSources builds sources backed by the camera package.
type CameraSources struct {
	Client       *camera.Client
	Transport    camera.Transport
	PollInterval time.Duration
	LocalDevice  string
	FFmpegPath   string
	// ExternalURL is used when an external start names no URL.
	ExternalURL string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

func (c CameraSources) Build(kind stream.SourceKind, url string) (stream.Source, error) {
	switch kind {
	case stream.LocalCapture:
		return camera.NewLocalSource(c.LocalDevice, c.FFmpegPath, c.Logger), nil
	case stream.RemoteCamera:
		if c.Client == nil {
			return nil, fmt.Errorf("%w: remote camera not configured", ErrInvalidSource)
		}
		return camera.NewRemoteSource(c.Client, c.Transport, c.Logger, camera.WithPollInterval(c.PollInterval)), nil
	case stream.External:
		if url == "" {
			url = c.ExternalURL
		}
		if url == "" {
			return nil, fmt.Errorf("%w: external source needs a url", ErrInvalidSource)
		}
		src, err := camera.NewExternalSource(url, c.HTTPClient)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
		}
		return src, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidSource, kind)
}

// Controls sets camera module variables; camera.Client implements it.
type Controls interface {
	SetControl(ctx context.Context, name string, value int) error
}

// Station ties the stream, rover and analysis pieces together. It serves
// both the HTTP handlers and WebRTC viewer commands.
type Station struct {
	Manager   *stream.Manager
	Sources   SourceFactory
	Camera    Controls
	Mission   *rover.Mission
	Navigator *rover.Navigator
	Workflow  *analysis.Workflow
	Logger    *zap.Logger
}

var _ gateway.Commands = (*Station)(nil)

// StartStream switches the manager to the named source.
func (s *Station) StartStream(source, url string) error {
	kind, err := stream.ParseSourceKind(source)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	src, err := s.Sources.Build(kind, url)
	if err != nil {
		return err
	}
	s.logger().Info("switching stream source", zap.String("source", kind.String()))
	return s.Manager.Start(src)
}

func (s *Station) StopStream() {
	s.Manager.Stop()
}

func (s *Station) SwitchSource(source, url string) error {
	return s.StartStream(source, url)
}

// Move sends a manual drive command. Stopping also cancels any pulse the
// navigator has in flight.
func (s *Station) Move(direction string) error {
	if s.Mission == nil {
		return camera.ErrNotConnected
	}
	if direction == rover.Stop && s.Navigator != nil {
		return s.Navigator.Halt()
	}
	return s.Mission.Move(direction)
}

func (s *Station) Capture(ctx context.Context, label string, depth float64) error {
	_, err := s.Workflow.CaptureSample(ctx, label, depth)
	return err
}

func (s *Station) SetControl(ctx context.Context, name string, value int) error {
	if err := camera.ValidateControl(name, value); err != nil {
		return err
	}
	if s.Camera == nil {
		return errors.New("camera controls not available")
	}
	return s.Camera.SetControl(ctx, name, value)
}

func (s *Station) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
