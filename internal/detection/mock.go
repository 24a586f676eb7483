package detection

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/vision"
)

// MockClient returns canned responses for testing and for running the
// console without a detection backend.
type MockClient struct {
	DetectDelay time.Duration
	Result      vision.Result
	DetectErr   error
	HealthErr   error

	calls atomic.Int64
}

func (m *MockClient) Detect(ctx context.Context, frame []byte) (vision.Result, error) {
	m.calls.Add(1)
	select {
	case <-time.After(m.DetectDelay):
	case <-ctx.Done():
		return vision.Result{}, ctx.Err()
	}
	if m.DetectErr != nil {
		return vision.Result{}, m.DetectErr
	}
	res := m.Result
	if res.Objects == nil {
		res = vision.Result{
			Objects: []vision.Detection{{Class: "rock", Confidence: 0.91}},
			Navigation: &vision.Navigation{
				Action:  vision.ActionMoveForward,
				Message: "Target rock at move forward",
				Target:  "rock",
			},
		}
	}
	return res, nil
}

func (m *MockClient) Health(ctx context.Context) error { return m.HealthErr }

// Calls returns how many Detect calls were made.
func (m *MockClient) Calls() int64 { return m.calls.Load() }
