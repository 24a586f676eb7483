// Package console is the operator HTTP API: stream control, rover commands,
// detection, analysis, samples and viewer endpoints.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/analysis"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/camera"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/clock"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/datastore"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/detection"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/gateway"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/rover"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/view"
)

// OperatorHeader keys an operator's analysis session. A uuid is issued on
// first use and echoed on every response.
const OperatorHeader = "X-Operator-Session"

// Handlers holds dependencies for HTTP handlers. Nil optional parts make
// their endpoints answer 503.
type Handlers struct {
	Station     *Station
	Poller      *detection.Poller
	StatsWindow time.Duration
	Hub         *view.Hub
	Gateway     *gateway.Gateway
	Store       datastore.Store
	// CommandConnected reports the rover command socket state.
	CommandConnected func() bool
	Clock            clock.Clock
	Logger           *zap.Logger

	mjpegViewers atomic.Int64
}

func NewHandlers(station *Station, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		Station:     station,
		StatsWindow: 30 * time.Second,
		Clock:       clock.Real(),
		Logger:      logger,
	}
}

// operator returns the caller's analysis session, issuing an id when the
// request carries none or a malformed one.
func (h *Handlers) operator(w http.ResponseWriter, r *http.Request) *analysis.Session {
	id := r.Header.Get(OperatorHeader)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	w.Header().Set(OperatorHeader, id)
	return h.Station.Workflow.Session(id)
}

// CloseOperator handles DELETE /v1/analysis/session.
func (h *Handlers) CloseOperator(w http.ResponseWriter, r *http.Request) {
	if id := r.Header.Get(OperatorHeader); id != "" {
		h.Station.Workflow.CloseSession(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// fail maps a domain error onto a status code and writes it.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.Logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidSource),
		errors.Is(err, camera.ErrInvalidControl),
		errors.Is(err, rover.ErrInvalidDirection),
		errors.Is(err, rover.ErrEmptyLog),
		errors.Is(err, analysis.ErrIncomplete),
		errors.Is(err, analysis.ErrUnknownModel):
		return http.StatusBadRequest
	case errors.Is(err, rover.ErrUnknownAction),
		errors.Is(err, datastore.ErrNotFound),
		errors.Is(err, stream.ErrNoFrame):
		return http.StatusNotFound
	case errors.Is(err, datastore.ErrAlreadyAnalyzed),
		errors.Is(err, analysis.ErrModelNotReady),
		errors.Is(err, analysis.ErrNoImage):
		return http.StatusConflict
	case errors.Is(err, camera.ErrNotConnected),
		errors.Is(err, stream.ErrNoSource):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
