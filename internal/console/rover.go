package console

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/console/model"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/rover"
)

// PostCameraControl handles POST /v1/camera/control.
func (h *Handlers) PostCameraControl(w http.ResponseWriter, r *http.Request) {
	var req model.ControlRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Var == "" || req.Val == nil {
		writeError(w, http.StatusBadRequest, "var and val are required")
		return
	}
	if err := h.Station.SetControl(r.Context(), req.Var, *req.Val); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostRoverCommand handles POST /v1/rover/command. "move" is validated like
// a viewer move; anything else is passed through.
func (h *Handlers) PostRoverCommand(w http.ResponseWriter, r *http.Request) {
	var req model.RoverCommandRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	var err error
	if req.Command == "move" {
		err = h.Station.Move(fmt.Sprint(req.Value))
	} else {
		err = h.Station.Mission.Send(req.Command, req.Value)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostMissionAction handles POST /v1/rover/mission/{action}. Abort and
// emergency stop change local state even when the rover is unreachable, so
// the state is returned alongside any error.
func (h *Handlers) PostMissionAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	err := h.Station.Mission.Do(action)
	if action == rover.ActionAbort || action == rover.ActionEmergencyStop {
		if h.Station.Navigator != nil {
			h.Station.Navigator.Halt()
		}
	}
	if err != nil {
		status := statusFor(err)
		writeJSON(w, status, map[string]any{
			"error":   err.Error(),
			"mission": h.Station.Mission.State(),
		})
		return
	}
	writeJSON(w, http.StatusOK, h.Station.Mission.State())
}

// PostMissionLog handles POST /v1/rover/log.
func (h *Handlers) PostMissionLog(w http.ResponseWriter, r *http.Request) {
	var req model.MissionLogRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.Station.Mission.AddLog(req.Text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// GetMissionLog handles GET /v1/rover/log.
func (h *Handlers) GetMissionLog(w http.ResponseWriter, r *http.Request) {
	entries := h.Station.Mission.Log()
	if entries == nil {
		entries = []rover.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string][]rover.LogEntry{"entries": entries})
}

// GetMission handles GET /v1/rover/mission.
func (h *Handlers) GetMission(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Station.Mission.State())
}

// PostDetectionStart handles POST /v1/detection/start.
func (h *Handlers) PostDetectionStart(w http.ResponseWriter, r *http.Request) {
	if h.Poller == nil {
		writeError(w, http.StatusServiceUnavailable, "detection not configured")
		return
	}
	h.Poller.Start()
	writeJSON(w, http.StatusOK, model.DetectionStatusResponse{Running: h.Poller.Running()})
}

// PostDetectionStop handles POST /v1/detection/stop.
func (h *Handlers) PostDetectionStop(w http.ResponseWriter, r *http.Request) {
	if h.Poller == nil {
		writeError(w, http.StatusServiceUnavailable, "detection not configured")
		return
	}
	h.Poller.Stop()
	writeJSON(w, http.StatusOK, model.DetectionStatusResponse{Running: h.Poller.Running()})
}

// GetDetectionStats handles GET /v1/detection/stats.
func (h *Handlers) GetDetectionStats(w http.ResponseWriter, r *http.Request) {
	if h.Poller == nil {
		writeError(w, http.StatusServiceUnavailable, "detection not configured")
		return
	}
	writeJSON(w, http.StatusOK, h.Poller.History().Stats(h.Clock.Now(), h.StatsWindow))
}
