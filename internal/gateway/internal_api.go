package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type createSessionResponse struct {
	SessionID  string      `json:"sessionId"`
	SDPOffer   string      `json:"sdpOffer"`
	ICEServers []iceServer `json:"iceServers"`
}

type iceServer struct {
	URLs []string `json:"urls"`
}

type answerRequest struct {
	SDPAnswer string `json:"sdpAnswer"`
}

// Handler returns the viewer session API, to be mounted at /v1/sessions:
//
//	POST   /                       create a session, returns the SDP offer
//	DELETE /{sessionId}            tear a session down
//	POST   /{sessionId}/webrtc/answer
func (gw *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/", gw.handleCreateSession)
	r.Delete("/{sessionId}", gw.handleDeleteSession)
	r.Post("/{sessionId}/webrtc/answer", gw.handleSetAnswer)
	return r
}

func (gw *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := uuid.New().String()

	sdpOffer, err := gw.CreateSession(sessionID)
	if errors.Is(err, ErrCapacity) {
		writeError(w, http.StatusServiceUnavailable, "max viewers reached")
		return
	}
	if err != nil {
		gw.logger.Error("create session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create session failed")
		return
	}

	iceServers := make([]iceServer, 0, 1)
	if len(gw.cfg.STUNServers) > 0 {
		iceServers = append(iceServers, iceServer{URLs: gw.cfg.STUNServers})
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:  sessionID,
		SDPOffer:   sdpOffer,
		ICEServers: iceServers,
	})
}

func (gw *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	gw.DeleteSession(chi.URLParam(r, "sessionId"))
	w.WriteHeader(http.StatusNoContent)
}

func (gw *Gateway) handleSetAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SDPAnswer == "" {
		writeError(w, http.StatusBadRequest, "invalid request: sdpAnswer required")
		return
	}

	if err := gw.SetAnswer(chi.URLParam(r, "sessionId"), req.SDPAnswer); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		gw.logger.Error("set answer failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, "set answer failed")
		return
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
