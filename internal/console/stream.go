package console

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/camera"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/console/model"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/metrics"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/view"
)

// GetStreamStatus handles GET /v1/stream/status.
func (h *Handlers) GetStreamStatus(w http.ResponseWriter, r *http.Request) {
	resp := model.StreamStatusResponse{
		Status:  h.Station.Manager.Status(),
		Viewers: map[string]int{"mjpeg": int(h.mjpegViewers.Load())},
	}
	if h.CommandConnected != nil {
		resp.CommandChannel = h.CommandConnected()
	}
	if h.Hub != nil {
		resp.Viewers["websocket"] = h.Hub.Viewers()
	}
	if h.Gateway != nil {
		resp.Viewers["webrtc"] = h.Gateway.SessionCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostStreamStart handles POST /v1/stream/start.
func (h *Handlers) PostStreamStart(w http.ResponseWriter, r *http.Request) {
	var req model.StreamStartRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	if err := h.Station.StartStream(req.Source, req.URL); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.Station.Manager.Status())
}

// PostStreamStop handles POST /v1/stream/stop.
func (h *Handlers) PostStreamStop(w http.ResponseWriter, r *http.Request) {
	h.Station.StopStream()
	w.WriteHeader(http.StatusNoContent)
}

// GetFrame handles GET /v1/stream/frame.
func (h *Handlers) GetFrame(w http.ResponseWriter, r *http.Request) {
	frame, err := h.Station.Manager.CurrentFrame(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(frame)
}

// GetMJPEG handles GET /v1/stream/mjpeg. The client is a frame sink for as
// long as the request lasts; a slow client skips frames.
func (h *Handlers) GetMJPEG(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sink := view.NewFrameChan(2)
	h.Station.Manager.AddSink(sink)
	defer h.Station.Manager.RemoveSink(sink)

	h.mjpegViewers.Add(1)
	metrics.ActiveViewers.WithLabelValues("mjpeg").Inc()
	defer func() {
		h.mjpegViewers.Add(-1)
		metrics.ActiveViewers.WithLabelValues("mjpeg").Dec()
	}()

	mw := camera.NewMJPEGWriter(w, "")
	w.Header().Set("Content-Type", mw.ContentType())
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-sink.C:
			if err := mw.WriteFrame(frame); err != nil {
				h.Logger.Debug("mjpeg client gone", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// GetWebSocket handles GET /v1/stream/ws.
func (h *Handlers) GetWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "websocket viewers disabled")
		return
	}
	h.Hub.ServeHTTP(w, r)
}
