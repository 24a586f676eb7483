package console

import "net/http"

// Health handles GET /healthz. It reports liveness only; the stream state is
// on /v1/stream/status.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"stream": h.Station.Manager.State().String(),
	})
}
