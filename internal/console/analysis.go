package console

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/analysis"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/console/model"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/datastore"
)

const maxUploadBytes = 16 << 20

// PostAnalysisImage handles POST /v1/analysis/image. A multipart upload in
// field "image" is analysed as is; a JSON body names a stored sample or asks
// for the live frame.
func (h *Handlers) PostAnalysisImage(w http.ResponseWriter, r *http.Request) {
	sess := h.operator(w, r)

	var err error
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		var data []byte
		var name string
		if data, name, err = readUpload(w, r); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		err = sess.SetImage(data, name)
	} else {
		var req model.ImageRequest
		if !decode(w, r, &req) {
			return
		}
		switch {
		case req.Sample != "":
			err = sess.UseSample(r.Context(), req.Sample)
		case req.CurrentFrame:
			err = sess.UseCurrentFrame(r.Context())
		default:
			writeError(w, http.StatusBadRequest, "sample or currentFrame is required")
			return
		}
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

var errBadUpload = errors.New(`multipart field "image" is required`)

func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", errBadUpload
	}
	file, hdr, err := r.FormFile("image")
	if err != nil {
		return nil, "", errBadUpload
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		return nil, "", errBadUpload
	}
	return data, hdr.Filename, nil
}

// PostAnalysisModel handles POST /v1/analysis/model. The load runs before
// the response; a failed load keeps retrying in the background and the
// returned state says so.
func (h *Handlers) PostAnalysisModel(w http.ResponseWriter, r *http.Request) {
	sess := h.operator(w, r)
	var req model.ModelRequest
	if !decode(w, r, &req) {
		return
	}
	if err := sess.SelectModel(r.Context(), req.Model); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

// GetAnalysisModels handles GET /v1/analysis/models.
func (h *Handlers) GetAnalysisModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"models": h.Station.Workflow.Models()})
}

// GetAnalysisSession handles GET /v1/analysis/session. It never opens a
// session.
func (h *Handlers) GetAnalysisSession(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(OperatorHeader)
	sess, ok := h.Station.Workflow.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no analysis session")
		return
	}
	w.Header().Set(OperatorHeader, id)
	writeJSON(w, http.StatusOK, sess.State())
}

// PostAnalysisRun handles POST /v1/analysis/run.
func (h *Handlers) PostAnalysisRun(w http.ResponseWriter, r *http.Request) {
	sess := h.operator(w, r)
	out, err := sess.Analyze(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// PostAnalysisSave handles POST /v1/analysis/save.
func (h *Handlers) PostAnalysisSave(w http.ResponseWriter, r *http.Request) {
	sess := h.operator(w, r)
	var req analysis.SaveRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := sess.SaveAnalysis(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sample(r, rec))
}

// GetSamples handles GET /v1/samples.
func (h *Handlers) GetSamples(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Station.Workflow.Samples(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]model.Sample, 0, len(recs))
	for _, rec := range recs {
		out = append(out, h.sample(r, rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": out})
}

// PostSampleCapture handles POST /v1/samples/capture.
func (h *Handlers) PostSampleCapture(w http.ResponseWriter, r *http.Request) {
	var req model.CaptureRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.Station.Workflow.CaptureSample(r.Context(), req.Label, req.Depth)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.sample(r, rec))
}

// sample resolves the image reference; a resolution failure leaves the URL
// empty rather than failing the listing.
func (h *Handlers) sample(r *http.Request, rec datastore.SampleRecord) model.Sample {
	s := model.Sample{SampleRecord: rec, Key: rec.Key, Analyzed: rec.Analyzed()}
	if h.Store != nil && rec.Image != "" {
		url, err := h.Store.ImageURL(r.Context(), rec.Image)
		if err != nil {
			h.Logger.Debug("resolve image url", zap.String("sample", rec.Key), zap.Error(err))
		}
		s.ImageURL = url
	}
	return s
}
