package console

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/middleware"
)

type RouterOptions struct {
	AllowedOrigins []string
	// APIKey guards /v1 when set.
	APIKey string
	Logger *zap.Logger
}

// NewRouter wires every console route. /healthz and /metrics stay open.
func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(opts.Logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", OperatorHeader, middleware.RequestIDHeader},
		ExposedHeaders:   []string{OperatorHeader, middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(opts.APIKey))

		r.Route("/stream", func(r chi.Router) {
			r.Get("/status", h.GetStreamStatus)
			r.Post("/start", h.PostStreamStart)
			r.Post("/stop", h.PostStreamStop)
			r.Get("/frame", h.GetFrame)
			r.Get("/mjpeg", h.GetMJPEG)
			r.Get("/ws", h.GetWebSocket)
		})

		r.Post("/camera/control", h.PostCameraControl)

		r.Route("/rover", func(r chi.Router) {
			r.Post("/command", h.PostRoverCommand)
			r.Get("/mission", h.GetMission)
			r.Post("/mission/{action}", h.PostMissionAction)
			r.Get("/log", h.GetMissionLog)
			r.Post("/log", h.PostMissionLog)
		})

		r.Route("/detection", func(r chi.Router) {
			r.Post("/start", h.PostDetectionStart)
			r.Post("/stop", h.PostDetectionStop)
			r.Get("/stats", h.GetDetectionStats)
		})

		r.Route("/analysis", func(r chi.Router) {
			r.Get("/models", h.GetAnalysisModels)
			r.Get("/session", h.GetAnalysisSession)
			r.Delete("/session", h.CloseOperator)
			r.Post("/image", h.PostAnalysisImage)
			r.Post("/model", h.PostAnalysisModel)
			r.Post("/run", h.PostAnalysisRun)
			r.Post("/save", h.PostAnalysisSave)
		})

		r.Get("/samples", h.GetSamples)
		r.Post("/samples/capture", h.PostSampleCapture)

		if h.Gateway != nil {
			r.Mount("/sessions", h.Gateway.Handler())
		}
	})

	return r
}
