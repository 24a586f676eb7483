package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	StreamState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rover_console_stream_state",
		Help: "Camera stream state (0=disconnected, 1=connecting, 2=connected)",
	})
	ActiveViewers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rover_console_active_viewers",
		Help: "Number of attached viewers by transport",
	}, []string{"transport"})
	CommandChannelConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rover_console_command_channel_connected",
		Help: "1 while the rover command WebSocket is open",
	})
)

// Counters
var (
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rover_console_frames_total",
		Help: "Frames received from the active source",
	}, []string{"source"})
	ReconnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rover_console_reconnect_attempts_total",
		Help: "Connection attempts started by channel",
	}, []string{"channel"})
	TerminalFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rover_console_terminal_failures_total",
		Help: "Channels that gave up retrying, by reason",
	}, []string{"reason"})
	ProbeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rover_console_probe_failures_total",
		Help: "Liveness probes that failed",
	})
	DetectionRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rover_console_detection_requests_total",
		Help: "Detection backend requests by outcome",
	}, []string{"outcome"})
	SamplesSavedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rover_console_samples_saved_total",
		Help: "Sample records written by kind",
	}, []string{"kind"})
	MQTTPublishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rover_console_mqtt_publish_errors_total",
		Help: "MQTT publishes that failed or timed out",
	})
	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rover_console_viewer_sessions_created_total",
		Help: "WebRTC viewer sessions created",
	})
	SessionsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rover_console_viewer_sessions_rejected_total",
		Help: "WebRTC viewer sessions rejected due to capacity limit",
	})
	FramesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rover_console_frames_dropped_total",
		Help: "Frames not delivered to a viewer, by reason",
	}, []string{"reason"})
)

// Histograms
var (
	DetectionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rover_console_detection_duration_ms",
		Help:    "Detection backend round trip in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000},
	})
	AnalysisLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rover_console_analysis_duration_ms",
		Help:    "Analysis duration in milliseconds by route",
		Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000},
	}, []string{"route"})
)
