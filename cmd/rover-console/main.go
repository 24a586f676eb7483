package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/analysis"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/camera"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/classifier"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/clock"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/config"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/console"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/datastore"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/detection"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/emitter"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/gateway"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/metrics"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/rover"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/view"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/vision"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	logger, _ := zap.NewProduction()
	if cfg.Server.LogDevelopment {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	logger.Info("rover-console starting",
		zap.String("listen", cfg.Server.ListenAddr),
		zap.Bool("proxy", cfg.Camera.UseProxy),
		zap.String("transport", cfg.Camera.Transport),
		zap.String("detection", cfg.Detection.BaseURL),
		zap.Bool("firebase", cfg.DataStore.DatabaseURL != ""),
		zap.String("mqtt", cfg.MQTT.Broker),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.Real()

	// The station is filled in below; the gateway only needs its address.
	station := &console.Station{Logger: logger}

	hub := view.NewHub(logger, clk)
	gw, err := gateway.New(gateway.Config{
		STUNServers: cfg.WebRTC.STUNServers,
		MaxViewers:  cfg.WebRTC.MaxViewers,
	}, station, logger)
	if err != nil {
		logger.Fatal("failed to create gateway", zap.Error(err))
	}
	display := view.Multi{view.Log{Logger: logger}, hub, gw}

	var em *emitter.MQTTEmitter
	if cfg.MQTT.Broker != "" {
		em, err = emitter.Connect(ctx, emitter.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			Logger:      logger,
		})
		if err != nil {
			logger.Warn("mqtt disabled", zap.Error(err))
			em = nil
		}
	}

	// Camera stream
	backoff := stream.Backoff{Base: cfg.Stream.RetryBase, Max: cfg.Stream.RetryMaxDelay}
	mgr := stream.NewManager(stream.Options{
		Backoff:       backoff,
		MaxRetries:    cfg.Stream.MaxRetries,
		ProbeInterval: cfg.Stream.ProbeInterval,
		Clock:         clk,
		Logger:        logger,
		Display:       display,
	})
	mgr.OnConnectionChange(func(s stream.State) {
		metrics.StreamState.Set(float64(s))
		display.SetState(s)
		if em != nil {
			if err := em.PublishState(s, mgr.Source()); err != nil {
				logger.Debug("publish stream state", zap.Error(err))
			}
		}
	})
	mgr.OnTerminal(func(err error) {
		logger.Error("camera stream gave up", zap.Error(err))
	})

	ep, err := camera.NewEndpoints(cfg.Camera.UseProxy, cfg.Camera.ESP32Address, cfg.Camera.ProxyBase)
	if err != nil {
		logger.Fatal("invalid camera address", zap.Error(err))
	}
	camClient := camera.NewClient(ep, &http.Client{})

	// Rover command link and mission
	var mission *rover.Mission
	cmdCh := camera.NewCommandChannel(camera.CommandOptions{
		URL:           ep.CommandWS,
		Probe:         camClient.Status,
		Backoff:       backoff,
		MaxRetries:    cfg.Stream.MaxRetries,
		ProbeInterval: cfg.Stream.ProbeInterval,
		Heartbeat:     cfg.Rover.HeartbeatInterval,
		Clock:         clk,
		Logger:        logger,
		OnUpdate:      func(u camera.MissionUpdate) { mission.HandleUpdate(u) },
		OnState: func(connected bool) {
			if connected {
				display.SetStatus("Rover command link connected")
			} else {
				display.SetStatus("Rover command link lost")
			}
		},
	})
	missionOpts := []rover.Option{rover.WithClock(clk)}
	if cfg.Rover.LogBackupPath != "" {
		missionOpts = append(missionOpts, rover.WithBackup(rover.FileBackup{Path: cfg.Rover.LogBackupPath}))
	}
	mission = rover.NewMission(cmdCh, logger, display.SetStatus, func(st rover.State) {
		if em != nil {
			if err := em.PublishMission(st); err != nil {
				logger.Debug("publish mission", zap.Error(err))
			}
		}
	}, missionOpts...)
	navigator := rover.NewNavigator(mission, clk, cfg.Rover.ForwardPulse, cfg.Rover.TurnPulse)
	go cmdCh.Run(ctx)

	// Detection
	var det detection.Detector
	if cfg.Detection.Mock {
		logger.Warn("using mock detection backend")
		det = &detection.MockClient{DetectDelay: 100 * time.Millisecond}
	} else {
		det = detection.NewClient(cfg.Detection.BaseURL, cfg.Detection.PredictPath, cfg.Detection.HealthPath, cfg.Detection.Timeout)
	}
	poller := detection.NewPoller(detection.PollerOptions{
		Detector: det,
		Frames:   mgr,
		Interval: cfg.Detection.PollInterval,
		TopK:     cfg.Detection.TopK,
		History:  detection.NewHistory(cfg.Detection.HistorySize),
		Clock:    clk,
		Logger:   logger,
		OnResult: func(res vision.Result) {
			now := clk.Now()
			display.RenderResults(view.Results{
				Kind:       view.KindDetection,
				Objects:    res.Objects,
				Navigation: res.Navigation,
				At:         now,
			})
			if em != nil {
				if err := em.PublishDetection(res, now); err != nil {
					logger.Debug("publish detection", zap.Error(err))
				}
			}
			navigator.Apply(res.Navigation)
		},
		OnStatus: display.SetStatus,
	})
	go detection.MonitorHealth(ctx, det, clk, 5*time.Second, 30*time.Second, logger, display.SetStatus)

	// Sample storage
	var store datastore.Store
	if cfg.DataStore.DatabaseURL != "" {
		fb, err := datastore.NewFirebase(datastore.FirebaseOptions{
			APIKey:        cfg.DataStore.APIKey,
			DatabaseURL:   cfg.DataStore.DatabaseURL,
			StorageBucket: cfg.DataStore.StorageBucket,
			Email:         cfg.DataStore.Email,
			Password:      cfg.DataStore.Password,
			SamplesPath:   cfg.DataStore.SamplesPath,
			DatasetPath:   cfg.DataStore.DatasetPath,
			HTTPClient:    &http.Client{Timeout: 30 * time.Second},
			Clock:         clk,
			Logger:        logger,
		})
		if err != nil {
			logger.Fatal("failed to create firebase store", zap.Error(err))
		}
		store = fb
	} else {
		logger.Warn("no database configured, samples are kept in memory")
		store = datastore.NewMemory()
	}

	// Analysis
	loader := classifier.NewLoader(cfg.Classifier.Models, cfg.Classifier.PredictURL, &http.Client{Timeout: 30 * time.Second})
	models := make([]string, 0, len(cfg.Classifier.Models))
	for name := range cfg.Classifier.Models {
		models = append(models, name)
	}
	sort.Strings(models)
	wf := analysis.New(analysis.Options{
		Detector: det,
		LoadClassifier: func(ctx context.Context, name string) (analysis.Classifier, error) {
			m, err := loader.Load(ctx, name)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
		Models:         models,
		Store:          store,
		Frames:         mgr,
		View:           display,
		Clock:          clk,
		Logger:         logger,
		ModelRetry:     cfg.Analysis.ModelRetry,
		TransientClear: cfg.Analysis.TransientClear,
		PanelClear:     cfg.Analysis.PanelClear,
		DetectorTopK:   cfg.Detection.TopK,
		ClassifierTopK: cfg.Classifier.TopK,
		ImagePrefix:    cfg.DataStore.ImagePrefix,
		CameraSource:   func() string { return mgr.Source().String() },
	})

	station.Manager = mgr
	station.Sources = console.CameraSources{
		Client:       camClient,
		Transport:    camera.Transport(cfg.Camera.Transport),
		PollInterval: cfg.Camera.PollInterval,
		LocalDevice:  cfg.Camera.LocalDevice,
		FFmpegPath:   cfg.Camera.FFmpegPath,
		ExternalURL:  cfg.Camera.ExternalURL,
		HTTPClient:   &http.Client{},
		Logger:       logger,
	}
	station.Camera = camClient
	station.Mission = mission
	station.Navigator = navigator
	station.Workflow = wf

	if err := station.StartStream(cfg.Camera.DefaultSource, cfg.Camera.ExternalURL); err != nil {
		logger.Warn("default stream source not started", zap.String("source", cfg.Camera.DefaultSource), zap.Error(err))
	}

	h := console.NewHandlers(station, logger)
	h.Poller = poller
	h.StatsWindow = cfg.Detection.HistoryWindow
	h.Hub = hub
	h.Gateway = gw
	h.Store = store
	h.CommandConnected = cmdCh.Connected
	h.Clock = clk

	// No write timeout: MJPEG and WebSocket responses stay open.
	srv := &http.Server{
		Addr: cfg.Server.ListenAddr,
		Handler: console.NewRouter(h, console.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			APIKey:         cfg.Server.APIKey,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	go func() {
		logger.Info("console API listening", zap.String("addr", cfg.Server.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("console API failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	hub.Close()
	gw.Shutdown()
	srv.Shutdown(shutdownCtx)

	poller.Stop()
	navigator.Halt()
	wf.Close()
	mgr.Stop()
	cancel()
	if em != nil {
		em.Close()
	}
}
