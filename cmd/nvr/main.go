// Command nvr runs the RTSP ingest and recording server: it loads the
// camera configuration, starts one ingest/recording pipeline per enabled
// camera, and serves the HTTP retrieval/export boundary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vigil-nvr/vigil/internal/api"
	"github.com/vigil-nvr/vigil/internal/camera"
	"github.com/vigil-nvr/vigil/internal/config"
	"github.com/vigil-nvr/vigil/internal/core"
	"github.com/vigil-nvr/vigil/internal/export"
	"github.com/vigil-nvr/vigil/internal/logging"
	"github.com/vigil-nvr/vigil/internal/telemetry"
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "/config/config.yaml"), "path to config.yaml")
	addr := flag.String("addr", getEnv("ADDR", "0.0.0.0:8080"), "HTTP listen address")
	flag.Parse()

	logBuffer := logging.NewRingBuffer(1000)
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(logging.NewStreamHandler(logBuffer, os.Stdout, logLevel))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.Watch(); err != nil {
		slog.Warn("config hot-reload disabled", "error", err)
	}

	var telPublisher *telemetry.Publisher
	if cfg.System.Telemetry.Enabled {
		bus, err := startTelemetryBus(cfg)
		if err != nil {
			slog.Error("failed to start telemetry bus", "error", err)
			os.Exit(1)
		}
		defer bus.Stop()
		telPublisher = telemetry.New(bus, 10*time.Second)
		go telPublisher.Run(ctx)
	}

	exportMgr := export.New(cfg.Storage.ExportPath, cfg.Storage.MaxJobs)
	go exportMgr.Run(ctx)

	registry := camera.NewRegistry(cfg.Storage.DatabasePath, cfg.Storage.DatabasePath, telPublisher, exportMgr)
	for _, cam := range cfg.ListCameras() {
		if !cam.Enabled {
			continue
		}
		if err := registry.Add(ctx, cfg, cam); err != nil {
			slog.Error("failed to start camera", "camera_id", cam.ID, "error", err)
			continue
		}
		slog.Info("camera started", "camera_id", cam.ID)
	}

	cfg.OnChange(func(next *config.Config) {
		reconcileCameras(ctx, registry, next)
	})

	router := buildRouter(registry, exportMgr, logBuffer)

	server := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // long-lived HLS/export downloads and the live websocket
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "address", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	for _, id := range registry.List() {
		if err := registry.Remove(id); err != nil {
			slog.Warn("failed to stop camera cleanly", "camera_id", id, "error", err)
		}
	}

	slog.Info("server stopped")
}

// startTelemetryBus brings up the embedded NATS server telemetry publishes
// throughput counters onto.
func startTelemetryBus(cfg *config.Config) (*core.EventBus, error) {
	busCfg := core.DefaultEventBusConfig()
	if cfg.System.Telemetry.Port != 0 {
		busCfg.Port = cfg.System.Telemetry.Port
	}
	return core.NewEventBus(busCfg, slog.Default())
}

// reconcileCameras adds newly-enabled cameras and removes newly-disabled or
// deleted ones after a config hot-reload. It never restarts an already
// registered camera: its retention sweeper and retrieval engine re-read the
// camera's overrides via cfg.Pipeline on each sweep and each playlist
// request, while its pipeline and recording manager keep the values
// resolved when the camera was added.
func reconcileCameras(ctx context.Context, registry *camera.Registry, next *config.Config) {
	want := make(map[string]config.CameraConfig)
	for _, cam := range next.ListCameras() {
		if cam.Enabled {
			want[cam.ID] = cam
		}
	}

	for _, id := range registry.List() {
		if _, ok := want[id]; !ok {
			if err := registry.Remove(id); err != nil {
				slog.Warn("failed to remove camera on reload", "camera_id", id, "error", err)
			}
			continue
		}
		delete(want, id)
	}

	for id, cam := range want {
		if err := registry.Add(ctx, next, cam); err != nil {
			slog.Error("failed to start camera on reload", "camera_id", id, "error", err)
		}
	}
}

func buildRouter(registry *camera.Registry, exportMgr *export.Manager, logBuffer *logging.RingBuffer) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Auth/TLS/CORS policy is an out-of-scope collaborator (spec §1); this
	// wires a permissive default only so the router is runnable standalone.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	recordingHandler := api.NewRecordingHandler(registry, exportMgr)
	r.Mount("/api/v1", recordingHandler.Routes())

	liveHandler := api.NewLiveHandler(registry)
	r.Get("/ws/live", liveHandler.ServeHTTP)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/logs/stream", handleLogStream(logBuffer))

	return r
}

// handleLogStream serves recent and live log entries over Server-Sent
// Events, grounded on the teacher's log streaming endpoint.
func handleLogStream(logBuffer *logging.RingBuffer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		for _, entry := range logBuffer.GetRecent(50) {
			_, _ = w.Write([]byte("data: " + logging.LogEntryToJSON(entry) + "\n\n"))
		}
		flusher.Flush()

		logCh := logBuffer.Subscribe()
		defer logBuffer.Unsubscribe(logCh)

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case entry := <-logCh:
				_, _ = w.Write([]byte("data: " + logging.LogEntryToJSON(entry) + "\n\n"))
				flusher.Flush()
			case <-ticker.C:
				_, _ = w.Write([]byte(": heartbeat\n\n"))
				flusher.Flush()
			}
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
