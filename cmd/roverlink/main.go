package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roverlink/internal/core/domain"
	"roverlink/internal/core/ports"
	"roverlink/internal/infrastructure/camera"
	"roverlink/internal/infrastructure/control"
	"roverlink/internal/infrastructure/media"
	"roverlink/internal/infrastructure/middleware"
	"roverlink/internal/infrastructure/monitoring"
	"roverlink/internal/infrastructure/overlay"
	"roverlink/pkg/config"
	"roverlink/pkg/logger"
	"roverlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/roverlink/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	// Tracing (no-op provider when disabled)
	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Monitoring
	var collector *monitoring.Collector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewCollector(nil)
	} else {
		collector = monitoring.NewCollector(noopRegisterer{})
	}
	tput := monitoring.NewThroughput(cfg.Monitoring.ThroughputInterval, log, collector)
	stopTput := make(chan struct{})
	go tput.Run(stopTput)

	// Control channel
	ctrl := control.NewServer(control.Config{
		Port:              cfg.Control.Port,
		MaxClients:        cfg.Control.MaxClients,
		PollInterval:      cfg.Control.PollInterval,
		KeepAliveIdle:     cfg.Control.KeepAliveIdle,
		KeepAliveInterval: cfg.Control.KeepAliveInterval,
		KeepAliveCount:    cfg.Control.KeepAliveCount,
	}, log, tput, collector)

	controlRunning := false
	if err := ctrl.Start(); err != nil {
		if errors.Is(err, domain.ErrChannelDisabled) {
			log.Info("control channel disabled")
		} else {
			log.Errorw("control channel failed to start, continuing without it", "error", err)
		}
	} else {
		controlRunning = true
	}

	// Media + overlay channels share one HTTP server
	var srv *http.Server
	serverErr := make(chan error, 1)
	stopDemo := make(chan struct{})

	if cfg.Media.Port > 0 {
		src, err := newFrameSource(cfg, log)
		if err != nil {
			log.Fatalw("failed to create frame source", "error", err)
		}

		if cfg.Logging.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		router := gin.New()
		router.Use(middleware.RecoveryMiddleware(log))
		router.Use(middleware.TracingMiddleware())

		mediaServer := media.NewServer(media.Config{
			Boundary:      cfg.Media.Boundary,
			FrameInterval: cfg.Media.FrameInterval,
		}, log, src, tput, collector)
		mediaServer.RegisterRoutes(router,
			middleware.ConcurrentSessions(cfg.Media.MaxSessions, "media", collector, log))

		if cfg.Monitoring.PrometheusEnabled {
			router.GET("/metrics", gin.WrapH(promhttp.Handler()))
			log.Info("prometheus metrics enabled")
		}

		if cfg.Overlay.Enabled {
			hub := overlay.NewHub(overlay.Config{
				Enabled:      true,
				MaxClients:   cfg.Overlay.MaxClients,
				WriteTimeout: cfg.Overlay.WriteTimeout,
			}, log, tput, collector)
			router.GET("/ws", hub.HandleWebSocket)

			if cfg.Overlay.DemoInterval > 0 {
				go runDemoOverlay(hub, cfg.Overlay.DemoInterval, stopDemo, log)
			}
		}

		// WriteTimeout stays zero: MJPEG sessions hold the response open
		// for their whole lifetime.
		srv = &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Media.Port),
			Handler:     router,
			ReadTimeout: cfg.Media.ReadTimeout,
		}

		go func() {
			log.Infow("media channel listening", "port", cfg.Media.Port, "source", cfg.Media.Source)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()
	} else {
		log.Info("media channel disabled")
	}

	log.Infow("roverlink gateway started",
		"control_port", cfg.Control.Port,
		"media_port", cfg.Media.Port,
		"overlay_enabled", cfg.Overlay.Enabled,
		"startup", time.Since(startTime).String(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("media server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down roverlink gateway")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	close(stopDemo)

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error during media server shutdown", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Errorw("error force closing media server", "error", closeErr)
			}
		}
	}

	if controlRunning {
		ctrl.Stop()
	}
	close(stopTput)

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}

	rx, tx := tput.Totals()
	log.Infow("roverlink gateway stopped", "rx_total", rx, "tx_total", tx)
}

// newFrameSource builds the configured frame source for the media channel.
func newFrameSource(cfg *config.Config, log *zap.SugaredLogger) (ports.FrameSource, error) {
	switch cfg.Media.Source {
	case "files":
		return camera.NewFileSource(cfg.Media.FrameDir, log)
	default:
		return camera.NewPatternSource(cfg.Media.Width, cfg.Media.Height, cfg.Media.Quality, log), nil
	}
}

// runDemoOverlay periodically pushes the sample overlay so viewers have
// something to render before real telemetry producers exist.
func runDemoOverlay(hub *overlay.Hub, interval time.Duration, stop <-chan struct{}, log *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if hub.ClientCount() == 0 {
				continue
			}
			if sent, err := hub.Broadcast(domain.SampleOverlay()); err != nil {
				log.Warnw("demo overlay broadcast failed", "error", err)
			} else {
				log.Debugw("demo overlay sent", "clients", sent)
			}
		case <-stop:
			return
		}
	}
}

// noopRegisterer swallows metric registration when Prometheus is disabled.
type noopRegisterer struct{}

func (noopRegisterer) Register(prometheus.Collector) error  { return nil }
func (noopRegisterer) MustRegister(...prometheus.Collector) {}
func (noopRegisterer) Unregister(prometheus.Collector) bool { return true }
