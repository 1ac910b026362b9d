// Command gnssreceiver is a thin example host: it loads a config file,
// opens a capture-file front end, and runs the acquisition/tracking/nav
// pipeline until interrupted. It is a wiring example, not a CLI surface
// (flags select the config and capture file, real-time replay pacing,
// and a log-level override).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bramburn/gnssreceiver/internal/config"
	"github.com/bramburn/gnssreceiver/internal/frontend"
	"github.com/bramburn/gnssreceiver/internal/metrics"
	"github.com/bramburn/gnssreceiver/internal/receiver"
	"github.com/bramburn/gnssreceiver/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "gnssreceiver.yaml", "path to the YAML configuration file")
	capturePath := flag.String("capture", "", "path to a raw interleaved I/Q capture file to replay")
	realtime := flag.Bool("realtime", false, "pace capture replay at the configured sample rate instead of reading as fast as possible")
	logLevel := flag.String("log-level", "", "override logging.level from the config file (debug, info, warn, error)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(*configPath, *capturePath, *realtime, *logLevel, logger); err != nil {
		logger.Fatalf("gnssreceiver: %v", err)
	}
}

func run(configPath, capturePath string, realtime bool, logLevelOverride string, logger *logrus.Logger) error {
	if capturePath == "" {
		return fmt.Errorf("a -capture file is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := logrus.ParseLevel(levelOrDefault(logLevelOverride, cfg.Logging.Level))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	hub := telemetry.NewHub(logger)
	m := metrics.New(prometheus.DefaultRegisterer)

	src := frontend.NewFileSource(capturePath, frontendBlockSizeBytes(cfg), realtime, blockIntervalFor(cfg), logger)

	recv, err := receiver.New(cfg, src, hub, m, logger)
	if err != nil {
		return fmt.Errorf("build receiver: %w", err)
	}

	var servers []*http.Server
	if cfg.Telemetry.ListenAddr != "" {
		servers = append(servers, startHTTPServer(cfg.Telemetry.ListenAddr, http.HandlerFunc(hub.ServeWS), logger, "telemetry"))
	}
	if cfg.Metrics.ListenAddr != "" {
		servers = append(servers, startHTTPServer(cfg.Metrics.ListenAddr, metrics.Handler(), logger, "metrics"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := recv.Start(ctx); err != nil {
		return fmt.Errorf("start receiver: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("gnssreceiver: shutting down")
	if err := recv.Stop(); err != nil {
		logger.WithError(err).Error("gnssreceiver: error stopping receiver")
	}
	for _, s := range servers {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	return nil
}

// levelOrDefault prefers an explicit CLI override over the config file's
// logging.level.
func levelOrDefault(override, fromConfig string) string {
	if override != "" {
		return override
	}
	return fromConfig
}

// frontendBlockSizeBytes mirrors receiver.Receiver.FrontendBlockSizeBytes
// so the file source can be sized before the receiver (which owns the
// ring buffer) is constructed: 2 bytes per sample for true I/Q capture,
// 1 byte per sample for real-valued capture.
func frontendBlockSizeBytes(cfg *config.Config) int {
	if cfg.IsComplex {
		return 2 * cfg.RingBuffer.BlockSize
	}
	return cfg.RingBuffer.BlockSize
}

// blockIntervalFor derives a realtime replay pacing interval from the
// configured ring-buffer block size and sample rate.
func blockIntervalFor(cfg *config.Config) time.Duration {
	if cfg.SampleRateHz <= 0 {
		return 0
	}
	seconds := float64(cfg.RingBuffer.BlockSize) / cfg.SampleRateHz
	return time.Duration(seconds * float64(time.Second))
}

func startHTTPServer(addr string, handler http.Handler, logger *logrus.Logger, name string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		logger.WithField("addr", addr).Infof("gnssreceiver: serving %s", name)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Errorf("gnssreceiver: %s server stopped", name)
		}
	}()
	return srv
}
