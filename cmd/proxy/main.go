// keyrelay — multi-key LLM API reverse proxy
//
// Environment variables:
//   CONFIG_PATH      — path to the YAML config file (default: config.yaml)
//   HTTP_PORT        — proxy HTTP port, overrides the config file's port if set
//   METRICS_PORT     — Prometheus metrics HTTP port (default: 9090)
//   LOG_LEVEL        — zerolog level name (default: info)
//   ADMIN_STATIC_DIR — directory served under /static/ (default: admin/static)
//   REDIS_ADDR       — Redis address for the activity log (default: localhost:6379)
//   REDIS_PASSWORD   — Redis password (default: "")
//   REDIS_DB         — Redis database (default: 0)
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abdhe/keyrelay/pkg/activitylog"
	"github.com/abdhe/keyrelay/pkg/admin"
	"github.com/abdhe/keyrelay/pkg/config"
	"github.com/abdhe/keyrelay/pkg/logging"
	"github.com/abdhe/keyrelay/pkg/proxy"
)

func main() {
	log := logging.New(envOrDefault("LOG_LEVEL", "info"))
	log.Info().Msg("starting keyrelay")

	// -------------------------------------------------------------------------
	// Configuration
	// -------------------------------------------------------------------------
	configPath := envOrDefault("CONFIG_PATH", "config.yaml")
	metricsPort := envOrDefault("METRICS_PORT", "9090")
	adminStaticDir := envOrDefault("ADMIN_STATIC_DIR", "admin/static")
	redisAddr := envOrDefault("REDIS_ADDR", "localhost:6379")
	redisPassword := envOrDefault("REDIS_PASSWORD", "")
	redisDB := envIntOrDefault("REDIS_DB", 0)

	var current atomic.Pointer[config.Snapshot]
	loader := config.NewLoader(configPath)

	// -------------------------------------------------------------------------
	// Activity log (best-effort, Redis-backed)
	// -------------------------------------------------------------------------
	activityBuf := activitylog.NewBuffer(activitylog.Config{
		RedisAddr:     redisAddr,
		RedisPassword: redisPassword,
		RedisDB:       redisDB,
	}, log)

	flusherCtx, cancelFlusher := context.WithCancel(context.Background())
	activityBuf.StartFlusher(flusherCtx)
	defer func() {
		cancelFlusher()
		activityBuf.Stop()
	}()

	dispatcher := proxy.New(&current, activityBuf, log)

	watcher := config.NewWatcher(loader, &current, log, dispatcher.ClearClientCache)
	if err := watcher.Start(); err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}
	defer watcher.Stop()

	snap := current.Load()
	log.Info().Strs("providers", snap.ProviderNames()).Msg("config loaded")

	// -------------------------------------------------------------------------
	// Admin server (login + static assets)
	// -------------------------------------------------------------------------
	loginLimiter := admin.NewTokenBucketLimiter(1, 5, 15*time.Minute)
	adminServer := admin.NewServer(func() string {
		return current.Load().AdminPasswordHash
	}, loginLimiter, adminStaticDir, log)

	// -------------------------------------------------------------------------
	// HTTP mux: proxy dispatcher + admin + metrics/health
	// -------------------------------------------------------------------------
	mux := http.NewServeMux()
	adminServer.Routes(mux)
	mux.Handle("/", dispatcher)

	httpPort := envOrDefault("HTTP_PORT", strconv.Itoa(snap.Port))
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("port", httpPort).Msg("proxy server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("proxy server error")
		}
	}()

	// -------------------------------------------------------------------------
	// Metrics + health server
	// -------------------------------------------------------------------------
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	metricsServer := &http.Server{
		Addr:         ":" + metricsPort,
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", metricsPort).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("metrics server error")
		}
	}()

	// -------------------------------------------------------------------------
	// Graceful shutdown
	// -------------------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("proxy server shutdown error")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server shutdown error")
	}

	log.Info().Msg("keyrelay shut down successfully")
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
