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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/adapters/store"
	"github.com/mikey/phish-ledger/internal/config"
	"github.com/mikey/phish-ledger/internal/core"
	"github.com/mikey/phish-ledger/internal/di"
	"github.com/mikey/phish-ledger/internal/ports"
	"github.com/mikey/phish-ledger/internal/retention"
	"github.com/mikey/phish-ledger/internal/tracing"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

type deps struct {
	dig.In

	Config      *config.Config
	Logger      *zap.Logger
	Store       *store.SQLStore
	Service     *core.LedgerService
	Detector    core.Detector
	EmailFilter ports.EmailFilter
	Cache       *di.CacheHandle
	Events      *di.EventsHandle
}

// run is the main application function that gets all dependencies injected
func run(d deps) error {
	logger := d.Logger
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs := d.Config.GetObservability()
	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     obs.TracingEnabled,
		ServiceName: obs.ServiceName,
		Endpoint:    obs.TracingEndpoint,
		Insecure:    obs.Insecure,
	}, logger)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	var metricsServer *http.Server
	if obs.MetricsEnabled {
		metricsServer = startMetricsServer(obs.MetricsAddress, d.Store, logger)
	}

	retentionCfg, err := d.Config.GetRetention()
	if err != nil {
		return err
	}
	sweepDone := make(chan struct{})
	if retentionCfg.Enabled {
		sweeper := retention.NewSweeper(d.Service, retentionCfg.MaxAgeDays, retentionCfg.Interval, logger)
		go func() {
			defer close(sweepDone)
			sweeper.Run(ctx)
		}()
	} else {
		close(sweepDone)
	}

	// Start the filter
	if err := d.EmailFilter.Start(); err != nil {
		logger.Error("Failed to start filter", zap.Error(err))
		return err
	}
	logger.Info("Phish ledger started", zap.String("detector", d.Detector.Name()))

	<-ctx.Done()
	logger.Info("Shutting down...")

	if err := d.EmailFilter.Stop(); err != nil {
		logger.Error("Failed to stop filter", zap.Error(err))
	}
	<-sweepDone

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to stop metrics server", zap.Error(err))
		}
		cancel()
	}

	if closer, ok := d.Detector.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close detector", zap.Error(err))
		}
	}
	d.Cache.Stop()
	d.Events.Close()
	if err := d.Store.Close(); err != nil {
		logger.Error("Failed to close store", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}

func startMetricsServer(addr string, s *store.SQLStore, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()
	logger.Info("Metrics server listening", zap.String("address", addr))
	return server
}
