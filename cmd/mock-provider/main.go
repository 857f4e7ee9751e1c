package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"launchsched/internal/config"
	"launchsched/internal/logging"
	"launchsched/internal/mockprovider"
)

func main() {
	cfg, err := config.LoadMockProvider()
	if err != nil {
		logging.Init("mock-provider", "json")
		slog.Error("mock provider config load failed", "err", err)
		os.Exit(1)
	}
	logging.Init("mock-provider", cfg.LogFormat)

	mock := mockprovider.New(mockprovider.Config{
		APIKey:        cfg.APIKey,
		NotReadyFor:   cfg.NotReadyFor,
		Delay:         cfg.Delay,
		FailListIDs:   cfg.FailListIDs,
		ThrottleEvery: cfg.ThrottleEvery,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", mockprovider.Healthz())
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", mock.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("mock provider listening", "port", cfg.Port, "not_ready_for", cfg.NotReadyFor)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mock provider server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("mock provider shutdown", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
