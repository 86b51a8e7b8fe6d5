package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dignetwork/dignode/internal/telemetry"
)

// httpMetricsServer serves a Metrics instance's Prometheus exposition
// endpoint in the background.
type httpMetricsServer struct {
	addr    string
	metrics *telemetry.Metrics
	srv     *http.Server
}

func (s *httpMetricsServer) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())

	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics endpoint error", "err", err)
		}
	}()
	return nil
}

func (s *httpMetricsServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}
