package main

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkaminski/kvstore/internal/metrics"
)

// metricsHTTPServer wraps the /metrics HTTP listener so main can start and
// stop it alongside the store and the storage server.
type metricsHTTPServer struct {
	httpServer *http.Server
	log        *logrus.Entry
}

func startMetricsServer(addr string, m *metrics.Metrics, log *logrus.Entry) *metricsHTTPServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	httpServer := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("metrics server stopped unexpectedly")
		}
	}()

	log.WithField("addr", addr).Info("metrics server listening")
	return &metricsHTTPServer{httpServer: httpServer, log: log}
}

func (s *metricsHTTPServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Shutdown(ctx)
}
