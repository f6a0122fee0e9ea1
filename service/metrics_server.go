package service

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsServer struct {
	ctx    context.Context
	mu     sync.Mutex
	server *http.Server
}

func (m *MetricsServer) Start(ctx context.Context, addr string) error {
	hdlr := http.NewServeMux()
	hdlr.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Handler: hdlr,
		Addr:    addr,
	}
	m.mu.Lock()
	m.server = server
	m.ctx = ctx
	m.mu.Unlock()
	return server.ListenAndServe()
}

func (m *MetricsServer) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(m.ctx)
}
