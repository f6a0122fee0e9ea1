package service

import (
	"context"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

type HealthzServer struct {
	ctx    context.Context
	check  func() error
	log    log.Logger
	mu     sync.Mutex
	server *http.Server
}

func (h *HealthzServer) Handler() http.Handler {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(hdlr)
}

func (h *HealthzServer) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Handler: h.Handler(),
		Addr:    addr,
	}
	h.mu.Lock()
	h.server = server
	h.ctx = ctx
	h.mu.Unlock()
	return server.ListenAndServe()
}

func (h *HealthzServer) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(h.ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	if h.check != nil {
		if err := h.check(); err != nil {
			if h.log != nil {
				h.log.Warn("health check failed", "path", r.URL.Path, "err", err)
			}
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.Write([]byte("OK")) //nolint:errcheck
}
