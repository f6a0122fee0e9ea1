package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-gatekeeper/metrics"
)

const (
	DefaultHealthzAddr = "0.0.0.0:8080"
)

// Config configures the monitor-mode HTTP servers
type Config struct {
	Log         log.Logger
	HealthzAddr string
	// MetricsAddr of "" disables the metrics server.
	MetricsAddr string
	// Health reports why the service is unhealthy, or nil.
	Health func() error
}

type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer

	cfg Config
	log log.Logger
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.HealthzAddr == "" {
		cfg.HealthzAddr = DefaultHealthzAddr
	}
	s := &Service{
		Healthz: &HealthzServer{check: cfg.Health, log: cfg.Log},
		cfg:     cfg,
		log:     cfg.Log.New("component", "service"),
	}
	if cfg.MetricsAddr != "" {
		s.Metrics = &MetricsServer{}
	}
	return s
}

func (s *Service) Start(ctx context.Context) {
	s.log.Info("service starting")

	go func() {
		s.log.Info("starting healthz server", "addr", s.cfg.HealthzAddr)
		if err := s.Healthz.Start(ctx, s.cfg.HealthzAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("error starting healthz server", "err", err)
			metrics.RecordErrorDetails("error starting healthz server", err)
		}
	}()

	if s.Metrics != nil {
		go func() {
			s.log.Info("starting metrics server", "addr", s.cfg.MetricsAddr)
			if err := s.Metrics.Start(ctx, s.cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting metrics server", "err", err)
				metrics.RecordErrorDetails("error starting metrics server", err)
			}
		}()
	}

	s.log.Info("service started")
}

func (s *Service) Shutdown() {
	s.log.Info("service shutting down")

	_ = s.Healthz.Shutdown()
	s.log.Info("healthz stopped")

	if s.Metrics != nil {
		_ = s.Metrics.Shutdown()
		s.log.Info("metrics stopped")
	}

	s.log.Info("service stopped")
}
