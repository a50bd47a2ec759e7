// Package grpc serves the standard gRPC health and reflection services so
// orchestrators can probe the monitor over gRPC.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/flowwatch/flowwatch/pkg/grpc/interceptors"
	"github.com/flowwatch/flowwatch/pkg/logger"
)

// Server hosts the gRPC health service.
type Server struct {
	cfg    *Config
	log    logger.Logger
	health *HealthServer

	mu  sync.RWMutex
	srv *grpc.Server
	lis net.Listener
}

// New validates cfg and returns a stopped server.
func New(cfg *Config, log logger.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("grpc config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grpc config: %w", err)
	}
	if log == nil {
		log = logger.Global()
	}
	return &Server{cfg: cfg, log: log.With("component", "grpc"), health: NewHealthServer()}, nil
}

// Health returns the health server so callers can flip serving status.
func (s *Server) Health() *HealthServer { return s.health }

// Start binds the address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("grpc server already started")
	}

	lis, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address, err)
	}

	srv := grpc.NewServer(s.options()...)
	grpc_health_v1.RegisterHealthServer(srv, s.health.GetServer())
	if s.cfg.EnableReflection {
		reflection.Register(srv)
	}
	s.srv, s.lis = srv, lis

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Error("grpc serve failed", "error", err)
		}
	}()

	s.log.Info("grpc server listening", "address", lis.Addr().String(), "reflection", s.cfg.EnableReflection)
	return nil
}

// Stop marks every service NOT_SERVING, then drains in-flight calls until
// ctx ends, when remaining calls are cut off. Stopping twice is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.health.Shutdown()
	drained := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		srv.Stop()
		return fmt.Errorf("grpc graceful stop: %w", ctx.Err())
	}
}

// Address returns the bound address once started, the configured one before.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	return s.cfg.Address
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.srv != nil
}

func (s *Server) options() []grpc.ServerOption {
	var opts []grpc.ServerOption
	if k := s.cfg.Keepalive; k != nil {
		opts = append(opts,
			grpc.KeepaliveParams(keepalive.ServerParameters{
				MaxConnectionIdle: k.MaxIdle,
				Time:              k.Time,
				Timeout:           k.Timeout,
			}),
			grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: k.MinTime}),
		)
	}
	if s.cfg.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(s.cfg.MaxRecvMsgSize))
	}

	chain := interceptors.NewChainBuilder().WithRecovery(s.log).WithRequestID().WithLogging(s.log)
	if s.cfg.EnableTracing {
		chain.WithTracing()
	}
	return append(opts, chain.Build()...)
}
