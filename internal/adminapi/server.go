package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	adminauth "github.com/marmos91/galaxycache/internal/adminapi/auth"
	"github.com/marmos91/galaxycache/internal/cluster"
	"github.com/marmos91/galaxycache/internal/coherence"
	"github.com/marmos91/galaxycache/internal/logger"
	"github.com/marmos91/galaxycache/pkg/config"
)

// Server hosts the admin HTTP API.
type Server struct {
	server       *http.Server
	config       config.AdminAPIConfig
	shutdownOnce sync.Once
}

// NewServer builds an admin API Server from cfg, wiring the coherence
// table/node and optional cluster membership into the router.
func NewServer(cfg config.AdminAPIConfig, table *coherence.Table, node *coherence.Node, c *cluster.Cluster) (*Server, error) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("admin API JWT secret must be at least 32 characters")
	}

	jwtService, err := adminauth.NewJWTService(adminauth.JWTConfig{
		Secret: cfg.JWT.Secret,
		TTL:    cfg.JWT.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("admin API: %w", err)
	}

	router := NewRouter(table, node, c, jwtService)

	return &Server{
		config: cfg,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// Start starts the admin API HTTP server and blocks until ctx is
// cancelled or the server fails.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", "port", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin API server failed: %w", err)
	}
}

// Stop gracefully shuts down the admin API server. Safe to call
// multiple times and concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin API shutdown error: %w", err)
			logger.Error("admin API shutdown error", "error", err)
		} else {
			logger.Info("admin API stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is listening on.
func (s *Server) Port() int {
	return s.config.Port
}
