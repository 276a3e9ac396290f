// Package server exposes health, status and Prometheus endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Sources supply the JSON bodies of the read-only endpoints.
type Sources struct {
	Status    func() any
	Positions func() any
}

// Server is the health/status HTTP server.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	log    *zap.Logger
}

// New wires the router. metrics may be nil.
func New(addr string, src Sources, metrics http.Handler, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()

	g.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		)
	})
	g.Use(gin.Recovery())

	g.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	g.HEAD("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	if src.Status != nil {
		g.GET("/status", func(c *gin.Context) { c.JSON(http.StatusOK, src.Status()) })
	}
	if src.Positions != nil {
		g.GET("/positions", func(c *gin.Context) { c.JSON(http.StatusOK, src.Positions()) })
	}
	if metrics != nil {
		g.GET("/metrics", gin.WrapH(metrics))
	}

	return &Server{
		engine: g,
		http: &http.Server{
			Addr:              addr,
			Handler:           g,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http_listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutCtx); err != nil {
		return err
	}
	s.log.Info("http_stopped")
	return nil
}
