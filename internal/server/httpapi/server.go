package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/michalmalinowski87/photovault/internal/logging"
	"github.com/michalmalinowski87/photovault/internal/server/services"
)

// Server is the HTTP front of the upload coordination services.
type Server struct {
	httpServer *http.Server
	logger     logging.Logger
}

func NewServer(addr string, uploads *services.UploadService, secretKey []byte, logger logging.Logger) *Server {
	mux := http.NewServeMux()
	handler := NewHandler(uploads, logger)
	handler.Routes(mux, Auth(secretKey, logger))

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           RequestLog(logger)(mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With("module", "http_server"),
	}
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "http server starting", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "http server stopping")
	return s.httpServer.Shutdown(ctx)
}
