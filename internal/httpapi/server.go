// Package httpapi exposes batch history parsing over HTTP and provides a
// client for it.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/openstrap/internal/ingest"
)

const ParseHistoryPath = "/api/parse-history"

// ServerOptions configures Server.
type ServerOptions struct {
	// StaticDir, when set, is served at /.
	StaticDir string
	// MaxUploadBytes caps the request body.
	MaxUploadBytes  int64         `default:"67108864"`
	ShutdownTimeout time.Duration `default:"5s"`
}

// Server serves the parse-history endpoint.
type Server struct {
	opts   ServerOptions
	logger *logrus.Logger
	addr   atomic.Pointer[string]
}

func NewServer(opts ServerOptions, logger *logrus.Logger) *Server {
	defaults.SetDefaults(&opts)
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{opts: opts, logger: logger}
}

// Handler returns the routing mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+ParseHistoryPath, s.handleParseHistory)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if s.opts.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.opts.StaticDir)))
	}
	return mux
}

// Addr is the bound address once ListenAndServe is running.
// It is safe to call from any goroutine.
func (s *Server) Addr() string {
	if addr := s.addr.Load(); addr != nil {
		return *addr
	}
	return ""
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	bound := listener.Addr().String()
	s.addr.Store(&bound)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	s.logger.WithFields(logrus.Fields{
		"addr":   bound,
		"static": s.opts.StaticDir,
	}).Info("HTTP server started")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		s.logger.Info("HTTP server stopped")
		return nil
	}
}

// handleParseHistory concatenates every multipart part into one capture and
// returns the decoded records.
func (s *Server) handleParseHistory(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	reader, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("expected multipart upload: %w", err))
		return
	}

	var blob []byte
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
			return
		}
		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.writeError(w, http.StatusRequestEntityTooLarge, err)
				return
			}
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
			return
		}
		blob = append(blob, data...)
	}

	records, stats := ingest.ParseHistory(blob, s.logger)
	s.logger.WithFields(logrus.Fields{
		"bytes":     len(blob),
		"frames":    stats.Frames,
		"records":   stats.Records,
		"malformed": stats.Malformed,
	}).Info("Parsed uploaded history")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		s.logger.WithError(err).Warn("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.WithError(err).WithField("status", status).Warn("Rejected parse request")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
