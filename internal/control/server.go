// Package control exposes the engine's runtime control channel: a
// privileged unix-socket HTTP API carrying the five control commands,
// plus the read-only status and debug text surfaces.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/nanonet/nanonet/internal/engine"
)

// DefaultSocketPath is where the daemon listens unless overridden.
const DefaultSocketPath = "/run/nanonet.sock"

// Server serves the control API over a unix socket restricted to the
// owner, the userspace equivalent of a root-only character device.
type Server struct {
	*http.Server
	log      *slog.Logger
	eng      *engine.Engine
	sockFile string
}

type Option func(*Server)

func WithSockFile(sockFile string) Option {
	return func(s *Server) { s.sockFile = sockFile }
}

func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		s.BaseContext = func(net.Listener) context.Context { return ctx }
	}
}

func New(log *slog.Logger, eng *engine.Engine, options ...Option) *Server {
	s := &Server{
		Server:   &http.Server{},
		log:      log,
		eng:      eng,
		sockFile: DefaultSocketPath,
	}
	for _, o := range options {
		o(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /config", s.handleGetConfig)
	mux.HandleFunc("PUT /config", s.handleSetConfig)
	mux.HandleFunc("GET /stats", s.handleGetStats)
	mux.HandleFunc("POST /stats/reset", s.handleResetStats)
	mux.HandleFunc("POST /connections/flush", s.handleFlushConnections)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /debug", s.handleDebug)
	s.Handler = mux
	return s
}

// Serve listens on the unix socket until ctx is cancelled. A stale
// socket file from a previous run is removed before binding.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.sockFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	lis, err := net.Listen("unix", s.sockFile)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.sockFile, err)
	}
	if err := os.Chmod(s.sockFile, 0o600); err != nil {
		lis.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.log.Info("control server listening", "socket", s.sockFile)

	errCh := make(chan error, 1)
	go func() {
		if err := s.Server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		_ = os.Remove(s.sockFile)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Config())
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var cfg engine.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode config: %w", err))
		return
	}
	if err := s.eng.SetConfig(cfg); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrConfig) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Stats())
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	s.eng.ResetStats()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFlushConnections(w http.ResponseWriter, r *http.Request) {
	n := s.eng.FlushConnections()
	writeJSON(w, http.StatusOK, map[string]int{"flushed": n})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	WriteStatus(w, s.eng.Config(), s.eng.Stats())
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	WriteDebug(w, s.eng.Debug())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
