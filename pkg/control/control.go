// Package control exposes the cycle loop over HTTP.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/forzax/cycleloop/pkg/cycle"
)

// Loop is the part of cycle.Runner the handler drives.
type Loop interface {
	Pause() error
	Resume() error
	Stop() error
	Status() cycle.Snapshot
}

// Handler serves GET /health, GET /status and POST /pause, /resume, /stop.
type Handler struct {
	loop   Loop
	logger *zap.Logger
}

func NewHandler(loop Loop, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{loop: loop, logger: logger.Named("control")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	case "/status":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(h.loop.Status()); err != nil {
			h.logger.Warn("encode status", zap.Error(err))
		}
	case "/pause":
		h.command(w, r, h.loop.Pause)
	case "/resume":
		h.command(w, r, h.loop.Resume)
	case "/stop":
		h.command(w, r, h.loop.Stop)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) command(w http.ResponseWriter, r *http.Request, fn func() error) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := fn(); err != nil {
		if errors.Is(err, cycle.ErrInvalidTransition) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error("control command failed", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.logger.Info("control command", zap.String("path", r.URL.Path))
	w.WriteHeader(http.StatusNoContent)
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("control HTTP listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
