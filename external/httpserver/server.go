package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/foxseedlab/sanctuary/internal/audio"
	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/foxseedlab/sanctuary/internal/safety"
	"github.com/foxseedlab/sanctuary/internal/session"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

type Server struct {
	sessions   *session.Manager
	safety     *safety.Pipeline
	hub        *fanout.Hub
	newDecoder audio.DecoderFactory
	upgrader   websocket.Upgrader
}

func NewServer(sessions *session.Manager, pipeline *safety.Pipeline, hub *fanout.Hub, newDecoder audio.DecoderFactory) *Server {
	return &Server{
		sessions:   sessions,
		safety:     pipeline,
		hub:        hub,
		newDecoder: newDecoder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", handleHealthz)

	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleEvents)
	mux.HandleFunc("POST /sessions/{id}/schedule", s.handleSchedule)
	mux.HandleFunc("POST /sessions/{id}/reopen", s.handleReopen)
	mux.HandleFunc("POST /sessions/{id}/start", s.handleStart)
	mux.HandleFunc("POST /sessions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /sessions/{id}/end", s.handleEnd)

	mux.HandleFunc("POST /sessions/{id}/admit", s.handleAdmit)
	mux.HandleFunc("POST /sessions/{id}/leave", s.handleLeave)
	mux.HandleFunc("POST /sessions/{id}/kick", s.handleKick)
	mux.HandleFunc("POST /sessions/{id}/role", s.handleRole)
	mux.HandleFunc("POST /sessions/{id}/mute", s.handleMute)
	mux.HandleFunc("POST /sessions/{id}/hand", s.handleHand)
	mux.HandleFunc("POST /sessions/{id}/react", s.handleReact)
	mux.HandleFunc("POST /sessions/{id}/telemetry", s.handleTelemetry)

	mux.HandleFunc("POST /sessions/{id}/rooms", s.handleCreateRoom)
	mux.HandleFunc("POST /sessions/{id}/rooms/auto-assign", s.handleAutoAssign)
	mux.HandleFunc("POST /rooms/{id}/join", s.handleJoinRoom)
	mux.HandleFunc("POST /rooms/{id}/leave", s.handleLeaveRoom)
	mux.HandleFunc("DELETE /rooms/{id}", s.handleDeleteRoom)

	mux.HandleFunc("POST /sessions/{id}/reports", s.handleReport)
	mux.HandleFunc("POST /sessions/{id}/samples", s.handleSample)
	mux.HandleFunc("GET /sessions/{id}/alerts", s.handleListAlerts)
	mux.HandleFunc("GET /alerts/{id}", s.handleGetAlert)
	mux.HandleFunc("POST /alerts/{id}/actions", s.handleAlertAction)

	return mux
}

// Run serves until ctx is canceled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	slog.Info("starting http server", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "error", err)
	}
	return nil
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
