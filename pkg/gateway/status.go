package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"strconv"
	"time"
)

const shutdownGrace = 5 * time.Second

type statusReport struct {
	Status          string                  `json:"status"`
	UptimeSeconds   int64                   `json:"uptime_seconds"`
	BackendOnline   bool                    `json:"backend_online"`
	BackendLastOKAt string                  `json:"backend_last_ok_at,omitempty"`
	BackendLastErr  string                  `json:"backend_last_error,omitempty"`
	Sessions        int                     `json:"sessions"`
	DroppedEvents   uint64                  `json:"dropped_events"`
	Channels        map[string]channelState `json:"channels"`
}

// statusHandler serves liveness, readiness and the live session list.
func (s *Service) statusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.report("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.ready() {
			writeJSON(w, http.StatusServiceUnavailable, s.report("not_ready"))
			return
		}
		writeJSON(w, http.StatusOK, s.report("ready"))
	})
	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.manager.summaries())
	})
	return mux
}

// serveStatus runs the status server until ctx ends.
func (s *Service) serveStatus(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Gateway.Host, strconv.Itoa(s.cfg.Gateway.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("start status server: %w", err)
	}

	server := &http.Server{
		Handler:           s.statusHandler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("Status server shutdown incomplete", "error", err)
		}
	}()

	s.log.Info("Gateway status server started", "address", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve status: %w", err)
	}
	<-stopped
	return nil
}

// ready needs one running channel and a reachable backend.
func (s *Service) ready() bool {
	if !s.monitor.Status().Online {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, state := range s.states {
		if state.Running {
			return true
		}
	}
	return false
}

func (s *Service) report(status string) statusReport {
	health := s.monitor.Status()

	s.mu.RLock()
	started := s.startedAt
	channels := maps.Clone(s.states)
	s.mu.RUnlock()

	report := statusReport{
		Status:         status,
		BackendOnline:  health.Online,
		BackendLastErr: health.LastError,
		Sessions:       s.manager.Len(),
		DroppedEvents:  s.events.Dropped(),
		Channels:       channels,
	}
	if !started.IsZero() {
		report.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if !health.LastOKAt.IsZero() {
		report.BackendLastOKAt = health.LastOKAt.Format(time.RFC3339)
	}
	return report
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
