package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tagstream/internal/config"
	"tagstream/internal/engine"
	"tagstream/internal/metrics"
	"tagstream/internal/model"
	"tagstream/internal/notify"
	"tagstream/internal/updates"
)

type Server struct {
	cfg     *config.Manager
	engine  *engine.Engine
	status  *metrics.StatusStore
	updates *updates.Store
	hub     *notify.Hub
	logger  *slog.Logger
	version string
	started time.Time
}

type statusResponse struct {
	Status      string               `json:"status"`
	Time        string               `json:"time"`
	Version     string               `json:"version"`
	UptimeSec   int64                `json:"uptime_sec"`
	Counters    engine.Counters      `json:"counters"`
	Readers     []model.ReaderStatus `json:"readers"`
	Subscribers int                  `json:"subscribers"`
	Filter      filterStatus         `json:"filter"`
}

type filterStatus struct {
	DedupWindow     string `json:"dedup_window"`
	DailyInterval   string `json:"daily_interval"`
	ClockResolution string `json:"clock_resolution"`
	Partitions      int    `json:"partitions"`
}

func Start(ctx context.Context, cfg *config.Manager, eng *engine.Engine, status *metrics.StatusStore, recent *updates.Store, hub *notify.Hub, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:     cfg,
		engine:  eng,
		status:  status,
		updates: recent,
		hub:     hub,
		logger:  logger,
		version: version,
		started: time.Now().UTC(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/readers", server.handleReaders)
	mux.HandleFunc("/updates", server.handleUpdates)
	mux.HandleFunc("/healthz", server.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	if hub != nil {
		mux.HandleFunc("/ws", hub.ServeWS)
	}

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	subscribers := 0
	if s.hub != nil {
		subscribers = s.hub.Subscribers()
	}
	resp := statusResponse{
		Status:      "ok",
		Time:        time.Now().UTC().Format(time.RFC3339Nano),
		Version:     s.version,
		UptimeSec:   int64(time.Since(s.started).Seconds()),
		Counters:    s.engine.Counters(),
		Readers:     s.status.All(),
		Subscribers: subscribers,
		Filter: filterStatus{
			DedupWindow:     cfg.Filter.DedupWindow.String(),
			DailyInterval:   cfg.Filter.DailyInterval.String(),
			ClockResolution: cfg.Filter.ClockResolution.String(),
			Partitions:      cfg.Ingest.Partitions,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReaders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list := s.status.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"readers": list,
		"count":   len(list),
	})
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.LocationUpdate
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.updates.Since(ts)
		if limit > 0 && len(list) > limit {
			list = list[len(list)-limit:]
		}
	} else {
		list = s.updates.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"updates": list,
		"count":   len(list),
	})
}

// handleHealthz degrades to 503 only when every configured reader is
// down; a single disconnected reader is a status detail, not an outage.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	all := s.status.All()
	down := s.status.Disconnected()
	code := http.StatusOK
	state := "ok"
	if len(all) > 0 && down == len(all) {
		code = http.StatusServiceUnavailable
		state = "all_readers_down"
	}
	writeJSON(w, code, map[string]any{"status": state, "readers_down": down})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
