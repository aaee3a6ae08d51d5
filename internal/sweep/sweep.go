package sweep

import (
	"context"
	"log/slog"
	"time"

	"tagstream/internal/config"
	"tagstream/internal/model"
	"tagstream/internal/router"
	"tagstream/internal/state"
)

const syntheticReaderID = "sweep"

// Scheduler synthesizes a "still here" read for every tag that has gone
// a full daily interval without one, so historical views show continuous
// presence. Synthetic reads travel the same router and filter path as
// reader traffic; the scheduler holds no decision logic of its own.
type Scheduler struct {
	cfg    *config.Manager
	states *state.Store
	router *router.Router
	logger *slog.Logger
	now    func() time.Time
}

func NewScheduler(cfg *config.Manager, states *state.Store, r *router.Router, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		states: states,
		router: r,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	cfg := s.cfg.Get()
	if !cfg.Sweep.Enabled {
		if s.logger != nil {
			s.logger.Info("daily sweep disabled")
		}
		return
	}
	if s.logger != nil {
		s.logger.Info("daily sweep enabled", "interval", cfg.Sweep.Interval)
	}
	ticker := time.NewTicker(cfg.Sweep.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			injected := s.SweepOnce(ctx)
			if injected > 0 && s.logger != nil {
				s.logger.Info("daily sweep injected synthetic reads", "count", injected)
			}
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce scans a snapshot of tag state and routes one synthetic read
// per overdue tag. It never touches tag state directly.
func (s *Scheduler) SweepOnce(ctx context.Context) int {
	cfg := s.cfg.Get()
	now := s.now().UTC()
	injected := 0
	for _, st := range s.states.Snapshot(ctx) {
		if st.LastLocationID == "" {
			continue
		}
		mark := st.LastDailyMarkAt
		if mark.IsZero() {
			mark = st.LastAcceptedAt
		}
		if now.Sub(mark) < cfg.Filter.DailyInterval {
			continue
		}
		read := model.RawRead{
			TagID:      st.TagID,
			ReaderID:   syntheticReaderID,
			LocationID: st.LastLocationID,
			ObservedAt: now,
			Synthetic:  true,
		}
		if !s.router.Route(ctx, read) {
			return injected
		}
		injected++
	}
	return injected
}
