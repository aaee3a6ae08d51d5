package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"tagstream/internal/config"
	"tagstream/internal/metrics"
	"tagstream/internal/model"
	"tagstream/internal/router"
	"tagstream/internal/state"
)

// UpdateSink receives accepted decisions. Enqueue must not block on
// downstream I/O; a slow consumer throttles emission, not decisions.
type UpdateSink interface {
	Enqueue(update model.LocationUpdate) bool
}

// Counters mirrors the prometheus counters for the status API.
type Counters struct {
	Accepted        uint64 `json:"accepted"`
	Deduplicated    uint64 `json:"deduplicated"`
	Rejected        uint64 `json:"rejected"`
	DailyHeartbeats uint64 `json:"daily_heartbeats"`
}

// Engine runs one filter worker per router partition. All location
// decisions, live and synthetic, pass through Process; there is no
// second decision path.
type Engine struct {
	cfg    *config.Manager
	states *state.Store
	sink   UpdateSink
	logger *slog.Logger

	accepted     atomic.Uint64
	deduplicated atomic.Uint64
	rejected     atomic.Uint64
	heartbeats   atomic.Uint64

	newID func() string
}

func NewEngine(cfg *config.Manager, states *state.Store, sink UpdateSink, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		states: states,
		sink:   sink,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Start launches one worker per partition. The returned WaitGroup
// completes once every worker has observed ctx cancellation.
func (e *Engine) Start(ctx context.Context, r *router.Router) *sync.WaitGroup {
	var wg sync.WaitGroup
	for p := 0; p < r.Partitions(); p++ {
		wg.Add(1)
		go func(partition int) {
			defer wg.Done()
			queue := r.Queue(partition)
			for {
				select {
				case read := <-queue:
					e.Process(ctx, partition, read)
				case <-ctx.Done():
					return
				}
			}
		}(p)
	}
	return &wg
}

// Process decides what one read means for its tag and hands any
// resulting update to the sink. Decisions are pure in-memory computation
// against the partition's state shard; only the partition's worker may
// call it for that partition.
func (e *Engine) Process(ctx context.Context, partition int, read model.RawRead) *model.LocationUpdate {
	cfg := e.cfg.Get()
	if reason := validate(read, cfg.Ingest); reason != "" {
		e.rejected.Add(1)
		metrics.ReadsRejected.WithLabelValues(reason).Inc()
		if e.logger != nil {
			e.logger.Debug("read rejected", "reason", reason, "reader_id", read.ReaderID, "tag_id", read.TagID)
		}
		return nil
	}

	shard := e.states.Shard(partition)
	for attempt := 0; attempt < 2; attempt++ {
		st := shard.GetOrCreate(ctx, read.TagID)
		decision := decide(read, st, cfg.Filter)

		if decision.outcome == outcomeDuplicate {
			e.deduplicated.Add(1)
			metrics.ReadsDeduplicated.Inc()
			shard.Touch(read.TagID)
			return nil
		}

		// State commits before emission: a crash after the commit means
		// redelivery downstream, never a decision that contradicts
		// recorded state.
		if err := shard.Commit(ctx, decision.state, st.Version); err != nil {
			if attempt == 0 {
				continue
			}
			metrics.ReadsDropped.WithLabelValues("filter").Inc()
			if e.logger != nil {
				e.logger.Warn("dropping read after repeated state conflict", "tag_id", read.TagID)
			}
			return nil
		}

		if decision.outcome == outcomeStillPresent {
			// Presence confirmed, nothing to tell downstream. The accepted
			// clock still advances so the dedup window tracks the tag.
			return nil
		}

		update := model.LocationUpdate{
			ID:                 e.newID(),
			TagID:              read.TagID,
			LocationID:         decision.state.LastLocationID,
			PreviousLocationID: decision.previousLocation,
			Kind:               decision.kind,
			OccurredAt:         read.ObservedAt,
		}
		e.accepted.Add(1)
		metrics.ReadsAccepted.WithLabelValues(string(decision.kind)).Inc()
		if decision.kind == model.KindDailyHeartbeat {
			e.heartbeats.Add(1)
			metrics.DailyHeartbeats.Inc()
		}
		if e.sink != nil {
			e.sink.Enqueue(update)
		}
		return &update
	}
	return nil
}

func (e *Engine) Counters() Counters {
	return Counters{
		Accepted:        e.accepted.Load(),
		Deduplicated:    e.deduplicated.Load(),
		Rejected:        e.rejected.Load(),
		DailyHeartbeats: e.heartbeats.Load(),
	}
}
