package emit

import (
	"context"
	"log/slog"
	"time"

	"tagstream/internal/config"
	"tagstream/internal/metrics"
	"tagstream/internal/model"
)

// Sink is one downstream consumer of accepted updates. Deliver returning
// an error means "retry later"; sinks that cannot fail return nil.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, update model.LocationUpdate) error
}

// Emitter drains the bounded outbound queue on a single goroutine and
// delivers each update to every sink, at least once. Filter workers only
// ever touch Enqueue, so a stalled downstream throttles emission without
// stalling decisions.
type Emitter struct {
	queue    chan model.LocationUpdate
	sinks    []Sink
	retryMin time.Duration
	retryMax time.Duration
	logger   *slog.Logger
}

func NewEmitter(cfg config.EmitConfig, logger *slog.Logger, sinks ...Sink) *Emitter {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 4096
	}
	return &Emitter{
		queue:    make(chan model.LocationUpdate, depth),
		sinks:    sinks,
		retryMin: cfg.RetryMin,
		retryMax: cfg.RetryMax,
		logger:   logger,
	}
}

// Enqueue hands an accepted decision to the emitter. Under sustained
// overload the oldest queued update is shed and counted; the caller is
// never blocked on downstream I/O.
func (e *Emitter) Enqueue(update model.LocationUpdate) bool {
	for {
		select {
		case e.queue <- update:
			metrics.EmitQueueDepth.Set(float64(len(e.queue)))
			return true
		default:
		}
		select {
		case shed := <-e.queue:
			metrics.ReadsDropped.WithLabelValues("emit").Inc()
			if e.logger != nil {
				e.logger.Warn("emission queue full, shedding oldest update",
					"tag_id", shed.TagID, "kind", shed.Kind)
			}
		default:
		}
	}
}

func (e *Emitter) Run(ctx context.Context) {
	for {
		select {
		case update := <-e.queue:
			metrics.EmitQueueDepth.Set(float64(len(e.queue)))
			e.deliver(ctx, update)
		case <-ctx.Done():
			return
		}
	}
}

// deliver pushes one update through every sink, retrying each failing
// sink with exponential backoff. The decision is already committed to
// tag state, so giving up is not an option short of shutdown.
func (e *Emitter) deliver(ctx context.Context, update model.LocationUpdate) {
	for _, sink := range e.sinks {
		backoff := e.retryMin
		for {
			err := sink.Deliver(ctx, update)
			if err == nil {
				metrics.UpdatesDelivered.WithLabelValues(sink.Name()).Inc()
				break
			}
			if ctx.Err() != nil {
				return
			}
			metrics.EmitRetries.WithLabelValues(sink.Name()).Inc()
			if e.logger != nil {
				e.logger.Warn("sink delivery failed, retrying",
					"sink", sink.Name(), "tag_id", update.TagID,
					"key", update.IdempotencyKey(), "err", err, "retry_in", backoff)
			}
			if !sleep(ctx, backoff) {
				return
			}
			if backoff *= 2; backoff > e.retryMax {
				backoff = e.retryMax
			}
		}
	}
}

func (e *Emitter) QueueLen() int {
	return len(e.queue)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
