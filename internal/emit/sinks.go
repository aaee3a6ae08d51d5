package emit

import (
	"context"

	"tagstream/internal/model"
	"tagstream/internal/notify"
	"tagstream/internal/storage"
	"tagstream/internal/updates"
)

// StoreSink is the durable write path into the external relational
// store. It is the retryable sink: the at-least-once contract exists for
// its sake, and the store dedupes on the idempotency columns.
type StoreSink struct {
	store storage.Store
}

func NewStoreSink(store storage.Store) *StoreSink {
	if store == nil {
		return nil
	}
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(ctx context.Context, update model.LocationUpdate) error {
	return s.store.SaveUpdate(ctx, update)
}

// RingSink feeds the recent-updates buffer behind the /updates endpoint.
type RingSink struct {
	ring *updates.Store
}

func NewRingSink(ring *updates.Store) *RingSink {
	if ring == nil {
		return nil
	}
	return &RingSink{ring: ring}
}

func (s *RingSink) Name() string { return "ring" }

func (s *RingSink) Deliver(_ context.Context, update model.LocationUpdate) error {
	s.ring.Add(update)
	return nil
}

// HubSink pushes updates to live websocket subscribers, best effort.
type HubSink struct {
	hub *notify.Hub
}

func NewHubSink(hub *notify.Hub) *HubSink {
	if hub == nil {
		return nil
	}
	return &HubSink{hub: hub}
}

func (s *HubSink) Name() string { return "notify" }

func (s *HubSink) Deliver(_ context.Context, update model.LocationUpdate) error {
	s.hub.Broadcast(update)
	return nil
}
