package model

import "time"

type UpdateKind string

const (
	KindMove           UpdateKind = "MOVE"
	KindDailyHeartbeat UpdateKind = "DAILY_HEARTBEAT"
)

// RawRead is one decoded tag detection. Adapters create it, the filter
// consumes it exactly once; it is never mutated after creation.
type RawRead struct {
	TagID          string    `json:"tag_id"`
	ReaderID       string    `json:"reader_id"`
	LocationID     string    `json:"location_id"`
	SignalStrength int       `json:"signal_strength"`
	ObservedAt     time.Time `json:"observed_at"`
	Synthetic      bool      `json:"synthetic,omitempty"`
}

// TagState is the per-tag memory of the last accepted position. Owned
// exclusively by the filter worker for the tag's partition.
type TagState struct {
	TagID           string    `json:"tag_id"`
	LastLocationID  string    `json:"last_location_id"`
	LastSignal      int       `json:"last_signal"`
	LastAcceptedAt  time.Time `json:"last_accepted_at"`
	LastDailyMarkAt time.Time `json:"last_daily_mark_at,omitzero"`
	RawSeen         uint64    `json:"raw_seen"`
	Version         uint64    `json:"version"`
}

type LocationUpdate struct {
	ID                 string     `json:"id"`
	TagID              string     `json:"tag_id"`
	LocationID         string     `json:"location_id"`
	PreviousLocationID string     `json:"previous_location_id,omitempty"`
	Kind               UpdateKind `json:"kind"`
	OccurredAt         time.Time  `json:"occurred_at"`
}

// IdempotencyKey identifies one accepted decision. Downstream consumers
// dedupe on it, so redelivery after an emitter retry is harmless.
func (u LocationUpdate) IdempotencyKey() string {
	return u.TagID + "|" + u.OccurredAt.UTC().Format(time.RFC3339Nano) + "|" + string(u.Kind)
}

type ReaderConnState string

const (
	ReaderConnecting   ReaderConnState = "connecting"
	ReaderConnected    ReaderConnState = "connected"
	ReaderReading      ReaderConnState = "reading"
	ReaderDisconnected ReaderConnState = "disconnected"
	ReaderStopped      ReaderConnState = "stopped"
)

type ReaderStatus struct {
	ReaderID    string          `json:"reader_id"`
	LocationID  string          `json:"location_id"`
	State       ReaderConnState `json:"state"`
	LastFrameAt time.Time       `json:"last_frame_at,omitzero"`
	Reconnects  uint64          `json:"reconnects"`
	Dropped     uint64          `json:"dropped"`
}
