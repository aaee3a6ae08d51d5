package engine

import (
	"strings"

	"tagstream/internal/config"
	"tagstream/internal/model"
)

type outcome int

const (
	outcomeDuplicate outcome = iota
	outcomeStillPresent
	outcomeMove
	outcomeHeartbeat
)

type decision struct {
	outcome          outcome
	kind             model.UpdateKind
	previousLocation string
	state            model.TagState
}

// decide classifies one read against the tag's current state. It never
// consults the wall clock: the same read sequence always yields the same
// update sequence, which is what makes replay testing possible.
func decide(read model.RawRead, st model.TagState, cfg config.FilterConfig) decision {
	// First sighting of this tag, or state re-established after a failed
	// reload: a move from an undefined previous location.
	if st.LastAcceptedAt.IsZero() {
		next := st
		next.LastLocationID = read.LocationID
		next.LastSignal = read.SignalStrength
		next.LastAcceptedAt = read.ObservedAt
		next.LastDailyMarkAt = read.ObservedAt
		next.RawSeen++
		return decision{outcome: outcomeMove, kind: model.KindMove, state: next}
	}

	// Simultaneous detections by overlapping readers resolve on signal
	// strength, not arrival order; the weaker read is a duplicate even
	// outside the dedup window. Prevents flapping at zone boundaries.
	delta := read.ObservedAt.Sub(st.LastAcceptedAt)
	if delta < 0 {
		delta = -delta
	}
	if delta < cfg.ClockResolution {
		if read.SignalStrength <= st.LastSignal || read.LocationID == st.LastLocationID {
			return decision{outcome: outcomeDuplicate}
		}
		// A stronger simultaneous read at another location supersedes the
		// accepted position.
		next := st
		prev := st.LastLocationID
		next.LastLocationID = read.LocationID
		next.LastSignal = read.SignalStrength
		next.LastAcceptedAt = read.ObservedAt
		next.LastDailyMarkAt = read.ObservedAt
		next.RawSeen++
		return decision{outcome: outcomeMove, kind: model.KindMove, previousLocation: prev, state: next}
	}

	if read.LocationID == st.LastLocationID {
		if read.ObservedAt.Sub(st.LastAcceptedAt) < cfg.DedupWindow {
			return decision{outcome: outcomeDuplicate}
		}
		next := st
		next.LastSignal = read.SignalStrength
		next.LastAcceptedAt = read.ObservedAt
		next.RawSeen++
		if st.LastDailyMarkAt.IsZero() || read.ObservedAt.Sub(st.LastDailyMarkAt) >= cfg.DailyInterval {
			next.LastDailyMarkAt = read.ObservedAt
			return decision{outcome: outcomeHeartbeat, kind: model.KindDailyHeartbeat, state: next}
		}
		return decision{outcome: outcomeStillPresent, state: next}
	}

	// Location change always emits, regardless of elapsed time. The move
	// also resets the daily clock: presence at the new location is fresh.
	next := st
	prev := st.LastLocationID
	next.LastLocationID = read.LocationID
	next.LastSignal = read.SignalStrength
	next.LastAcceptedAt = read.ObservedAt
	next.LastDailyMarkAt = read.ObservedAt
	next.RawSeen++
	return decision{outcome: outcomeMove, kind: model.KindMove, previousLocation: prev, state: next}
}

// validate classifies malformed input. Rejections are counted, never
// fatal: one reader emitting garbage must not stall the engine.
func validate(read model.RawRead, cfg config.IngestConfig) string {
	if strings.TrimSpace(read.TagID) == "" {
		return "missing_tag"
	}
	if strings.TrimSpace(read.LocationID) == "" {
		return "missing_location"
	}
	if read.ObservedAt.IsZero() {
		return "missing_timestamp"
	}
	if !read.Synthetic {
		if read.SignalStrength < cfg.MinSignal || read.SignalStrength > cfg.MaxSignal {
			return "signal_out_of_range"
		}
	}
	return ""
}
