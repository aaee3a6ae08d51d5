package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine counters scraped by the external monitoring collaborator. The
// cardinality is deliberately small: per-reader and per-kind labels only.
var (
	ReadsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstream_reads_accepted_total",
			Help: "Reads that produced a location update",
		},
		[]string{"kind"},
	)

	ReadsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagstream_reads_deduplicated_total",
			Help: "Reads suppressed as duplicates inside the dedup window",
		},
	)

	ReadsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstream_reads_rejected_total",
			Help: "Reads discarded as invalid",
		},
		[]string{"reason"},
	)

	ReadsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstream_reads_dropped_total",
			Help: "Reads dropped under overload, by stage",
		},
		[]string{"stage"},
	)

	DailyHeartbeats = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagstream_daily_heartbeats_total",
			Help: "Synthesized or confirmed daily presence events",
		},
	)

	ReaderConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagstream_reader_connected",
			Help: "1 while the reader session is connected, 0 otherwise",
		},
		[]string{"reader_id"},
	)

	ReaderReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstream_reader_reconnects_total",
			Help: "Reconnect attempts per reader",
		},
		[]string{"reader_id"},
	)

	EmitQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagstream_emit_queue_depth",
			Help: "Updates waiting in the outbound emission queue",
		},
	)

	EmitRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstream_emit_retries_total",
			Help: "Delivery retries per sink",
		},
		[]string{"sink"},
	)

	UpdatesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstream_updates_delivered_total",
			Help: "Location updates confirmed by each sink",
		},
		[]string{"sink"},
	)

	StateReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstream_state_reloads_total",
			Help: "Tag state reloads from the backing store after eviction",
		},
		[]string{"result"},
	)
)
