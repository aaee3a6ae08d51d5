package router

import (
	"context"
	"encoding/binary"
	"log/slog"

	"tagstream/internal/metrics"
	"tagstream/internal/model"
)

// Router fans reads from all adapters into a fixed set of partition
// queues. Partition choice depends only on the tag id, so every read of
// one tag is processed by the same filter worker, in arrival order.
type Router struct {
	queues []chan model.RawRead
	logger *slog.Logger
}

func New(partitions, depth int, logger *slog.Logger) *Router {
	if partitions <= 0 {
		partitions = 1
	}
	if depth <= 0 {
		depth = 1024
	}
	r := &Router{
		queues: make([]chan model.RawRead, partitions),
		logger: logger,
	}
	for i := range r.queues {
		r.queues[i] = make(chan model.RawRead, depth)
	}
	return r
}

func (r *Router) Partitions() int {
	return len(r.queues)
}

func (r *Router) Partition(tagID string) int {
	return int(murmur2([]byte(tagID)) % uint32(len(r.queues)))
}

// Route delivers the read to its partition queue. A full queue sheds the
// oldest queued read rather than stalling the adapter that produced this
// one; the shed read is counted, never silently lost from metrics.
func (r *Router) Route(ctx context.Context, read model.RawRead) bool {
	q := r.queues[r.Partition(read.TagID)]
	for {
		select {
		case q <- read:
			return true
		case <-ctx.Done():
			return false
		default:
		}
		select {
		case dropped := <-q:
			metrics.ReadsDropped.WithLabelValues("router").Inc()
			if r.logger != nil {
				r.logger.Warn("partition queue full, dropping oldest read",
					"tag_id", dropped.TagID, "reader_id", dropped.ReaderID)
			}
		default:
		}
	}
}

func (r *Router) Queue(partition int) <-chan model.RawRead {
	return r.queues[partition%len(r.queues)]
}

// murmur2 is the Java-compatible Murmur2 used by Kafka's default
// partitioner, masked to a positive 32-bit value. Keeping the same hash
// means the outbound Kafka topic can mirror the engine's partitioning.
func murmur2(key []byte) uint32 {
	const (
		seed = 0x9747b28c
		m    = 0x5bd1e995
		r    = 24
	)

	h := uint32(seed ^ len(key))
	data := key

	for len(data) >= 4 {
		k := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]

		k *= m
		k ^= k >> r
		k *= m

		h *= m
		h ^= k
	}

	switch len(data) {
	case 3:
		h ^= uint32(data[2]) << 16
		fallthrough
	case 2:
		h ^= uint32(data[1]) << 8
		fallthrough
	case 1:
		h ^= uint32(data[0])
		h *= m
	}

	h ^= h >> 13
	h *= m
	h ^= h >> 15

	return h & 0x7fffffff
}
