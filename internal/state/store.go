package state

import (
	"context"
	"errors"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"tagstream/internal/metrics"
	"tagstream/internal/model"
	"tagstream/internal/storage"
)

// ErrVersionConflict means the entry changed between GetOrCreate and
// Commit. With one writer per shard this only happens after a decision
// was interrupted mid-flight; the caller re-reads and decides again.
var ErrVersionConflict = errors.New("tag state version conflict")

// Store holds one shard per router partition. Each shard is written only
// by its partition's filter worker, so shard access needs no locking
// beyond what the cache provides internally.
type Store struct {
	shards  []*Shard
	backing storage.Store
	logger  *slog.Logger
}

func NewStore(partitions, cacheSize int, backing storage.Store, logger *slog.Logger) (*Store, error) {
	if partitions <= 0 {
		partitions = 1
	}
	if cacheSize <= 0 {
		cacheSize = 100000
	}
	s := &Store{shards: make([]*Shard, partitions), backing: backing, logger: logger}
	for i := range s.shards {
		shard, err := newShard(cacheSize, backing, logger)
		if err != nil {
			return nil, err
		}
		s.shards[i] = shard
	}
	return s, nil
}

func (s *Store) Shard(partition int) *Shard {
	return s.shards[partition%len(s.shards)]
}

func (s *Store) Partitions() int {
	return len(s.shards)
}

// Snapshot copies every known tag state: resident cache entries plus
// backing-store rows for tags the cache has evicted. Under memory
// pressure the evicted entries are the cold, stationary tags the sweep
// most needs to see. Resident entries win on overlap; they are at least
// as new as their write-through row.
func (s *Store) Snapshot(ctx context.Context) []model.TagState {
	var out []model.TagState
	resident := make(map[string]struct{})
	for _, shard := range s.shards {
		for _, st := range shard.snapshot() {
			resident[st.TagID] = struct{}{}
			out = append(out, st)
		}
	}
	if s.backing != nil {
		rows, err := s.backing.ListTagStates(ctx)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("tag state bulk list failed, snapshot covers resident entries only", "err", err)
			}
			return out
		}
		for _, st := range rows {
			if _, ok := resident[st.TagID]; !ok {
				out = append(out, st)
			}
		}
	}
	return out
}

type Shard struct {
	cache   *lru.Cache[string, model.TagState]
	backing storage.Store
	logger  *slog.Logger
}

func newShard(cacheSize int, backing storage.Store, logger *slog.Logger) (*Shard, error) {
	sh := &Shard{backing: backing, logger: logger}
	cache, err := lru.NewWithEvict(cacheSize, sh.onEvict)
	if err != nil {
		return nil, err
	}
	sh.cache = cache
	return sh, nil
}

func (sh *Shard) onEvict(tagID string, st model.TagState) {
	// Cold entries already reached the backing store through Commit's
	// write-through; without a backing store the next read for this tag
	// re-establishes state as unseen.
	if sh.backing == nil && sh.logger != nil {
		sh.logger.Warn("evicting tag state without backing store", "tag_id", tagID)
	}
}

// GetOrCreate returns the current state for the tag, reloading an
// evicted entry from the backing store first. A failed or corrupt reload
// yields a fresh state rather than an error: the engine re-establishes
// position from the next good read.
func (sh *Shard) GetOrCreate(ctx context.Context, tagID string) model.TagState {
	if st, ok := sh.cache.Get(tagID); ok {
		return st
	}
	if sh.backing != nil {
		st, found, err := sh.backing.LoadTagState(ctx, tagID)
		if err != nil {
			metrics.StateReloads.WithLabelValues("error").Inc()
			if sh.logger != nil {
				sh.logger.Warn("tag state reload failed, treating as unseen", "tag_id", tagID, "err", err)
			}
		} else if found {
			metrics.StateReloads.WithLabelValues("hit").Inc()
			sh.cache.Add(tagID, st)
			return st
		}
	}
	return model.TagState{TagID: tagID}
}

// Commit stores the updated state if it still carries the expected
// version, bumps the version, and writes through to the backing store.
func (sh *Shard) Commit(ctx context.Context, st model.TagState, expectedVersion uint64) error {
	if current, ok := sh.cache.Get(st.TagID); ok && current.Version != expectedVersion {
		return ErrVersionConflict
	}
	st.Version = expectedVersion + 1
	sh.cache.Add(st.TagID, st)
	if sh.backing != nil {
		if err := sh.backing.SaveTagState(ctx, st); err != nil && sh.logger != nil {
			// The in-memory state is authoritative; persistence catches
			// up on the next commit for this tag.
			sh.logger.Warn("tag state write-through failed", "tag_id", st.TagID, "err", err)
		}
	}
	return nil
}

// Touch records a raw sighting without changing decision state.
func (sh *Shard) Touch(tagID string) {
	if st, ok := sh.cache.Get(tagID); ok {
		st.RawSeen++
		sh.cache.Add(tagID, st)
	}
}

func (sh *Shard) snapshot() []model.TagState {
	keys := sh.cache.Keys()
	out := make([]model.TagState, 0, len(keys))
	for _, k := range keys {
		if st, ok := sh.cache.Peek(k); ok {
			out = append(out, st)
		}
	}
	return out
}
