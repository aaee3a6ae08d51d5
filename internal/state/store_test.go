package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"tagstream/internal/model"
)

type fakeBacking struct {
	states  map[string]model.TagState
	updates []model.LocationUpdate
	loadErr error
	saves   int
}

func newFakeBacking() *fakeBacking {
	return &fakeBacking{states: make(map[string]model.TagState)}
}

func (f *fakeBacking) Init(context.Context) error { return nil }
func (f *fakeBacking) Close() error               { return nil }

func (f *fakeBacking) SaveUpdate(_ context.Context, u model.LocationUpdate) error {
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakeBacking) SaveTagState(_ context.Context, st model.TagState) error {
	f.saves++
	f.states[st.TagID] = st
	return nil
}

func (f *fakeBacking) LoadTagState(_ context.Context, tagID string) (model.TagState, bool, error) {
	if f.loadErr != nil {
		return model.TagState{}, false, f.loadErr
	}
	st, ok := f.states[tagID]
	return st, ok, nil
}

func (f *fakeBacking) ListTagStates(context.Context) ([]model.TagState, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make([]model.TagState, 0, len(f.states))
	for _, st := range f.states {
		out = append(out, st)
	}
	return out, nil
}

func TestGetOrCreateReturnsFreshStateForUnseenTag(t *testing.T) {
	store, err := NewStore(2, 10, nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	st := store.Shard(0).GetOrCreate(context.Background(), "T1")
	if st.TagID != "T1" || st.Version != 0 || !st.LastAcceptedAt.IsZero() {
		t.Fatalf("unexpected fresh state: %+v", st)
	}
}

func TestCommitBumpsVersionAndWritesThrough(t *testing.T) {
	backing := newFakeBacking()
	store, err := NewStore(1, 10, backing, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	sh := store.Shard(0)

	st := sh.GetOrCreate(ctx, "T1")
	st.LastLocationID = "L1"
	st.LastAcceptedAt = time.Now().UTC()
	if err := sh.Commit(ctx, st, st.Version); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got := sh.GetOrCreate(ctx, "T1")
	if got.Version != 1 || got.LastLocationID != "L1" {
		t.Fatalf("committed state: %+v", got)
	}
	if backing.saves != 1 {
		t.Fatalf("write-through saves: %d", backing.saves)
	}
}

func TestCommitDetectsVersionConflict(t *testing.T) {
	store, _ := NewStore(1, 10, nil, nil)
	ctx := context.Background()
	sh := store.Shard(0)

	st := sh.GetOrCreate(ctx, "T1")
	st.LastLocationID = "L1"
	if err := sh.Commit(ctx, st, 0); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	// A commit based on the stale version must be refused.
	stale := st
	stale.LastLocationID = "L9"
	if err := sh.Commit(ctx, stale, 0); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if got := sh.GetOrCreate(ctx, "T1"); got.LastLocationID != "L1" {
		t.Fatalf("stale commit applied: %+v", got)
	}
}

func TestEvictedStateReloadsFromBacking(t *testing.T) {
	backing := newFakeBacking()
	store, _ := NewStore(1, 2, backing, nil)
	ctx := context.Background()
	sh := store.Shard(0)

	st := sh.GetOrCreate(ctx, "T1")
	st.LastLocationID = "L1"
	st.LastAcceptedAt = time.Now().UTC()
	if err := sh.Commit(ctx, st, 0); err != nil {
		t.Fatalf("commit: %v", err)
	}
	// Push T1 out of the two-entry cache.
	for _, tag := range []string{"T2", "T3"} {
		s := sh.GetOrCreate(ctx, tag)
		s.LastLocationID = "LX"
		if err := sh.Commit(ctx, s, 0); err != nil {
			t.Fatalf("commit %s: %v", tag, err)
		}
	}
	got := sh.GetOrCreate(ctx, "T1")
	if got.LastLocationID != "L1" || got.Version != 1 {
		t.Fatalf("reload after eviction: %+v", got)
	}
}

func TestReloadFailureTreatedAsUnseen(t *testing.T) {
	backing := newFakeBacking()
	backing.loadErr = errors.New("corrupt row")
	store, _ := NewStore(1, 10, backing, nil)

	st := store.Shard(0).GetOrCreate(context.Background(), "T1")
	if st.TagID != "T1" || !st.LastAcceptedAt.IsZero() {
		t.Fatalf("expected fresh state on load failure, got %+v", st)
	}
}

func TestSnapshotCoversAllShards(t *testing.T) {
	store, _ := NewStore(4, 10, nil, nil)
	ctx := context.Background()
	tags := []string{"A", "B", "C", "D", "E"}
	for i, tag := range tags {
		sh := store.Shard(i % 4)
		st := sh.GetOrCreate(ctx, tag)
		st.LastLocationID = "L"
		st.LastAcceptedAt = time.Now().UTC()
		if err := sh.Commit(ctx, st, 0); err != nil {
			t.Fatalf("commit %s: %v", tag, err)
		}
	}
	snap := store.Snapshot(ctx)
	if len(snap) != len(tags) {
		t.Fatalf("snapshot size %d, want %d", len(snap), len(tags))
	}
}

func TestSnapshotIncludesEvictedStates(t *testing.T) {
	backing := newFakeBacking()
	store, _ := NewStore(1, 2, backing, nil)
	ctx := context.Background()
	sh := store.Shard(0)

	for _, tag := range []string{"T1", "T2", "T3"} {
		st := sh.GetOrCreate(ctx, tag)
		st.LastLocationID = "L-" + tag
		st.LastAcceptedAt = time.Now().UTC()
		if err := sh.Commit(ctx, st, 0); err != nil {
			t.Fatalf("commit %s: %v", tag, err)
		}
	}
	// T1 fell out of the two-entry cache; its write-through row must
	// still appear exactly once in the snapshot.
	snap := store.Snapshot(ctx)
	byTag := make(map[string]model.TagState, len(snap))
	for _, st := range snap {
		if _, dup := byTag[st.TagID]; dup {
			t.Fatalf("tag %s snapshotted twice", st.TagID)
		}
		byTag[st.TagID] = st
	}
	if len(byTag) != 3 {
		t.Fatalf("snapshot covers %d tags, want 3", len(byTag))
	}
	if got := byTag["T1"]; got.LastLocationID != "L-T1" || got.Version != 1 {
		t.Fatalf("evicted entry: %+v", got)
	}
}
