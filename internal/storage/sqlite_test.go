package storage

import (
	"context"
	"testing"
	"time"

	"tagstream/internal/model"
)

func openTestStore(t *testing.T) *sqliteStore {
	t.Helper()
	s, err := NewSQLite("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s.(*sqliteStore)
}

func TestSaveUpdateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := model.LocationUpdate{
		ID:         "u1",
		TagID:      "T1",
		LocationID: "L1",
		Kind:       model.KindMove,
		OccurredAt: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
	}
	if err := s.SaveUpdate(ctx, u); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Redelivery of the same decision must not duplicate the row.
	u.ID = "u1-redelivered"
	if err := s.SaveUpdate(ctx, u); err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM location_updates WHERE tag_id = 'T1'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows: %d", n)
	}
}

func TestTagStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := model.TagState{
		TagID:           "T1",
		LastLocationID:  "L1",
		LastSignal:      -58,
		LastAcceptedAt:  time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
		LastDailyMarkAt: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
		RawSeen:         7,
		Version:         3,
	}
	if err := s.SaveTagState(ctx, st); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, found, err := s.LoadTagState(ctx, "T1")
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if got.LastLocationID != "L1" || got.LastSignal != -58 || got.Version != 3 || got.RawSeen != 7 {
		t.Fatalf("round trip: %+v", got)
	}
	if !got.LastAcceptedAt.Equal(st.LastAcceptedAt) || !got.LastDailyMarkAt.Equal(st.LastDailyMarkAt) {
		t.Fatalf("timestamps: %+v", got)
	}
}

func TestStaleTagStateDoesNotOverwrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := model.TagState{
		TagID:          "T1",
		LastLocationID: "L2",
		LastAcceptedAt: time.Now().UTC(),
		Version:        5,
	}
	if err := s.SaveTagState(ctx, st); err != nil {
		t.Fatalf("save: %v", err)
	}
	stale := st
	stale.LastLocationID = "L1"
	stale.Version = 2
	if err := s.SaveTagState(ctx, stale); err != nil {
		t.Fatalf("stale save: %v", err)
	}
	got, _, err := s.LoadTagState(ctx, "T1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.LastLocationID != "L2" || got.Version != 5 {
		t.Fatalf("stale write applied: %+v", got)
	}
}

func TestListTagStates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i, tag := range []string{"T1", "T2"} {
		st := model.TagState{
			TagID:          tag,
			LastLocationID: "L1",
			LastAcceptedAt: time.Date(2026, 8, 30, 9, i, 0, 0, time.UTC),
			Version:        1,
		}
		if err := s.SaveTagState(ctx, st); err != nil {
			t.Fatalf("save %s: %v", tag, err)
		}
	}
	got, err := s.ListTagStates(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("listed %d states, want 2", len(got))
	}
	for _, st := range got {
		if st.LastLocationID != "L1" || st.LastAcceptedAt.IsZero() {
			t.Fatalf("listed state: %+v", st)
		}
	}
}

func TestLoadMissingTagState(t *testing.T) {
	s := openTestStore(t)
	_, found, err := s.LoadTagState(context.Background(), "nope")
	if err != nil || found {
		t.Fatalf("missing state: found=%v err=%v", found, err)
	}
}
