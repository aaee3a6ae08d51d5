package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tagstream/internal/config"
	"tagstream/internal/engine"
	"tagstream/internal/metrics"
	"tagstream/internal/model"
	"tagstream/internal/state"
	"tagstream/internal/updates"
)

func testServer(t *testing.T) (*Server, *updates.Store, *metrics.StatusStore) {
	t.Helper()
	mgr := config.NewStaticManager(config.DefaultConfig())
	states, err := state.NewStore(1, 100, nil, nil)
	if err != nil {
		t.Fatalf("state store: %v", err)
	}
	recent := updates.NewStore(100)
	status := metrics.NewStatusStore()
	return &Server{
		cfg:     mgr,
		engine:  engine.NewEngine(mgr, states, nil, nil),
		status:  status,
		updates: recent,
		logger:  nil,
		version: "test",
		started: time.Now().UTC(),
	}, recent, status
}

func TestStatusEndpoint(t *testing.T) {
	s, _, status := testServer(t)
	status.Update(model.ReaderStatus{ReaderID: "dock-1", LocationID: "l1", State: model.ReaderReading})
	status.Update(model.ReaderStatus{ReaderID: "gate-2", LocationID: "l2", State: model.ReaderDisconnected})

	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "test" {
		t.Fatalf("response: %+v", resp)
	}
	if len(resp.Readers) != 2 || resp.Readers[0].ReaderID != "dock-1" {
		t.Fatalf("readers: %+v", resp.Readers)
	}
	if resp.Filter.Partitions != 8 {
		t.Fatalf("filter status: %+v", resp.Filter)
	}
}

func TestUpdatesEndpointLimitAndSince(t *testing.T) {
	s, recent, _ := testServer(t)
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		recent.Add(model.LocationUpdate{
			ID:         "u" + string(rune('0'+i)),
			TagID:      "T1",
			LocationID: "L1",
			Kind:       model.KindMove,
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	rec := httptest.NewRecorder()
	s.handleUpdates(rec, httptest.NewRequest(http.MethodGet, "/updates?limit=2", nil))
	var resp struct {
		Updates []model.LocationUpdate `json:"updates"`
		Count   int                    `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("limit ignored: %+v", resp)
	}

	rec = httptest.NewRecorder()
	s.handleUpdates(rec, httptest.NewRequest(http.MethodGet, "/updates?since="+base.Add(3*time.Minute).Format(time.RFC3339), nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("since filter: %+v", resp)
	}

	// limit caps a since query too, keeping the newest matches.
	rec = httptest.NewRecorder()
	s.handleUpdates(rec, httptest.NewRequest(http.MethodGet, "/updates?since="+base.Format(time.RFC3339)+"&limit=2", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 || !resp.Updates[1].OccurredAt.Equal(base.Add(4*time.Minute)) {
		t.Fatalf("since+limit: %+v", resp)
	}

	rec = httptest.NewRecorder()
	s.handleUpdates(rec, httptest.NewRequest(http.MethodGet, "/updates?since=notatime", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since accepted: %d", rec.Code)
	}
}

func TestHealthzDegradesWhenAllReadersDown(t *testing.T) {
	s, _, status := testServer(t)
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("no readers should be ok: %d", rec.Code)
	}

	status.Update(model.ReaderStatus{ReaderID: "r1", State: model.ReaderDisconnected})
	rec = httptest.NewRecorder()
	s.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("all readers down should degrade: %d", rec.Code)
	}

	status.Update(model.ReaderStatus{ReaderID: "r2", State: model.ReaderReading})
	rec = httptest.NewRecorder()
	s.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("one live reader should recover health: %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _, _ := testServer(t)
	rec := httptest.NewRecorder()
	s.handleUpdates(rec, httptest.NewRequest(http.MethodPost, "/updates", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST accepted: %d", rec.Code)
	}
}
