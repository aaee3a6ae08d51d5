package metrics

import (
	"sort"
	"sync"
	"time"

	"tagstream/internal/model"
)

// StatusStore keeps the latest connection status per reader for the
// status API. Counter-style observability goes through prometheus; this
// store exists so /status can answer without scraping.
type StatusStore struct {
	mu        sync.RWMutex
	byReader  map[string]model.ReaderStatus
	updatedAt map[string]time.Time
}

func NewStatusStore() *StatusStore {
	return &StatusStore{
		byReader:  make(map[string]model.ReaderStatus),
		updatedAt: make(map[string]time.Time),
	}
}

func (s *StatusStore) Update(st model.ReaderStatus) {
	if st.ReaderID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byReader[st.ReaderID] = st
	s.updatedAt[st.ReaderID] = time.Now().UTC()

	switch st.State {
	case model.ReaderConnected, model.ReaderReading:
		ReaderConnected.WithLabelValues(st.ReaderID).Set(1)
	default:
		ReaderConnected.WithLabelValues(st.ReaderID).Set(0)
	}
}

func (s *StatusStore) Get(readerID string) (model.ReaderStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byReader[readerID]
	return st, ok
}

func (s *StatusStore) All() []model.ReaderStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ReaderStatus, 0, len(s.byReader))
	for _, st := range s.byReader {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReaderID < out[j].ReaderID })
	return out
}

func (s *StatusStore) Disconnected() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, st := range s.byReader {
		if st.State == model.ReaderDisconnected || st.State == model.ReaderConnecting {
			n++
		}
	}
	return n
}
