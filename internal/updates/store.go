package updates

import (
	"sync"
	"time"

	"tagstream/internal/model"
)

// Store is a bounded ring of recent location updates backing the
// /updates endpoint. History beyond the ring lives in the relational
// store, which is not this engine's to serve.
type Store struct {
	mu    sync.RWMutex
	buf   []model.LocationUpdate
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(update model.LocationUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, update)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = update
}

func (s *Store) List(limit int) []model.LocationUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.LocationUpdate, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.LocationUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.LocationUpdate, 0)
	for _, u := range s.buf {
		if !u.OccurredAt.Before(ts) {
			out = append(out, u)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}
