package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tagstream/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:tagstream.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS location_updates (
			id TEXT PRIMARY KEY,
			tag_id TEXT NOT NULL,
			location_id TEXT NOT NULL,
			previous_location_id TEXT,
			kind TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			UNIQUE (tag_id, occurred_at, kind)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_updates_tag ON location_updates(tag_id, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS tag_states (
			tag_id TEXT PRIMARY KEY,
			last_location_id TEXT NOT NULL,
			last_signal INTEGER NOT NULL,
			last_accepted_at TEXT NOT NULL,
			last_daily_mark_at TEXT,
			raw_seen INTEGER NOT NULL,
			version INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveUpdate(ctx context.Context, update model.LocationUpdate) error {
	if s.db == nil {
		return nil
	}
	// Redelivery after an emitter retry collides on the idempotency
	// columns with identical values; the upsert keeps the second write
	// harmless.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO location_updates (id, tag_id, location_id, previous_location_id, kind, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tag_id, occurred_at, kind) DO UPDATE SET
			location_id = excluded.location_id,
			previous_location_id = excluded.previous_location_id`,
		update.ID,
		update.TagID,
		update.LocationID,
		nullable(update.PreviousLocationID),
		string(update.Kind),
		update.OccurredAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) SaveTagState(ctx context.Context, state model.TagState) error {
	if s.db == nil || state.TagID == "" {
		return nil
	}
	var daily any
	if !state.LastDailyMarkAt.IsZero() {
		daily = state.LastDailyMarkAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tag_states (tag_id, last_location_id, last_signal, last_accepted_at, last_daily_mark_at, raw_seen, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tag_id) DO UPDATE SET
			last_location_id = excluded.last_location_id,
			last_signal = excluded.last_signal,
			last_accepted_at = excluded.last_accepted_at,
			last_daily_mark_at = excluded.last_daily_mark_at,
			raw_seen = excluded.raw_seen,
			version = excluded.version
		WHERE excluded.version >= tag_states.version`,
		state.TagID,
		state.LastLocationID,
		state.LastSignal,
		state.LastAcceptedAt.UTC().Format(time.RFC3339Nano),
		daily,
		state.RawSeen,
		state.Version,
	)
	return err
}

func (s *sqliteStore) ListTagStates(ctx context.Context) ([]model.TagState, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag_id, last_location_id, last_signal, last_accepted_at, last_daily_mark_at, raw_seen, version
		FROM tag_states`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TagState
	for rows.Next() {
		var (
			st       model.TagState
			accepted string
			daily    sql.NullString
		)
		if err := rows.Scan(&st.TagID, &st.LastLocationID, &st.LastSignal, &accepted, &daily, &st.RawSeen, &st.Version); err != nil {
			return nil, err
		}
		if st.LastAcceptedAt, err = time.Parse(time.RFC3339Nano, accepted); err != nil {
			return nil, err
		}
		if daily.Valid {
			if st.LastDailyMarkAt, err = time.Parse(time.RFC3339Nano, daily.String); err != nil {
				return nil, err
			}
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LoadTagState(ctx context.Context, tagID string) (model.TagState, bool, error) {
	if s.db == nil || tagID == "" {
		return model.TagState{}, false, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT last_location_id, last_signal, last_accepted_at, last_daily_mark_at, raw_seen, version
		FROM tag_states WHERE tag_id = ?`, tagID)
	var (
		st       model.TagState
		accepted string
		daily    sql.NullString
	)
	st.TagID = tagID
	err := row.Scan(&st.LastLocationID, &st.LastSignal, &accepted, &daily, &st.RawSeen, &st.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TagState{}, false, nil
	}
	if err != nil {
		return model.TagState{}, false, err
	}
	if st.LastAcceptedAt, err = time.Parse(time.RFC3339Nano, accepted); err != nil {
		return model.TagState{}, false, err
	}
	if daily.Valid {
		if st.LastDailyMarkAt, err = time.Parse(time.RFC3339Nano, daily.String); err != nil {
			return model.TagState{}, false, err
		}
	}
	return st, true, nil
}
