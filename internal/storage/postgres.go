package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tagstream/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/tagstream?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
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
			occurred_at TIMESTAMPTZ NOT NULL,
			UNIQUE (tag_id, occurred_at, kind)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_updates_tag ON location_updates(tag_id, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS tag_states (
			tag_id TEXT PRIMARY KEY,
			last_location_id TEXT NOT NULL,
			last_signal INTEGER NOT NULL,
			last_accepted_at TIMESTAMPTZ NOT NULL,
			last_daily_mark_at TIMESTAMPTZ,
			raw_seen BIGINT NOT NULL,
			version BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveUpdate(ctx context.Context, update model.LocationUpdate) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO location_updates (id, tag_id, location_id, previous_location_id, kind, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tag_id, occurred_at, kind) DO UPDATE SET
			location_id = excluded.location_id,
			previous_location_id = excluded.previous_location_id`,
		update.ID,
		update.TagID,
		update.LocationID,
		nullable(update.PreviousLocationID),
		string(update.Kind),
		update.OccurredAt.UTC(),
	)
	return err
}

func (s *postgresStore) SaveTagState(ctx context.Context, state model.TagState) error {
	if s.db == nil || state.TagID == "" {
		return nil
	}
	var daily any
	if !state.LastDailyMarkAt.IsZero() {
		daily = state.LastDailyMarkAt.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tag_states (tag_id, last_location_id, last_signal, last_accepted_at, last_daily_mark_at, raw_seen, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
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
		state.LastAcceptedAt.UTC(),
		daily,
		state.RawSeen,
		state.Version,
	)
	return err
}

func (s *postgresStore) ListTagStates(ctx context.Context) ([]model.TagState, error) {
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
			st    model.TagState
			daily sql.NullTime
		)
		if err := rows.Scan(&st.TagID, &st.LastLocationID, &st.LastSignal, &st.LastAcceptedAt, &daily, &st.RawSeen, &st.Version); err != nil {
			return nil, err
		}
		if daily.Valid {
			st.LastDailyMarkAt = daily.Time
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *postgresStore) LoadTagState(ctx context.Context, tagID string) (model.TagState, bool, error) {
	if s.db == nil || tagID == "" {
		return model.TagState{}, false, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT last_location_id, last_signal, last_accepted_at, last_daily_mark_at, raw_seen, version
		FROM tag_states WHERE tag_id = $1`, tagID)
	var (
		st    model.TagState
		daily sql.NullTime
	)
	st.TagID = tagID
	err := row.Scan(&st.LastLocationID, &st.LastSignal, &st.LastAcceptedAt, &daily, &st.RawSeen, &st.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TagState{}, false, nil
	}
	if err != nil {
		return model.TagState{}, false, err
	}
	if daily.Valid {
		st.LastDailyMarkAt = daily.Time
	}
	return st, true, nil
}
