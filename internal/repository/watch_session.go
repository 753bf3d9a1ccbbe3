package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/kidflix/watch-server-go/internal/model"
)

// WatchSessionRepository is the session ledger. A session row is inserted by
// Create, read by every heartbeat, and mutated exactly once by End.
type WatchSessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.WatchSession, error)
	FindByProfileID(ctx context.Context, profileID string, limit, offset int) ([]model.WatchSession, error)
	CountByProfileID(ctx context.Context, profileID string) (int, error)
	Create(ctx context.Context, params model.CreateWatchSessionParams) (*model.WatchSession, error)
	// End performs the terminal write. It returns the updated row, or nil if
	// the session was already terminal (or never existed) — the guard is the
	// conditional predicate in SQL, not an application lock, so any number of
	// concurrent End calls resolve to exactly one mutation.
	End(ctx context.Context, id string, reason model.StoppedReason) (*model.WatchSession, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) WatchSessionRepository
}

type watchSessionRepo struct {
	db sqlxDB
}

func NewWatchSessionRepository(db *sqlx.DB) WatchSessionRepository {
	return &watchSessionRepo{db: db}
}

func (r *watchSessionRepo) WithTx(tx *sqlx.Tx) WatchSessionRepository {
	return &watchSessionRepo{db: tx}
}

func (r *watchSessionRepo) FindByID(ctx context.Context, id string) (*model.WatchSession, error) {
	var session model.WatchSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM watch_sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *watchSessionRepo) FindByProfileID(ctx context.Context, profileID string, limit, offset int) ([]model.WatchSession, error) {
	sessions := []model.WatchSession{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM watch_sessions
		WHERE profile_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`, profileID, limit, offset)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *watchSessionRepo) CountByProfileID(ctx context.Context, profileID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM watch_sessions WHERE profile_id = $1
	`, profileID)
	return count, err
}

func (r *watchSessionRepo) Create(ctx context.Context, params model.CreateWatchSessionParams) (*model.WatchSession, error) {
	var session model.WatchSession
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO watch_sessions (profile_id, video_id, nfc_chip_id, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.ProfileID, params.VideoID, params.NfcChipID, params.StartedAt)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *watchSessionRepo) End(ctx context.Context, id string, reason model.StoppedReason) (*model.WatchSession, error) {
	// ended_at and duration_seconds come from the database clock so that all
	// racing callers would compute the same values; the WHERE predicate lets
	// only the first one through.
	var session model.WatchSession
	err := r.db.GetContext(ctx, &session, `
		UPDATE watch_sessions SET
			ended_at = NOW(),
			duration_seconds = FLOOR(EXTRACT(EPOCH FROM (NOW() - started_at)))::int,
			stopped_reason = $2
		WHERE id = $1 AND ended_at IS NULL
		RETURNING *
	`, id, reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}
