package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kidflix/watch-server-go/internal/model"
)

// DailyBudgetRepository accumulates watched minutes per (profile, day).
type DailyBudgetRepository interface {
	// Commit adds minutes to the day's total, creating the row on first
	// contribution. The addition happens inside a single upsert so that
	// concurrent session terminations for the same profile/day never lose an
	// update. Returns the new total.
	Commit(ctx context.Context, profileID, watchDate, timezone string, minutes int) (int, error)
	// GetTotal returns the committed total for the day, 0 if no row exists.
	GetTotal(ctx context.Context, profileID, watchDate string) (int, error)
	Find(ctx context.Context, profileID, watchDate string) (*model.DailyBudget, error)
	// DeleteOlderThan prunes budget rows whose watch_date is before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) DailyBudgetRepository
}

type dailyBudgetRepo struct {
	db sqlxDB
}

func NewDailyBudgetRepository(db *sqlx.DB) DailyBudgetRepository {
	return &dailyBudgetRepo{db: db}
}

func (r *dailyBudgetRepo) WithTx(tx *sqlx.Tx) DailyBudgetRepository {
	return &dailyBudgetRepo{db: tx}
}

func (r *dailyBudgetRepo) Commit(ctx context.Context, profileID, watchDate, timezone string, minutes int) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `
		INSERT INTO daily_budgets (profile_id, watch_date, timezone, total_minutes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (profile_id, watch_date) DO UPDATE SET
			total_minutes = daily_budgets.total_minutes + EXCLUDED.total_minutes,
			updated_at = NOW()
		RETURNING total_minutes
	`, profileID, watchDate, timezone, minutes)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *dailyBudgetRepo) GetTotal(ctx context.Context, profileID, watchDate string) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `
		SELECT total_minutes FROM daily_budgets
		WHERE profile_id = $1 AND watch_date = $2
	`, profileID, watchDate)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *dailyBudgetRepo) Find(ctx context.Context, profileID, watchDate string) (*model.DailyBudget, error) {
	var budget model.DailyBudget
	err := r.db.GetContext(ctx, &budget, `
		SELECT * FROM daily_budgets
		WHERE profile_id = $1 AND watch_date = $2
	`, profileID, watchDate)
	return HandleNotFound(&budget, err)
}

func (r *dailyBudgetRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM daily_budgets WHERE watch_date < $1
	`, cutoff.Format("2006-01-02"))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
