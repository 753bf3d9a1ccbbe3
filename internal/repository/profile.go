package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/kidflix/watch-server-go/internal/model"
)

// ProfileRepository is read-only: profile CRUD lives in the account
// management surface.
type ProfileRepository interface {
	FindByID(ctx context.Context, id string) (*model.Profile, error)
}

type profileRepo struct {
	db sqlxDB
}

func NewProfileRepository(db *sqlx.DB) ProfileRepository {
	return &profileRepo{db: db}
}

func (r *profileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	var profile model.Profile
	err := r.db.GetContext(ctx, &profile, `
		SELECT * FROM profiles WHERE id = $1
	`, id)
	return HandleNotFound(&profile, err)
}
