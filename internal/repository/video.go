package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/kidflix/watch-server-go/internal/model"
)

// VideoRepository is read-only: the catalog is owned elsewhere.
type VideoRepository interface {
	FindByID(ctx context.Context, id string) (*model.Video, error)
}

type videoRepo struct {
	db sqlxDB
}

func NewVideoRepository(db *sqlx.DB) VideoRepository {
	return &videoRepo{db: db}
}

func (r *videoRepo) FindByID(ctx context.Context, id string) (*model.Video, error) {
	var video model.Video
	err := r.db.GetContext(ctx, &video, `
		SELECT * FROM videos WHERE id = $1
	`, id)
	return HandleNotFound(&video, err)
}
