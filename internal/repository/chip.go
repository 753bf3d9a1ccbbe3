package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/kidflix/watch-server-go/internal/model"
)

// ChipRepository reads chip bindings for the kiosk start flow. Registration
// and ownership CRUD are owned elsewhere.
type ChipRepository interface {
	FindByUID(ctx context.Context, uid string) (*model.NfcChip, error)
}

type chipRepo struct {
	db sqlxDB
}

func NewChipRepository(db *sqlx.DB) ChipRepository {
	return &chipRepo{db: db}
}

func (r *chipRepo) FindByUID(ctx context.Context, uid string) (*model.NfcChip, error) {
	var chip model.NfcChip
	err := r.db.GetContext(ctx, &chip, `
		SELECT * FROM nfc_chips WHERE uid = $1
	`, uid)
	return HandleNotFound(&chip, err)
}
