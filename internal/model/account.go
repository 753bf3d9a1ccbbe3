package model

import (
	"time"
)

// Account is a parent account authenticated by an API token. Collaborator
// only: the auth middleware resolves it so handlers can check profile
// ownership before the session core is invoked.
type Account struct {
	ID              string     `db:"id" json:"id"`
	Email           string     `db:"email" json:"email"`
	APITokenHash    *string    `db:"api_token_hash" json:"-"`
	RateLimitPerMin int        `db:"rate_limit_per_minute" json:"rateLimitPerMinute"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
	DisabledAt      *time.Time `db:"disabled_at" json:"disabledAt,omitempty"`
}
