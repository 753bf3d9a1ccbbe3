package model

import "time"

// Profile is a child profile. Read-only to this service: profile CRUD is
// owned by the account management surface.
type Profile struct {
	ID                string    `db:"id" json:"id"`
	AccountID         string    `db:"account_id" json:"accountId"`
	Name              string    `db:"name" json:"name"`
	DailyLimitMinutes int       `db:"daily_limit_minutes" json:"dailyLimitMinutes"`
	Timezone          string    `db:"timezone" json:"timezone"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `db:"updated_at" json:"updatedAt"`
}
