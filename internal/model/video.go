package model

import "time"

// Video is a catalog entry. Read-only to this service; only DurationSeconds
// is consumed (playback position bound checks).
type Video struct {
	ID              string    `db:"id" json:"id"`
	Title           string    `db:"title" json:"title"`
	DurationSeconds int       `db:"duration_seconds" json:"durationSeconds"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}
