package model

import "time"

// NfcChip binds a physical chip to a video and optionally to a profile.
// Chip registration is owned by the account management surface; the kiosk
// start flow only reads the binding to re-verify ownership.
type NfcChip struct {
	ID        string    `db:"id" json:"id"`
	UID       string    `db:"uid" json:"uid"`
	VideoID   string    `db:"video_id" json:"videoId"`
	ProfileID *string   `db:"profile_id" json:"profileId,omitempty"`
	Label     *string   `db:"label" json:"label,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
