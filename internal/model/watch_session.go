package model

import (
	"time"
)

// WatchSession is one continuous viewing attempt. While active, EndedAt,
// DurationSeconds and StoppedReason are null; exactly one terminal write sets
// all three, enforced by a conditional update in the repository.
type WatchSession struct {
	ID              string         `db:"id" json:"id"`
	ProfileID       *string        `db:"profile_id" json:"profileId,omitempty"`
	VideoID         string         `db:"video_id" json:"videoId"`
	NfcChipID       *string        `db:"nfc_chip_id" json:"nfcChipId,omitempty"`
	StartedAt       time.Time      `db:"started_at" json:"startedAt"`
	EndedAt         *time.Time     `db:"ended_at" json:"endedAt,omitempty"`
	DurationSeconds *int           `db:"duration_seconds" json:"durationSeconds,omitempty"`
	StoppedReason   *StoppedReason `db:"stopped_reason" json:"stoppedReason,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"createdAt"`
}

// Active reports whether the session has not yet received its terminal write.
func (s *WatchSession) Active() bool {
	return s.EndedAt == nil
}

type CreateWatchSessionParams struct {
	ProfileID *string
	VideoID   string
	NfcChipID *string
	StartedAt time.Time
}
