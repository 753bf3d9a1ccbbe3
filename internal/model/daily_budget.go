package model

import "time"

// DailyBudget accumulates watched minutes for one profile on one calendar day
// in the profile's timezone. TotalMinutes only ever grows within a day;
// concurrent contributions land via an atomic upsert.
type DailyBudget struct {
	ProfileID    string    `db:"profile_id" json:"profileId"`
	WatchDate    string    `db:"watch_date" json:"date"`
	Timezone     string    `db:"timezone" json:"timezone"`
	TotalMinutes int       `db:"total_minutes" json:"totalMinutes"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// WatchDate renders t as a calendar day in tz. An unknown timezone falls
// back to UTC rather than failing the request.
func WatchDate(t time.Time, tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
