package model

// StoppedReason records why a watch session was terminated.
type StoppedReason string

const (
	StoppedManual     StoppedReason = "manual"
	StoppedTimeLimit  StoppedReason = "time_limit"
	StoppedDailyLimit StoppedReason = "daily_limit"
	StoppedSwipeExit  StoppedReason = "swipe_exit"
	StoppedError      StoppedReason = "error"
)

// StoppedReasons lists every valid terminal reason, for request validation.
var StoppedReasons = []string{
	string(StoppedManual),
	string(StoppedTimeLimit),
	string(StoppedDailyLimit),
	string(StoppedSwipeExit),
	string(StoppedError),
}
