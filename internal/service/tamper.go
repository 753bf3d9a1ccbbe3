package service

// DefaultPositionTolerance is the slack allowed between a client-reported
// playback position and the known video duration, in seconds.
const DefaultPositionTolerance = 10

// ValidatePosition bounds a client-reported playback position against the
// video duration. Purely defensive: a rejected position yields a validation
// error, an accepted one is only ever echoed back to the UI. Billed time
// always comes from the server-clock delta in the session ledger.
func ValidatePosition(reportedSeconds, videoDurationSeconds, toleranceSeconds int) bool {
	if reportedSeconds < 0 {
		return false
	}
	return reportedSeconds <= videoDurationSeconds+toleranceSeconds
}
