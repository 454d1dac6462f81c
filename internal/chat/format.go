package chat

import "time"

// FormatMessageTime renders a message timestamp as HH:mm.
//
// Timestamps are interpreted as UTC wall-clock values and displayed
// without local-timezone shifting: the backend's displayed time
// represents the server's own clock, not the viewer's.
func FormatMessageTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("15:04")
}

// FormatMessageStamp renders a full date and time, also in UTC.
func FormatMessageStamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}
