package views

import (
	"strings"
	"time"
)

// formatTimestamp shows the time for today and the date otherwise.
func formatTimestamp(t time.Time, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now = now.Local()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// typingLine renders who is typing, leaving out the local user.
func typingLine(users []string, self string) string {
	var others []string
	for _, u := range users {
		if u != self {
			others = append(others, u)
		}
	}
	switch len(others) {
	case 0:
		return ""
	case 1:
		return others[0] + " is typing…"
	default:
		return strings.Join(others, ", ") + " are typing…"
	}
}
