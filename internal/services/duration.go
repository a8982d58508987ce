package services

import (
	"fmt"
	"time"

	"github.com/opbuddy121/fibre-joint-app/internal/models"
)

// ElapsedMinutes is floor((end-start)/1m), never negative.
func ElapsedMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

func FormatMinutes(m int) string {
	if m < 0 {
		m = 0
	}
	if m >= 60 {
		return fmt.Sprintf("%dh %dm", m/60, m%60)
	}
	return fmt.Sprintf("%dm", m)
}

// DurationSoFar renders how long s has run. Active sessions are measured up
// to now, so callers must compute it on every read.
func DurationSoFar(s models.Session, now time.Time) string {
	end := now
	switch {
	case s.EndTime != nil:
		end = *s.EndTime
	case s.CancelledAt != nil:
		end = *s.CancelledAt
	}
	return FormatMinutes(ElapsedMinutes(s.StartTime, end))
}
