package services

import (
	"sort"
	"time"

	"github.com/opbuddy121/fibre-joint-app/internal/models"
)

// HistoryLimit caps the History view. Older sessions stay in the store.
const HistoryLimit = 15

// View is one engineer's sessions split into work in progress and recent history.
type View struct {
	Active  []models.Session `json:"active"`
	History []models.Session `json:"history"`
}

// Classify partitions sessions by status and orders both halves, newest first.
// Active is ordered by start time; History by effective completion time and
// truncated to limit after ordering. Sessions with an unknown status are
// returned in skipped and appear in neither view.
func Classify(sessions []models.Session, limit int) (v View, skipped []models.Session) {
	v = View{Active: []models.Session{}, History: []models.Session{}}
	for _, s := range sessions {
		switch s.Status {
		case models.StatusActive:
			v.Active = append(v.Active, s)
		case models.StatusCompleted, models.StatusCancelled:
			v.History = append(v.History, s)
		default:
			skipped = append(skipped, s)
		}
	}

	sort.SliceStable(v.Active, func(i, j int) bool {
		return v.Active[i].StartTime.After(v.Active[j].StartTime)
	})
	sort.SliceStable(v.History, func(i, j int) bool {
		return EffectiveCompletionTime(v.History[i]).After(EffectiveCompletionTime(v.History[j]))
	})

	if limit >= 0 && len(v.History) > limit {
		v.History = v.History[:limit]
	}
	return v, skipped
}

// EffectiveCompletionTime is the instant a terminal session is ordered by:
// endTime when completed, cancelledAt when cancelled, then endTime, then startTime.
func EffectiveCompletionTime(s models.Session) time.Time {
	switch {
	case s.Status == models.StatusCompleted && s.EndTime != nil:
		return *s.EndTime
	case s.Status == models.StatusCancelled && s.CancelledAt != nil:
		return *s.CancelledAt
	case s.EndTime != nil:
		return *s.EndTime
	default:
		return s.StartTime
	}
}
