package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/opbuddy121/fibre-joint-app/internal/models"
)

var base = time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

func at(min int) *time.Time {
	t := base.Add(time.Duration(min) * time.Minute)
	return &t
}

func session(status models.SessionStatus, startMin int) models.Session {
	return models.Session{
		ID:        primitive.NewObjectID(),
		Status:    status,
		StartTime: *at(startMin),
	}
}

func TestClassifyPartitionsByStatus(t *testing.T) {
	active := session(models.StatusActive, 0)
	done := session(models.StatusCompleted, 0)
	done.EndTime = at(10)
	cancelled := session(models.StatusCancelled, 0)
	cancelled.CancelledAt = at(5)
	cancelled.EndTime = at(5)
	odd := session("paused", 0)

	v, skipped := Classify([]models.Session{done, odd, active, cancelled}, HistoryLimit)

	require.Len(t, v.Active, 1)
	assert.Equal(t, active.ID, v.Active[0].ID)
	require.Len(t, v.History, 2)
	assert.Equal(t, done.ID, v.History[0].ID)
	assert.Equal(t, cancelled.ID, v.History[1].ID)
	require.Len(t, skipped, 1)
	assert.Equal(t, odd.ID, skipped[0].ID)
}

func TestClassifyEmptyGivesNonNilViews(t *testing.T) {
	v, skipped := Classify(nil, HistoryLimit)
	assert.NotNil(t, v.Active)
	assert.NotNil(t, v.History)
	assert.Empty(t, skipped)
}

func TestClassifyOrdersActiveByStartDescending(t *testing.T) {
	a := session(models.StatusActive, 0)
	b := session(models.StatusActive, 30)
	c := session(models.StatusActive, 15)
	tie := session(models.StatusActive, 15)

	v, _ := Classify([]models.Session{a, b, c, tie}, HistoryLimit)

	ids := []primitive.ObjectID{v.Active[0].ID, v.Active[1].ID, v.Active[2].ID, v.Active[3].ID}
	assert.Equal(t, []primitive.ObjectID{b.ID, c.ID, tie.ID, a.ID}, ids, "ties keep input order")
}

func TestClassifyOrdersHistoryByEffectiveCompletionTime(t *testing.T) {
	// started late, finished early
	early := session(models.StatusCompleted, 100)
	early.EndTime = at(110)

	// started early, cancelled late
	late := session(models.StatusCancelled, 0)
	late.CancelledAt = at(200)
	late.EndTime = at(200)

	// cancelled without cancelledAt falls back to endTime
	fallback := session(models.StatusCancelled, 0)
	fallback.EndTime = at(150)

	// no timestamps at all falls back to startTime
	bare := session(models.StatusCancelled, 120)

	v, _ := Classify([]models.Session{early, bare, late, fallback}, HistoryLimit)

	got := []primitive.ObjectID{}
	for _, s := range v.History {
		got = append(got, s.ID)
	}
	assert.Equal(t, []primitive.ObjectID{late.ID, fallback.ID, bare.ID, early.ID}, got)
}

func TestClassifyTruncatesHistoryAfterOrdering(t *testing.T) {
	var list []models.Session
	for i := 0; i < 20; i++ {
		s := session(models.StatusCompleted, 0)
		s.EndTime = at(i + 1)
		list = append(list, s)
	}
	// newest last so a truncate-before-sort would keep the wrong ones
	v, _ := Classify(list, HistoryLimit)

	require.Len(t, v.History, 15)
	for i, s := range v.History {
		assert.Equal(t, *at(20-i), *s.EndTime)
	}
	for i := 1; i < len(v.History); i++ {
		assert.True(t, EffectiveCompletionTime(v.History[i-1]).After(EffectiveCompletionTime(v.History[i])))
	}
}

func TestClassifyKeepsEverySessionOnce(t *testing.T) {
	var list []models.Session
	for i := 0; i < 6; i++ {
		a := session(models.StatusActive, i)
		c := session(models.StatusCompleted, i)
		c.EndTime = at(i + 60)
		x := session(models.StatusCancelled, i)
		x.CancelledAt = at(i + 30)
		list = append(list, a, c, x)
	}

	v, skipped := Classify(list, HistoryLimit)

	seen := map[primitive.ObjectID]int{}
	for _, s := range v.Active {
		seen[s.ID]++
	}
	for _, s := range v.History {
		seen[s.ID]++
	}
	assert.Empty(t, skipped)
	assert.Len(t, seen, len(list))
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}
}
