package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opbuddy121/fibre-joint-app/internal/models"
)

func TestFormatMinutes(t *testing.T) {
	cases := map[int]string{
		0:   "0m",
		59:  "59m",
		60:  "1h 0m",
		125: "2h 5m",
		-3:  "0m",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatMinutes(in), "minutes=%d", in)
	}
}

func TestElapsedMinutesFloorsAndClamps(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, ElapsedMinutes(start, start.Add(59*time.Second)))
	assert.Equal(t, 47, ElapsedMinutes(start, start.Add(47*time.Minute+59*time.Second)))
	assert.Equal(t, 0, ElapsedMinutes(start, start.Add(-time.Hour)))
}

func TestDurationSoFar(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	s := models.Session{Status: models.StatusActive, StartTime: start}

	assert.Equal(t, "5m", DurationSoFar(s, start.Add(5*time.Minute)))
	assert.Equal(t, "1h 30m", DurationSoFar(s, start.Add(90*time.Minute)), "active sessions track now")

	end := start.Add(61 * time.Minute)
	s.Status = models.StatusCompleted
	s.EndTime = &end
	assert.Equal(t, "1h 1m", DurationSoFar(s, start.Add(10*time.Hour)))

	cancelled := models.Session{Status: models.StatusCancelled, StartTime: start, CancelledAt: &end}
	assert.Equal(t, "1h 1m", DurationSoFar(cancelled, start.Add(10*time.Hour)))
}
