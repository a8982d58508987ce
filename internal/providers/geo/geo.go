package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/opbuddy121/fibre-joint-app/internal/models"
)

var ErrUnavailable = errors.New("location unavailable")

// Reading is a one-shot position fix from the engineer's device.
type Reading struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

func (r Reading) Validate() error {
	switch {
	case math.IsNaN(r.Latitude) || r.Latitude < -90 || r.Latitude > 90:
		return fmt.Errorf("latitude %v out of range", r.Latitude)
	case math.IsNaN(r.Longitude) || r.Longitude < -180 || r.Longitude > 180:
		return fmt.Errorf("longitude %v out of range", r.Longitude)
	case math.IsNaN(r.Accuracy) || r.Accuracy < 0:
		return fmt.Errorf("accuracy %v must be >= 0", r.Accuracy)
	}
	return nil
}

// Location converts the reading to the stored form. postcode may be empty.
func (r Reading) Location(postcode string) *models.Location {
	loc := &models.Location{
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Accuracy:  r.Accuracy,
	}
	if postcode != "" {
		loc.Postcode = &postcode
	}
	return loc
}

// Options are the request options the device was asked to honour.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

func DefaultOptions() Options {
	return Options{HighAccuracy: true, Timeout: 10 * time.Second, MaximumAge: 0}
}

type Provider interface {
	CurrentPosition(ctx context.Context, opts Options) (Reading, error)
}

// Submitted is a Provider over a reading the client posted with its request.
// A nil reading means the device could not (or would not) supply a fix.
type Submitted struct {
	Reading    *Reading
	CapturedAt time.Time
	Now        func() time.Time
}

func (s Submitted) CurrentPosition(ctx context.Context, opts Options) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	if s.Reading == nil {
		return Reading{}, ErrUnavailable
	}
	if err := s.Reading.Validate(); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if opts.MaximumAge > 0 && !s.CapturedAt.IsZero() {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		if now().Sub(s.CapturedAt) > opts.MaximumAge {
			return Reading{}, fmt.Errorf("%w: reading is stale", ErrUnavailable)
		}
	}
	return *s.Reading, nil
}
