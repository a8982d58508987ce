package postcode

import "context"

// Provider resolves the nearest postcode for a coordinate.
// Lookups are best-effort: any failure reports ok=false and is never returned as an error.
type Provider interface {
	Lookup(ctx context.Context, lat, lon float64) (postcode string, ok bool)
}

// None is a Provider that never resolves anything.
type None struct{}

func (None) Lookup(context.Context, float64, float64) (string, bool) { return "", false }
