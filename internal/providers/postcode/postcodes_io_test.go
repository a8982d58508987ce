package postcode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opbuddy121/fibre-joint-app/internal/cache"
)

func TestPostcodesIOLookup(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "/postcodes", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":200,"result":[{"postcode":"EC1A 1BB"},{"postcode":"EC1A 1AA"}]}`))
	}))
	defer srv.Close()

	p := NewPostcodesIO(srv.URL+"/", nil)
	pc, ok := p.Lookup(context.Background(), 51.5201, -0.0977)

	require.True(t, ok)
	assert.Equal(t, "EC1A 1BB", pc)
	assert.Equal(t, "lat=51.5201&limit=1&lon=-0.0977", gotQuery)
}

func TestPostcodesIODegradesToUnknown(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"empty result": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":200,"result":null}`))
		},
		"non-200 status field": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":400,"error":"Invalid longitude/latitude submitted"}`))
		},
		"garbage body": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		},
	}

	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			pc, ok := NewPostcodesIO(srv.URL, nil).Lookup(context.Background(), 1, 2)
			assert.False(t, ok)
			assert.Empty(t, pc)
		})
	}

	t.Run("unreachable host", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		p := NewPostcodesIO(url, nil)
		p.Client.Timeout = time.Second
		_, ok := p.Lookup(context.Background(), 1, 2)
		assert.False(t, ok)
	})
}

type countingProvider struct {
	calls    int
	postcode string
}

func (c *countingProvider) Lookup(context.Context, float64, float64) (string, bool) {
	c.calls++
	return c.postcode, c.postcode != ""
}

func TestCachedOnlyStoresHits(t *testing.T) {
	ctx := context.Background()
	upstream := &countingProvider{}
	c := NewCached(upstream, cache.NewMemoryCache(), time.Hour)

	_, ok := c.Lookup(ctx, 51.5, -0.1)
	assert.False(t, ok)
	_, ok = c.Lookup(ctx, 51.5, -0.1)
	assert.False(t, ok)
	assert.Equal(t, 2, upstream.calls, "misses must not be cached")

	upstream.postcode = "N1 9GU"
	pc, ok := c.Lookup(ctx, 51.5, -0.1)
	require.True(t, ok)
	assert.Equal(t, "N1 9GU", pc)

	pc, ok = c.Lookup(ctx, 51.500001, -0.100001)
	require.True(t, ok)
	assert.Equal(t, "N1 9GU", pc)
	assert.Equal(t, 3, upstream.calls, "nearby reading should hit the cache")
}
