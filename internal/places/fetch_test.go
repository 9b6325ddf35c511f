package places

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const remoteCatalog = `
- full_name: [Hobart, Tasmania, Australia]
  lat: -42.8821
  lng: 147.3272
- full_name: [Ushuaia, Tierra del Fuego, Argentina]
  lat: -54.8019
  lng: -68.3030
`

func TestFetcherCachesAndRevalidates(t *testing.T) {
	var hits, conditional atomic.Int32
	down := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if down.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(remoteCatalog))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	ctx := context.Background()

	c, err := f.Fetch(ctx, srv.URL+"/places.yaml?token=secret")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	c, err = f.Fetch(ctx, srv.URL+"/places.yaml?token=secret")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int32(1), conditional.Load())

	down.Store(true)
	c, err = f.Fetch(ctx, srv.URL+"/places.yaml?token=secret")
	require.NoError(t, err)
	require.Len(t, c.Search("hobart"), 1)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetcherErrorsWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	_, err := f.Fetch(context.Background(), srv.URL+"/missing.yaml")
	assert.Error(t, err)
	_, err = f.Fetch(context.Background(), "")
	assert.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com/a/b.yaml?token=x"))
	assert.Equal(t, "places://...(redacted)", redactURL("not a url"))
}
