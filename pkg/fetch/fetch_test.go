package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clefourrier/datasets/pkg/errors"
)

func TestLocalFetcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shard.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	f := NewLocalFetcher()
	ctx := context.Background()

	r, err := f.Fetch(ctx, path)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "0123456789", string(data))

	// file:// URIs and offsets
	r, err = f.FetchRange(ctx, "file://"+path, 4)
	require.NoError(t, err)
	data, err = io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "456789", string(data))
}

func TestLocalFetcherMissing(t *testing.T) {
	f := NewLocalFetcher()
	_, err := f.Fetch(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestLocalFetcherCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewLocalFetcher()
	_, err := f.Fetch(ctx, "/irrelevant")
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestHTTPFetcher(t *testing.T) {
	const payload = "abcdefghijklmnopqrstuvwxyz"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rng := r.Header.Get("Range"); rng != "" {
			offset, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"), 10, 64)
			if err == nil && offset < int64(len(payload)) {
				w.WriteHeader(http.StatusPartialContent)
				_, _ = io.WriteString(w, payload[offset:])
				return
			}
		}
		_, _ = io.WriteString(w, payload)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(nil)
	require.NoError(t, err)
	ctx := context.Background()

	r, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, payload, string(data))

	r, err = f.FetchRange(ctx, srv.URL, 20)
	require.NoError(t, err)
	data, err = io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "uvwxyz", string(data))
}

func TestHTTPFetcherRangeIgnored(t *testing.T) {
	// A backend that ignores Range still resumes correctly: the fetcher
	// discards the prefix itself.
	const payload = "abcdefghij"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, payload)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(nil)
	require.NoError(t, err)

	r, err := f.FetchRange(context.Background(), srv.URL, 6)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "ghij", string(data))
}

func TestHTTPFetcherErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(nil)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.True(t, errors.IsRetryable(err))
}

func TestHTTPFetcherUnreachable(t *testing.T) {
	f, err := NewHTTPFetcher(DefaultHTTPConfig())
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "http://127.0.0.1:1/shard")
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
}
