// Package fetch defines the byte-stream fetch service the streaming
// iterator consumes. Download caching, integrity verification, retries and
// credential handling belong to the callers that implement or wrap a
// Fetcher; the core only needs "give me the bytes of this URI", optionally
// from an offset for resumed reads.
package fetch

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/clefourrier/datasets/pkg/errors"
)

// Fetcher resolves a shard URI to its byte stream. Implementations must
// honor ctx cancellation and surface I/O failures distinguishably from
// anything a decoder might report.
type Fetcher interface {
	// Fetch opens the full byte stream of uri
	Fetch(ctx context.Context, uri string) (io.ReadCloser, error)
	// FetchRange opens the byte stream starting at offset, for backends
	// that support partial reads. Backends that do not return a
	// validation error.
	FetchRange(ctx context.Context, uri string, offset int64) (io.ReadCloser, error)
}

// LocalFetcher serves plain paths and file:// URIs from the local
// filesystem.
type LocalFetcher struct{}

// NewLocalFetcher creates a filesystem-backed fetcher.
func NewLocalFetcher() *LocalFetcher { return &LocalFetcher{} }

// Fetch implements Fetcher
func (f *LocalFetcher) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	return f.FetchRange(ctx, uri, 0)
}

// FetchRange implements Fetcher
func (f *LocalFetcher) FetchRange(ctx context.Context, uri string, offset int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "fetch canceled")
	}

	path := strings.TrimPrefix(uri, "file://")
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection,
			"cannot open local shard").WithDetail("uri", uri)
	}

	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeConnection,
				"cannot seek local shard").WithDetail("uri", uri)
		}
	}
	return file, nil
}
