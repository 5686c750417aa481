// Package compression provides the shard payload codecs for the streaming
// path. Shards may arrive compressed with any of the supported algorithms;
// the codec is selected by explicit name or inferred from the shard URI
// extension.
//
// Speed (fastest to slowest): LZ4 > Snappy/S2 > Zstd > Gzip
// Compression ratio (best to worst): Zstd > Gzip > Snappy/S2 > LZ4
package compression

import (
	"compress/gzip"
	"io"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/clefourrier/datasets/pkg/errors"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy stream compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (snappy compatible)
	S2 Algorithm = "s2"
)

// FromName parses an algorithm name.
func FromName(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(name)) {
	case None, "":
		return None, nil
	case Gzip:
		return Gzip, nil
	case Snappy:
		return Snappy, nil
	case LZ4:
		return LZ4, nil
	case Zstd:
		return Zstd, nil
	case S2:
		return S2, nil
	default:
		return None, errors.Newf(errors.ErrorTypeValidation, "unknown compression algorithm %q", name)
	}
}

// FromPath infers the algorithm from a file extension, defaulting to None.
func FromPath(path string) Algorithm {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return Gzip
	case strings.HasSuffix(path, ".snappy"):
		return Snappy
	case strings.HasSuffix(path, ".lz4"):
		return LZ4
	case strings.HasSuffix(path, ".zst"), strings.HasSuffix(path, ".zstd"):
		return Zstd
	case strings.HasSuffix(path, ".s2"):
		return S2
	default:
		return None
	}
}

// NewReader wraps r so it yields the decompressed byte stream.
// The returned reader must be closed to release codec resources.
func NewReader(alg Algorithm, r io.Reader) (io.ReadCloser, error) {
	switch alg {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return gr, nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case S2:
		return io.NopCloser(s2.NewReader(r)), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "unknown compression algorithm %q", alg)
	}
}

// NewWriter wraps w so writes are compressed. Used by tests and by shard
// producers; the streaming iterator itself only reads.
func NewWriter(alg Algorithm, w io.Writer) (io.WriteCloser, error) {
	switch alg {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case LZ4:
		return lz4.NewWriter(w), nil
	case Zstd:
		return zstd.NewWriter(w)
	case S2:
		return s2.NewWriter(w), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "unknown compression algorithm %q", alg)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
