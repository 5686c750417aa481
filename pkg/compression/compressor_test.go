package compression

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte(`{"id":1,"text":"payload payload payload"}`+"\n"), 200)

	for _, alg := range []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2} {
		t.Run(string(alg), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(alg, &buf)
			require.NoError(t, err)
			_, err = w.Write(original)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := NewReader(alg, bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			decoded, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())

			assert.Equal(t, original, decoded)
			if alg != None {
				assert.Less(t, buf.Len(), len(original),
					"repetitive payload should compress")
			}
		})
	}
}

func TestFromName(t *testing.T) {
	alg, err := FromName("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, Zstd, alg)

	alg, err = FromName("")
	require.NoError(t, err)
	assert.Equal(t, None, alg)

	_, err = FromName("brotli")
	require.Error(t, err)
}

func TestFromPath(t *testing.T) {
	assert.Equal(t, Gzip, FromPath("shard-00000.jsonl.gz"))
	assert.Equal(t, Zstd, FromPath("shard.jsonl.zst"))
	assert.Equal(t, Zstd, FromPath("shard.jsonl.zstd"))
	assert.Equal(t, LZ4, FromPath("shard.jsonl.lz4"))
	assert.Equal(t, Snappy, FromPath("shard.jsonl.snappy"))
	assert.Equal(t, S2, FromPath("shard.jsonl.s2"))
	assert.Equal(t, None, FromPath("shard.jsonl"))
}

func TestUnknownAlgorithm(t *testing.T) {
	_, err := NewReader(Algorithm("bogus"), bytes.NewReader(nil))
	assert.Error(t, err)
	_, err = NewWriter(Algorithm("bogus"), io.Discard)
	assert.Error(t, err)
}
