package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndWrap(t *testing.T) {
	base := New(ErrorTypeCorruptTable, "bad footer")
	assert.Equal(t, "corrupt_table: bad footer", base.Error())
	assert.NotEmpty(t, base.Stack)

	wrapped := Wrap(base, ErrorTypeCacheWrite, "materialization failed")
	assert.Equal(t, "cache_write: materialization failed: corrupt_table: bad footer", wrapped.Error())
	assert.True(t, IsType(wrapped, ErrorTypeCacheWrite))
	assert.ErrorIs(t, wrapped, base)

	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "never happens"))
}

func TestWrapPlainError(t *testing.T) {
	plain := fmt.Errorf("disk full")
	wrapped := Wrap(plain, ErrorTypeCacheWrite, "cannot write")
	assert.True(t, IsType(wrapped, ErrorTypeCacheWrite))
	assert.ErrorIs(t, wrapped, plain)
	assert.NotEmpty(t, wrapped.Stack)
}

func TestDetails(t *testing.T) {
	err := New(ErrorTypeShard, "fetch failed").
		WithDetail("shard", "train-00003").
		WithDetail("attempt", 2)

	v, ok := Detail(err, "shard")
	require.True(t, ok)
	assert.Equal(t, "train-00003", v)

	_, ok = Detail(err, "missing")
	assert.False(t, ok)
	_, ok = Detail(fmt.Errorf("plain"), "shard")
	assert.False(t, ok)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeTimeout, "deadline")))
	assert.True(t, IsRetryable(New(ErrorTypeConnection, "refused")))
	assert.False(t, IsRetryable(New(ErrorTypeCorruptTable, "bad bytes")))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))

	// A shard error inherits retryability from its cause
	transient := Wrap(New(ErrorTypeConnection, "reset"), ErrorTypeShard, "fetch failed")
	assert.True(t, IsRetryable(transient))

	permanent := Wrap(New(ErrorTypeValidation, "bad json"), ErrorTypeShard, "decode failed")
	assert.False(t, IsRetryable(permanent))

	plain := Wrap(fmt.Errorf("not json"), ErrorTypeShard, "decode failed")
	assert.False(t, IsRetryable(plain))
}

func TestNewf(t *testing.T) {
	err := Newf(ErrorTypeValidation, "row %d out of range", 42)
	assert.Equal(t, "validation: row 42 out of range", err.Error())
}
