package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBytesDeterministic(t *testing.T) {
	a := FromBytes([]byte("hello world"))
	b := FromBytes([]byte("hello world"))
	assert.Equal(t, a, b)
	assert.True(t, a.Valid())
	assert.Len(t, string(a), Size*2)

	c := FromBytes([]byte("hello worlds"))
	assert.NotEqual(t, a, c)
}

func TestCombineDeterministic(t *testing.T) {
	base := FromString("squad")
	args := map[string]interface{}{
		"seed":    uint64(42),
		"column":  "text",
		"nested":  map[string]interface{}{"k": 1, "j": "v"},
		"numbers": []interface{}{1, 2, 3},
	}

	a, err := Combine(base, "shuffle", args)
	require.NoError(t, err)
	b, err := Combine(base, "shuffle", args)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, a.Valid())
}

func TestCombineSensitivity(t *testing.T) {
	base := FromString("squad")

	a, err := Combine(base, "shuffle", map[string]interface{}{"seed": 42})
	require.NoError(t, err)

	b, err := Combine(base, "shuffle", map[string]interface{}{"seed": 43})
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "different args must yield different fingerprints")

	c, err := Combine(base, "sort", map[string]interface{}{"seed": 42})
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "different transform ids must yield different fingerprints")

	d, err := Combine(FromString("glue"), "shuffle", map[string]interface{}{"seed": 42})
	require.NoError(t, err)
	assert.NotEqual(t, a, d, "different bases must yield different fingerprints")
}

func TestCombineIntWidthNormalization(t *testing.T) {
	base := FromString("base")

	a, err := Combine(base, "op", map[string]interface{}{"n": int32(7)})
	require.NoError(t, err)
	b, err := Combine(base, "op", map[string]interface{}{"n": int64(7)})
	require.NoError(t, err)
	c, err := Combine(base, "op", map[string]interface{}{"n": 7})
	require.NoError(t, err)

	assert.Equal(t, a, b, "integer width must not change the hash")
	assert.Equal(t, a, c)
}

func TestCombineMapOrderIndependent(t *testing.T) {
	// Go map iteration order is randomized, so a handful of runs over the
	// same logical mapping exercises key sorting.
	base := FromString("base")
	first, err := Combine(base, "op", map[string]interface{}{
		"a": 1, "b": 2, "c": 3, "d": 4, "e": 5,
	})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		fp, err := Combine(base, "op", map[string]interface{}{
			"e": 5, "d": 4, "c": 3, "b": 2, "a": 1,
		})
		require.NoError(t, err)
		assert.Equal(t, first, fp)
	}
}

func TestCombineRejectsUncanonicalizable(t *testing.T) {
	base := FromString("base")

	_, err := Combine(base, "map", map[string]interface{}{
		"fn": func() {},
	})
	require.Error(t, err)

	_, err = Combine(base, "map", map[string]interface{}{
		"ch": make(chan int),
	})
	require.Error(t, err)
}

func TestCombineOrRandomFallsBack(t *testing.T) {
	base := FromString("base")

	a := CombineOrRandom(base, "map", map[string]interface{}{"fn": func() {}})
	b := CombineOrRandom(base, "map", map[string]interface{}{"fn": func() {}})
	assert.True(t, a.Valid())
	assert.True(t, b.Valid())
	assert.NotEqual(t, a, b, "fallback fingerprints must be session-unique")

	// Canonicalizable args behave exactly like Combine
	want, err := Combine(base, "op", map[string]interface{}{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, want, CombineOrRandom(base, "op", map[string]interface{}{"n": 1}))
}

func TestRandomUnique(t *testing.T) {
	seen := make(map[Fingerprint]bool)
	for i := 0; i < 100; i++ {
		fp := Random()
		assert.True(t, fp.Valid())
		assert.False(t, seen[fp])
		seen[fp] = true
	}
}

func TestValid(t *testing.T) {
	assert.False(t, Zero.Valid())
	assert.False(t, Fingerprint("xyz").Valid())
	assert.False(t, Fingerprint("zz00000000000000000000000000zzzz").Valid())
	assert.True(t, FromString("x").Valid())
}

func TestCanonicalizeFloats(t *testing.T) {
	base := FromString("base")

	a, err := Combine(base, "op", map[string]interface{}{"f": float32(1.5)})
	require.NoError(t, err)
	b, err := Combine(base, "op", map[string]interface{}{"f": float64(1.5)})
	require.NoError(t, err)
	assert.Equal(t, a, b, "float width must not change the hash for exact values")
}
