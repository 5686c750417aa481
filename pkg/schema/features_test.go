package schema

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeatures() *Features {
	return NewFeatures().
		Add("id", Value{DType: DTypeInt64}).
		Add("text", Value{DType: DTypeString}).
		Add("label", ClassLabel{Names: []string{"neg", "pos"}}).
		Add("tokens", Sequence{Inner: Value{DType: DTypeString}})
}

func TestFeaturesOrder(t *testing.T) {
	f := newTestFeatures()
	assert.Equal(t, []string{"id", "text", "label", "tokens"}, f.Names())
	assert.Equal(t, 4, f.Len())

	// Re-adding replaces the type but keeps the position
	f.Add("text", Value{DType: DTypeBinary})
	assert.Equal(t, []string{"id", "text", "label", "tokens"}, f.Names())
	ft, ok := f.Get("text")
	require.True(t, ok)
	assert.Equal(t, Value{DType: DTypeBinary}, ft)
}

func TestFeaturesSelect(t *testing.T) {
	f := newTestFeatures()

	sel, err := f.Select([]string{"text", "id"})
	require.NoError(t, err)
	assert.Equal(t, []string{"text", "id"}, sel.Names())

	_, err = f.Select([]string{"missing"})
	require.Error(t, err)
}

func TestFeaturesRename(t *testing.T) {
	f := newTestFeatures()

	renamed, err := f.Rename("text", "sentence")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "sentence", "label", "tokens"}, renamed.Names())
	// Original is untouched
	assert.Equal(t, []string{"id", "text", "label", "tokens"}, f.Names())

	_, err = f.Rename("missing", "x")
	require.Error(t, err)
	_, err = f.Rename("text", "id")
	require.Error(t, err)
}

func TestClassLabelIndex(t *testing.T) {
	c := ClassLabel{Names: []string{"neg", "pos"}}

	idx, err := c.Index("pos")
	require.NoError(t, err)
	assert.Equal(t, int64(1), idx)

	_, err = c.Index("neutral")
	require.Error(t, err)
}

func TestClassLabelValidate(t *testing.T) {
	c := ClassLabel{Names: []string{"neg", "pos"}}

	assert.NoError(t, c.ValidateValue(int64(0)))
	assert.NoError(t, c.ValidateValue(1))
	assert.NoError(t, c.ValidateValue(int64(-1)), "-1 marks a missing label")
	assert.NoError(t, c.ValidateValue("pos"))
	assert.NoError(t, c.ValidateValue(nil))

	assert.Error(t, c.ValidateValue(int64(2)))
	assert.Error(t, c.ValidateValue("neutral"))
	assert.Error(t, c.ValidateValue(true))
}

func TestValidateRow(t *testing.T) {
	f := newTestFeatures()

	err := f.Validate(map[string]interface{}{
		"id":     int64(1),
		"text":   "hello",
		"label":  "pos",
		"tokens": []interface{}{"a", "b"},
	})
	require.NoError(t, err)

	err = f.Validate(map[string]interface{}{"unknown": 1})
	require.Error(t, err)

	err = f.Validate(map[string]interface{}{"id": "not an int"})
	require.Error(t, err)

	err = f.Validate(map[string]interface{}{"tokens": []interface{}{"a", 1}})
	require.Error(t, err)

	// Missing columns are nulls, not errors
	err = f.Validate(map[string]interface{}{"id": int64(1)})
	require.NoError(t, err)
}

func TestArrowRoundTrip(t *testing.T) {
	f := newTestFeatures()

	s, err := f.ToArrow()
	require.NoError(t, err)
	assert.Equal(t, 4, len(s.Fields()))
	assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Int64, s.Field(0).Type))
	assert.True(t, arrow.TypeEqual(arrow.ListOf(arrow.BinaryTypes.String), s.Field(3).Type))

	back, err := FromArrow(s)
	require.NoError(t, err)
	assert.Equal(t, f.Names(), back.Names())
	// Class labels degrade to their physical int64 type
	ft, ok := back.Get("label")
	require.True(t, ok)
	assert.Equal(t, Value{DType: DTypeInt64}, ft)
}

func TestFeaturesEqual(t *testing.T) {
	a := newTestFeatures()
	b := newTestFeatures()
	assert.True(t, a.Equal(b))

	c := NewFeatures().Add("id", Value{DType: DTypeInt64})
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))

	// Same columns, different order
	d := NewFeatures().
		Add("text", Value{DType: DTypeString}).
		Add("id", Value{DType: DTypeInt64}).
		Add("label", ClassLabel{Names: []string{"neg", "pos"}}).
		Add("tokens", Sequence{Inner: Value{DType: DTypeString}})
	assert.False(t, a.Equal(d))
}

func TestCanonicalArgsKeepsLabelOrder(t *testing.T) {
	a := NewFeatures().Add("label", ClassLabel{Names: []string{"neg", "pos"}})
	b := NewFeatures().Add("label", ClassLabel{Names: []string{"pos", "neg"}})
	assert.NotEqual(t, a.CanonicalArgs(), b.CanonicalArgs(),
		"label order defines the index mapping and must affect identity")
}

func TestCanonicalArgsKeepsColumnOrder(t *testing.T) {
	a := NewFeatures().
		Add("id", Value{DType: DTypeInt64}).
		Add("text", Value{DType: DTypeString})
	b := NewFeatures().
		Add("text", Value{DType: DTypeString}).
		Add("id", Value{DType: DTypeInt64})
	assert.NotEqual(t, a.CanonicalArgs(), b.CanonicalArgs(),
		"column declaration order is part of the schema identity, as in Equal")
}
