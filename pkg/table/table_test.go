package table

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clefourrier/datasets/pkg/errors"
	"github.com/clefourrier/datasets/pkg/schema"
)

func testFeatures() *schema.Features {
	return schema.NewFeatures().
		Add("id", schema.Value{DType: schema.DTypeInt64}).
		Add("text", schema.Value{DType: schema.DTypeString}).
		Add("score", schema.Value{DType: schema.DTypeFloat64}).
		Add("flag", schema.Value{DType: schema.DTypeBool})
}

func makeRows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{
			"id":    int64(i),
			"text":  "row-" + string(rune('a'+i%26)),
			"score": float64(i) / 2,
			"flag":  i%2 == 0,
		}
	}
	return rows
}

func TestWriteLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.arrow")
	feats := testFeatures()

	tbl, err := Write(path, makeRows(50), feats)
	require.NoError(t, err)
	defer tbl.Close()

	assert.Equal(t, int64(50), tbl.NumRows())
	assert.Equal(t, []string{"id", "text", "score", "flag"}, tbl.ColumnNames())

	row, err := tbl.Row(7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), row["id"])
	assert.Equal(t, "row-h", row["text"])
	assert.Equal(t, 3.5, row["score"])
	assert.Equal(t, false, row["flag"])

	v, err := tbl.Value("id", 49)
	require.NoError(t, err)
	assert.Equal(t, int64(49), v)
}

func TestMultipleBatches(t *testing.T) {
	// More rows than one record batch holds, so locate() crosses batches
	path := filepath.Join(t.TempDir(), "t.arrow")
	n := defaultBatchSize*2 + 137

	tbl, err := Write(path, makeRows(n), testFeatures())
	require.NoError(t, err)
	defer tbl.Close()

	assert.Equal(t, int64(n), tbl.NumRows())
	for _, i := range []int64{0, defaultBatchSize - 1, defaultBatchSize, int64(n) - 1} {
		row, err := tbl.Row(i)
		require.NoError(t, err)
		assert.Equal(t, i, row["id"])
	}

	ids, err := tbl.Column("id")
	require.NoError(t, err)
	require.Len(t, ids, n)
	assert.Equal(t, int64(0), ids[0])
	assert.Equal(t, int64(n-1), ids[n-1])
}

func TestRowOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.arrow")
	tbl, err := Write(path, makeRows(3), testFeatures())
	require.NoError(t, err)
	defer tbl.Close()

	_, err = tbl.Row(3)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	_, err = tbl.Row(-1)
	assert.Error(t, err)
	_, err = tbl.Column("missing")
	assert.Error(t, err)
}

func TestNullValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.arrow")
	rows := []Row{
		{"id": int64(0), "text": "a", "score": 1.0, "flag": true},
		{"id": int64(1)}, // missing cells become nulls
	}

	tbl, err := Write(path, rows, testFeatures())
	require.NoError(t, err)
	defer tbl.Close()

	row, err := tbl.Row(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row["id"])
	assert.Nil(t, row["text"])
	assert.Nil(t, row["score"])
	assert.Nil(t, row["flag"])
}

func TestSequencesAndLabels(t *testing.T) {
	feats := schema.NewFeatures().
		Add("label", schema.ClassLabel{Names: []string{"neg", "pos"}}).
		Add("tokens", schema.Sequence{Inner: schema.Value{DType: schema.DTypeString}})
	rows := []Row{
		{"label": "pos", "tokens": []interface{}{"a", "b"}},
		{"label": int64(0), "tokens": []interface{}{}},
	}

	path := filepath.Join(t.TempDir(), "t.arrow")
	tbl, err := Write(path, rows, feats)
	require.NoError(t, err)
	defer tbl.Close()

	row, err := tbl.Row(0)
	require.NoError(t, err)
	// Label names are coerced to their index on write
	assert.Equal(t, int64(1), row["label"])
	assert.Equal(t, []interface{}{"a", "b"}, row["tokens"])

	row, err = tbl.Row(1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), row["label"])
	assert.Equal(t, []interface{}{}, row["tokens"])
}

func TestSchemaMismatchOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.arrow")
	rows := []Row{{"id": "not an int"}}
	feats := schema.NewFeatures().Add("id", schema.Value{DType: schema.DTypeInt64})

	_, err := Write(path, rows, feats)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "failed write must leave no file behind")
}

func TestValidateDeclaredFeatures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.arrow")
	tbl, err := Write(path, makeRows(3), testFeatures())
	require.NoError(t, err)
	defer tbl.Close()

	require.NoError(t, tbl.Validate(testFeatures()))

	other := schema.NewFeatures().Add("id", schema.Value{DType: schema.DTypeString})
	err = tbl.Validate(other)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.arrow")
	require.NoError(t, os.WriteFile(path, []byte("this is not an arrow file at all"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCorruptTable))
}

func TestLoadTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.arrow")
	tbl, err := Write(path, makeRows(100), testFeatures())
	require.NoError(t, err)
	require.NoError(t, tbl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	trunc := filepath.Join(dir, "trunc.arrow")
	require.NoError(t, os.WriteFile(trunc, data[:len(data)/2], 0o644))

	_, err = Load(trunc)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCorruptTable))
}
