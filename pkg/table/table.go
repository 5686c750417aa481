// Package table implements the columnar table store. A Table is an
// immutable block of records stored as an Arrow IPC file and memory-mapped
// on load: once written, its bytes are never mutated, so any number of
// dataset views may read it concurrently without coordination.
//
// Slicing is purely logical. The physical table is never re-sliced in
// place; views wrap the same Table with an index mapping instead. Write is
// the only operation that performs physical I/O.
package table

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/clefourrier/datasets/pkg/errors"
	"github.com/clefourrier/datasets/pkg/logger"
	"github.com/clefourrier/datasets/pkg/metrics"
	"github.com/clefourrier/datasets/pkg/mmap"
	"github.com/clefourrier/datasets/pkg/schema"
)

// Row is a decoded record keyed by column name.
type Row = map[string]interface{}

// Table is an immutable columnar block backed by a memory-mapped Arrow IPC
// file. All methods are safe for concurrent use.
type Table struct {
	path    string
	mapping *mmap.Mapping
	schema  *arrow.Schema
	records []arrow.Record
	// starts[i] is the cumulative row offset of batch i
	starts  []int64
	numRows int64
}

// Load memory-maps the Arrow IPC file at path. Loading the same path twice
// shares the underlying mapping. An unreadable header, truncated body or a
// footer inconsistent with the declared batches yields a corrupt-table error.
func Load(path string) (*Table, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCorruptTable,
			fmt.Sprintf("cannot map table file %s", path))
	}

	t, err := fromMapping(path, m)
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	metrics.OpenMappings.Inc()
	logger.Get().Debug("loaded table",
		zap.String("path", path),
		zap.Int64("rows", t.numRows),
		zap.Int("batches", len(t.records)))
	return t, nil
}

func fromMapping(path string, m *mmap.Mapping) (*Table, error) {
	rd, err := ipc.NewFileReader(bytes.NewReader(m.Bytes()),
		ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCorruptTable,
			fmt.Sprintf("invalid arrow file %s", path)).WithDetail("path", path)
	}
	defer rd.Close()

	t := &Table{
		path:    path,
		mapping: m,
		schema:  rd.Schema(),
	}

	for i := 0; i < rd.NumRecords(); i++ {
		rec, err := rd.Record(i)
		if err != nil {
			t.release()
			return nil, errors.Wrap(err, errors.ErrorTypeCorruptTable,
				fmt.Sprintf("unreadable record batch %d in %s", i, path)).WithDetail("path", path)
		}
		rec.Retain()
		t.records = append(t.records, rec)
		t.starts = append(t.starts, t.numRows)
		t.numRows += rec.NumRows()
	}

	return t, nil
}

// Path returns the backing file path.
func (t *Table) Path() string { return t.path }

// NumRows returns the physical row count.
func (t *Table) NumRows() int64 { return t.numRows }

// Schema returns the arrow schema of the stored columns.
func (t *Table) Schema() *arrow.Schema { return t.schema }

// Features reconstructs the feature schema from the stored arrow schema.
func (t *Table) Features() (*schema.Features, error) {
	return schema.FromArrow(t.schema)
}

// ColumnNames returns the column names in schema order.
func (t *Table) ColumnNames() []string {
	fields := t.schema.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// Row decodes the i-th physical row.
func (t *Table) Row(i int64) (Row, error) {
	rec, local, err := t.locate(i)
	if err != nil {
		return nil, err
	}

	row := make(Row, len(t.schema.Fields()))
	for c, field := range t.schema.Fields() {
		row[field.Name] = valueAt(rec.Column(c), local)
	}
	return row, nil
}

// Value decodes a single cell.
func (t *Table) Value(column string, i int64) (interface{}, error) {
	idx := t.schema.FieldIndices(column)
	if len(idx) == 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "column %q not in table", column)
	}
	rec, local, err := t.locate(i)
	if err != nil {
		return nil, err
	}
	return valueAt(rec.Column(idx[0]), local), nil
}

// Column decodes an entire column in physical row order.
func (t *Table) Column(name string) ([]interface{}, error) {
	idx := t.schema.FieldIndices(name)
	if len(idx) == 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "column %q not in table", name)
	}

	out := make([]interface{}, 0, t.numRows)
	for _, rec := range t.records {
		col := rec.Column(idx[0])
		for i := 0; i < col.Len(); i++ {
			out = append(out, valueAt(col, i))
		}
	}
	return out, nil
}

// locate maps a global row index to (batch, local index).
func (t *Table) locate(i int64) (arrow.Record, int, error) {
	if i < 0 || i >= t.numRows {
		return nil, 0, errors.Newf(errors.ErrorTypeValidation,
			"row index %d out of range [0, %d)", i, t.numRows)
	}

	// Binary search over batch start offsets
	lo, hi := 0, len(t.starts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if t.starts[mid] <= i {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return t.records[lo], int(i - t.starts[lo]), nil
}

// Validate checks every row against the declared features.
func (t *Table) Validate(feats *schema.Features) error {
	stored, err := t.Features()
	if err != nil {
		return err
	}
	arrowDecl, err := feats.ToArrow()
	if err != nil {
		return err
	}
	arrowStored, err := stored.ToArrow()
	if err != nil {
		return err
	}
	if !arrowDecl.Equal(arrowStored) {
		return errors.Newf(errors.ErrorTypeSchemaMismatch,
			"table schema %s does not match declared features %s", arrowStored, arrowDecl).
			WithDetail("path", t.path)
	}
	return nil
}

// Close releases the record batches and the mapping handle. The mapping is
// unmapped only when the last Table sharing it closes.
func (t *Table) Close() error {
	t.release()
	if t.mapping != nil {
		m := t.mapping
		t.mapping = nil
		metrics.OpenMappings.Dec()
		return m.Close()
	}
	return nil
}

func (t *Table) release() {
	for _, rec := range t.records {
		rec.Release()
	}
	t.records = nil
}
