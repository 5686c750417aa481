// Package dataset implements lazy view composition over the columnar table
// store. A Dataset is a logical view: a shared reference to an immutable
// Table, an optional index mapping for row selection and ordering, the
// feature schema, and a fingerprint identifying the view's full transform
// lineage.
//
// Transforms never mutate the underlying Table. Reorder-only transforms
// (filter, sort, shuffle, select, shard, split) cache just a new index
// mapping; row-rewriting transforms (map, select columns, concatenate,
// flatten) materialize a new Table through the cache manager. Because each
// step's fingerprint already encodes the whole lineage, reading a view is
// O(1) after the first computation: the cache entry holds the final state
// directly and no lineage walk ever happens at read time.
package dataset

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clefourrier/datasets/pkg/cache"
	"github.com/clefourrier/datasets/pkg/errors"
	"github.com/clefourrier/datasets/pkg/fingerprint"
	"github.com/clefourrier/datasets/pkg/logger"
	"github.com/clefourrier/datasets/pkg/schema"
	"github.com/clefourrier/datasets/pkg/table"
)

// Dataset is an immutable logical view over a Table. All methods return new
// views; none mutates the receiver or the underlying storage, so views may
// be shared freely across goroutines.
type Dataset struct {
	tbl     *table.Table
	indices []int64 // nil means the identity mapping
	feats   *schema.Features
	fp      fingerprint.Fingerprint
	mgr     *cache.Manager
	log     *zap.Logger
}

// FromRows materializes rows as a new base dataset. The fingerprint is
// content-derived, so loading identical rows under the same name in another
// process reuses the cached table.
func FromRows(mgr *cache.Manager, name string, rows []table.Row, feats *schema.Features) (*Dataset, error) {
	content, err := contentFingerprint(rows)
	if err != nil {
		return nil, err
	}

	fp, err := fingerprint.Combine(fingerprint.FromString(name), "load", map[string]interface{}{
		"content":  string(content),
		"features": feats.CanonicalArgs(),
	})
	if err != nil {
		return nil, err
	}

	tbl, err := mgr.GetOrCompute(fp, feats, func() ([]table.Row, error) {
		return rows, nil
	})
	if err != nil {
		return nil, err
	}

	return newView(mgr, tbl, nil, feats, fp), nil
}

// FromTable wraps an already-loaded table in a view. The caller supplies
// the lineage fingerprint (typically from a cache sidecar).
func FromTable(mgr *cache.Manager, tbl *table.Table, feats *schema.Features, fp fingerprint.Fingerprint) (*Dataset, error) {
	if feats == nil {
		var err error
		feats, err = tbl.Features()
		if err != nil {
			return nil, err
		}
	}
	if err := tbl.Validate(feats); err != nil {
		return nil, err
	}
	return newView(mgr, tbl, nil, feats, fp), nil
}

func newView(mgr *cache.Manager, tbl *table.Table, indices []int64, feats *schema.Features, fp fingerprint.Fingerprint) *Dataset {
	return &Dataset{
		tbl:     tbl,
		indices: indices,
		feats:   feats,
		fp:      fp,
		mgr:     mgr,
		log: logger.With(
			zap.String("fingerprint", string(fp))),
	}
}

// NumRows returns the logical row count of the view.
func (d *Dataset) NumRows() int64 {
	if d.indices != nil {
		return int64(len(d.indices))
	}
	return d.tbl.NumRows()
}

// Fingerprint returns the lineage fingerprint identifying this view.
func (d *Dataset) Fingerprint() fingerprint.Fingerprint { return d.fp }

// Features returns the feature schema of the view.
func (d *Dataset) Features() *schema.Features { return d.feats }

// Table returns the underlying physical table shared by this view.
func (d *Dataset) Table() *table.Table { return d.tbl }

// Row decodes the i-th logical row, mapping through the index mapping when
// one is present.
func (d *Dataset) Row(i int64) (table.Row, error) {
	phys, err := d.physicalIndex(i)
	if err != nil {
		return nil, err
	}
	return d.tbl.Row(phys)
}

// Column decodes an entire column in logical row order.
func (d *Dataset) Column(name string) ([]interface{}, error) {
	full, err := d.tbl.Column(name)
	if err != nil {
		return nil, err
	}
	if d.indices == nil {
		return full, nil
	}
	out := make([]interface{}, len(d.indices))
	for i, idx := range d.indices {
		out[i] = full[idx]
	}
	return out, nil
}

// Rows materializes every logical row. Intended for small views and tests;
// large datasets should be consumed row by row.
func (d *Dataset) Rows() ([]table.Row, error) {
	n := d.NumRows()
	rows := make([]table.Row, 0, n)
	for i := int64(0); i < n; i++ {
		row, err := d.Row(i)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (d *Dataset) physicalIndex(i int64) (int64, error) {
	if i < 0 || i >= d.NumRows() {
		return 0, errors.Newf(errors.ErrorTypeValidation,
			"row index %d out of range [0, %d)", i, d.NumRows())
	}
	if d.indices == nil {
		return i, nil
	}
	return d.indices[i], nil
}

// physicalIndices returns the absolute index of every logical row.
func (d *Dataset) physicalIndices() []int64 {
	if d.indices != nil {
		out := make([]int64, len(d.indices))
		copy(out, d.indices)
		return out
	}
	out := make([]int64, d.tbl.NumRows())
	for i := range out {
		out[i] = int64(i)
	}
	return out
}

// contentFingerprint hashes row content for base dataset identity.
func contentFingerprint(rows []table.Row) (fingerprint.Fingerprint, error) {
	fp := fingerprint.Zero
	for _, row := range rows {
		next, err := fingerprint.Combine(fp, "row", row)
		if err != nil {
			return fingerprint.Zero, err
		}
		fp = next
	}
	if fp.IsZero() {
		fp = fingerprint.FromString("empty")
	}
	return fp, nil
}

// drawSeed generates a seed for unseeded shuffles. The seed is recorded in
// the transform arguments, so the resulting view's fingerprint is stable
// and reproducible even though the seed itself was random.
func drawSeed() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		id := uuid.New()
		copy(buf[:], id[:8])
	}
	// Keep the seed in the normalized integer range of the argument encoding
	return binary.BigEndian.Uint64(buf[:]) &^ (1 << 63)
}
