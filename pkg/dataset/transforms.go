package dataset

import (
	"fmt"
	mrand "math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/clefourrier/datasets/pkg/errors"
	"github.com/clefourrier/datasets/pkg/fingerprint"
	"github.com/clefourrier/datasets/pkg/metrics"
	"github.com/clefourrier/datasets/pkg/schema"
	"github.com/clefourrier/datasets/pkg/table"
)

// MapFunc is a row-rewriting function together with its cache identity.
// Name and Version feed the fingerprint: bump Version whenever the
// function's behavior changes, or cached results of the old behavior will
// be reused. A MapFunc with an empty Name has no canonical identity: the
// transform fails unless the cache manager's random fingerprint fallback is
// enabled, in which case it gets a session-unique fingerprint that defeats
// caching for the resulting view and everything derived from it.
type MapFunc struct {
	Name    string
	Version string
	Fn      func(table.Row) (table.Row, error)
}

// Predicate is a row filter together with its cache identity. The same
// naming rules as MapFunc apply.
type Predicate struct {
	Name    string
	Version string
	Fn      func(table.Row) (bool, error)
}

// derive computes the fingerprint of a transform applied to this view.
// When the cache manager allows it, uncanonicalizable arguments degrade to
// a random fingerprint instead of failing the transform.
func (d *Dataset) derive(transformID string, args map[string]interface{}) (fingerprint.Fingerprint, error) {
	fp, err := fingerprint.Combine(d.fp, transformID, args)
	if err != nil && errors.IsType(err, errors.ErrorTypeFingerprint) && d.mgr.RandomFingerprintFallback() {
		d.log.Warn("uncanonicalizable transform arguments, using cache-defeating random fingerprint",
			zap.String("transform", transformID))
		return fingerprint.Random(), nil
	}
	return fp, err
}

// deriveFn computes the fingerprint for a user-function transform. An
// unnamed function has no canonical identity and fails unless the cache
// manager's random fingerprint fallback is enabled.
func (d *Dataset) deriveFn(transformID, fnName, fnVersion string, extra map[string]interface{}) (fingerprint.Fingerprint, error) {
	if fnName == "" {
		if !d.mgr.RandomFingerprintFallback() {
			return fingerprint.Zero, errors.Newf(errors.ErrorTypeFingerprint,
				"%s function has no cache identity; name it or enable the random fingerprint fallback", transformID)
		}
		d.log.Warn("unnamed transform function, using cache-defeating random fingerprint",
			zap.String("transform", transformID))
		return fingerprint.Random(), nil
	}
	args := map[string]interface{}{
		"fn":      fnName,
		"version": fnVersion,
	}
	for k, v := range extra {
		args[k] = v
	}
	return d.derive(transformID, args)
}

// indexTransform runs a reorder-only transform: only the new index mapping
// is cached, the table bytes are untouched.
func (d *Dataset) indexTransform(transformID string, fp fingerprint.Fingerprint, compute func() ([]int64, error)) (*Dataset, error) {
	timer := metrics.NewTimer()
	indices, basePath, err := d.mgr.GetOrComputeIndex(fp, d.tbl.Path(), compute)
	if err != nil {
		return nil, err
	}
	timer.ObserveCompute(transformID)

	tbl := d.tbl
	if basePath != d.tbl.Path() {
		tbl, err = table.Load(basePath)
		if err != nil {
			return nil, err
		}
	}
	return newView(d.mgr, tbl, indices, d.feats, fp), nil
}

// tableTransform runs a row-rewriting transform through the cache manager.
func (d *Dataset) tableTransform(transformID string, fp fingerprint.Fingerprint, outFeats *schema.Features, compute cacheComputeFunc) (*Dataset, error) {
	timer := metrics.NewTimer()
	tbl, err := d.mgr.GetOrCompute(fp, outFeats, compute)
	if err != nil {
		return nil, err
	}
	timer.ObserveCompute(transformID)
	return newView(d.mgr, tbl, nil, outFeats, fp), nil
}

type cacheComputeFunc = func() ([]table.Row, error)

// Map applies fn to every row, materializing a new table. outFeats declares
// the output schema; nil means the schema is unchanged.
func (d *Dataset) Map(fn MapFunc, outFeats *schema.Features) (*Dataset, error) {
	if fn.Fn == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "map function must not be nil")
	}
	if outFeats == nil {
		outFeats = d.feats
	}

	fp, err := d.deriveFn("map", fn.Name, fn.Version, map[string]interface{}{
		"features": outFeats.CanonicalArgs(),
	})
	if err != nil {
		return nil, err
	}

	return d.tableTransform("map", fp, outFeats, func() ([]table.Row, error) {
		n := d.NumRows()
		out := make([]table.Row, 0, n)
		for i := int64(0); i < n; i++ {
			row, err := d.Row(i)
			if err != nil {
				return nil, err
			}
			mapped, err := fn.Fn(row)
			if err != nil {
				return nil, fmt.Errorf("map %q at row %d: %w", fn.Name, i, err)
			}
			out = append(out, mapped)
		}
		return out, nil
	})
}

// Filter keeps the rows for which pred returns true. Only the index mapping
// is cached; the table bytes are never rewritten.
func (d *Dataset) Filter(pred Predicate) (*Dataset, error) {
	if pred.Fn == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "filter predicate must not be nil")
	}

	fp, err := d.deriveFn("filter", pred.Name, pred.Version, nil)
	if err != nil {
		return nil, err
	}

	return d.indexTransform("filter", fp, func() ([]int64, error) {
		phys := d.physicalIndices()
		kept := make([]int64, 0, len(phys))
		for i, idx := range phys {
			row, err := d.tbl.Row(idx)
			if err != nil {
				return nil, err
			}
			keep, err := pred.Fn(row)
			if err != nil {
				return nil, fmt.Errorf("filter %q at row %d: %w", pred.Name, i, err)
			}
			if keep {
				kept = append(kept, idx)
			}
		}
		return kept, nil
	})
}

// SelectColumns materializes a new table restricted to the given columns.
func (d *Dataset) SelectColumns(names []string) (*Dataset, error) {
	outFeats, err := d.feats.Select(names)
	if err != nil {
		return nil, err
	}

	fp, err := d.derive("select_columns", map[string]interface{}{
		"columns": names,
	})
	if err != nil {
		return nil, err
	}

	return d.tableTransform("select_columns", fp, outFeats, func() ([]table.Row, error) {
		n := d.NumRows()
		out := make([]table.Row, 0, n)
		for i := int64(0); i < n; i++ {
			row, err := d.Row(i)
			if err != nil {
				return nil, err
			}
			slim := make(table.Row, len(names))
			for _, name := range names {
				slim[name] = row[name]
			}
			out = append(out, slim)
		}
		return out, nil
	})
}

// RenameColumn materializes a new table with one column renamed.
func (d *Dataset) RenameColumn(oldName, newName string) (*Dataset, error) {
	outFeats, err := d.feats.Rename(oldName, newName)
	if err != nil {
		return nil, err
	}

	fp, err := d.derive("rename_column", map[string]interface{}{
		"old": oldName,
		"new": newName,
	})
	if err != nil {
		return nil, err
	}

	return d.tableTransform("rename_column", fp, outFeats, func() ([]table.Row, error) {
		n := d.NumRows()
		out := make([]table.Row, 0, n)
		for i := int64(0); i < n; i++ {
			row, err := d.Row(i)
			if err != nil {
				return nil, err
			}
			renamed := make(table.Row, len(row))
			for k, v := range row {
				if k == oldName {
					renamed[newName] = v
				} else {
					renamed[k] = v
				}
			}
			out = append(out, renamed)
		}
		return out, nil
	})
}

// Sort orders the view by a column, caching only the index mapping. The
// sort is stable, so equal keys keep their current relative order.
func (d *Dataset) Sort(column string, descending bool) (*Dataset, error) {
	if _, ok := d.feats.Get(column); !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "column %q not in features", column)
	}

	fp, err := d.derive("sort", map[string]interface{}{
		"column":     column,
		"descending": descending,
	})
	if err != nil {
		return nil, err
	}

	return d.indexTransform("sort", fp, func() ([]int64, error) {
		values, err := d.Column(column)
		if err != nil {
			return nil, err
		}
		phys := d.physicalIndices()

		order := make([]int, len(phys))
		for i := range order {
			order[i] = i
		}
		var sortErr error
		sort.SliceStable(order, func(a, b int) bool {
			c, err := compareValues(values[order[a]], values[order[b]])
			if err != nil && sortErr == nil {
				sortErr = err
			}
			if descending {
				return c > 0
			}
			return c < 0
		})
		if sortErr != nil {
			return nil, sortErr
		}

		out := make([]int64, len(phys))
		for i, o := range order {
			out[i] = phys[o]
		}
		return out, nil
	})
}

// Shuffle permutes the view with a seeded generator. The seed is part of
// the transform arguments, so shuffling with the same seed always yields
// the same fingerprint and the same cached permutation. Use Seeded(s) for
// reproducible pipelines; Unseeded() draws a fresh seed and records it.
func (d *Dataset) Shuffle(seed Seed) (*Dataset, error) {
	s := seed.value()

	fp, err := d.derive("shuffle", map[string]interface{}{
		"seed": s,
	})
	if err != nil {
		return nil, err
	}

	return d.indexTransform("shuffle", fp, func() ([]int64, error) {
		phys := d.physicalIndices()
		rng := mrand.New(mrand.NewSource(int64(s)))
		perm := rng.Perm(len(phys))

		out := make([]int64, len(phys))
		for i, p := range perm {
			out[i] = phys[p]
		}
		return out, nil
	})
}

// Select restricts the view to the given logical row indices, in order.
func (d *Dataset) Select(rows []int64) (*Dataset, error) {
	n := d.NumRows()
	for _, r := range rows {
		if r < 0 || r >= n {
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"row index %d out of range [0, %d)", r, n)
		}
	}

	fp, err := d.derive("select", map[string]interface{}{
		"rows": rows,
	})
	if err != nil {
		return nil, err
	}

	return d.indexTransform("select", fp, func() ([]int64, error) {
		phys := d.physicalIndices()
		out := make([]int64, len(rows))
		for i, r := range rows {
			out[i] = phys[r]
		}
		return out, nil
	})
}

// Shard splits the view into numShards near-equal parts and keeps part
// index. Contiguous sharding takes consecutive blocks; otherwise rows are
// assigned round-robin by position.
func (d *Dataset) Shard(numShards, index int64, contiguous bool) (*Dataset, error) {
	if numShards <= 0 || index < 0 || index >= numShards {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"invalid shard %d of %d", index, numShards)
	}

	fp, err := d.derive("shard", map[string]interface{}{
		"num_shards": numShards,
		"index":      index,
		"contiguous": contiguous,
	})
	if err != nil {
		return nil, err
	}

	return d.indexTransform("shard", fp, func() ([]int64, error) {
		phys := d.physicalIndices()
		n := int64(len(phys))
		var out []int64
		if contiguous {
			div := n / numShards
			mod := n % numShards
			start := div*index + min64(index, mod)
			end := start + div
			if index < mod {
				end++
			}
			out = append(out, phys[start:end]...)
		} else {
			for i := index; i < n; i += numShards {
				out = append(out, phys[i])
			}
		}
		return out, nil
	})
}

// TrainTestSplit shuffles the view with the given seed and splits it into
// train and test views. testSize is the fraction of rows assigned to test,
// rounded down, with at least one row in each side for non-degenerate
// inputs.
func (d *Dataset) TrainTestSplit(testSize float64, seed Seed) (train, test *Dataset, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.Newf(errors.ErrorTypeValidation,
			"test size %v outside (0, 1)", testSize)
	}

	s := seed.value()
	n := d.NumRows()
	testRows := int64(float64(n) * testSize)
	if n >= 2 {
		if testRows == 0 {
			testRows = 1
		}
		if testRows == n {
			testRows = n - 1
		}
	}

	split := func(name string) (*Dataset, error) {
		fp, err := d.derive("train_test_split", map[string]interface{}{
			"test_size": testSize,
			"seed":      s,
			"split":     name,
		})
		if err != nil {
			return nil, err
		}
		return d.indexTransform("train_test_split", fp, func() ([]int64, error) {
			phys := d.physicalIndices()
			rng := mrand.New(mrand.NewSource(int64(s)))
			perm := rng.Perm(len(phys))

			shuffled := make([]int64, len(phys))
			for i, p := range perm {
				shuffled[i] = phys[p]
			}
			if name == "test" {
				return shuffled[:testRows], nil
			}
			return shuffled[testRows:], nil
		})
	}

	if train, err = split("train"); err != nil {
		return nil, nil, err
	}
	if test, err = split("test"); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

// Concatenate materializes this view followed by the others into one table.
// All views must share the same feature schema.
func (d *Dataset) Concatenate(others ...*Dataset) (*Dataset, error) {
	lineage := make([]string, 0, len(others))
	for _, o := range others {
		if !d.feats.Equal(o.feats) {
			return nil, errors.New(errors.ErrorTypeSchemaMismatch,
				"concatenated datasets must share a schema")
		}
		lineage = append(lineage, string(o.fp))
	}

	fp, err := d.derive("concatenate", map[string]interface{}{
		"others": lineage,
	})
	if err != nil {
		return nil, err
	}

	return d.tableTransform("concatenate", fp, d.feats, func() ([]table.Row, error) {
		out, err := d.Rows()
		if err != nil {
			return nil, err
		}
		for _, o := range others {
			rows, err := o.Rows()
			if err != nil {
				return nil, err
			}
			out = append(out, rows...)
		}
		return out, nil
	})
}

// Flatten materializes the index mapping into a contiguous table. A view
// without a mapping is returned unchanged.
func (d *Dataset) Flatten() (*Dataset, error) {
	if d.indices == nil {
		return d, nil
	}

	fp, err := d.derive("flatten_indices", map[string]interface{}{})
	if err != nil {
		return nil, err
	}

	return d.tableTransform("flatten_indices", fp, d.feats, func() ([]table.Row, error) {
		return d.Rows()
	})
}

// Unique returns the distinct values of a column in first-seen order.
func (d *Dataset) Unique(column string) ([]interface{}, error) {
	values, err := d.Column(column)
	if err != nil {
		return nil, err
	}

	seen := make(map[interface{}]struct{}, len(values))
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		var key interface{}
		switch kv := v.(type) {
		case []interface{}:
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"unique is not supported on sequence column %q", column)
		case []byte:
			key = string(kv)
		default:
			key = v
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// Seed names the shuffle seed policy.
type Seed struct {
	set  bool
	seed uint64
}

// Seeded fixes the shuffle seed explicitly for reproducible pipelines. The
// seed is normalized to the 63-bit range of the argument encoding, so the
// top bit does not contribute to the view's identity.
func Seeded(s uint64) Seed { return Seed{set: true, seed: s} }

// Unseeded draws a fresh seed. The drawn seed still feeds the fingerprint,
// so the resulting view is internally consistent, but it will not match
// any other session's fingerprints.
func Unseeded() Seed { return Seed{} }

func (s Seed) value() uint64 {
	if s.set {
		return s.seed &^ (1 << 63)
	}
	return drawSeed()
}

// compareValues orders two scalar cell values of the same type.
func compareValues(a, b interface{}) (int, error) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, nil
		case a == nil:
			return -1, nil
		default:
			return 1, nil
		}
	}

	switch av := a.(type) {
	case int64:
		bv, ok := b.(int64)
		if !ok {
			break
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		}
		return 0, nil
	case float64:
		bv, ok := b.(float64)
		if !ok {
			break
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		}
		return 0, nil
	case string:
		bv, ok := b.(string)
		if !ok {
			break
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		}
		return 0, nil
	case bool:
		bv, ok := b.(bool)
		if !ok {
			break
		}
		switch {
		case !av && bv:
			return -1, nil
		case av && !bv:
			return 1, nil
		}
		return 0, nil
	}
	return 0, errors.Newf(errors.ErrorTypeValidation,
		"cannot compare values of types %T and %T", a, b)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
