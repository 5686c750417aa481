// Package datasets provides a columnar, memory-mapped dataset storage core
// with content-addressed transform caching and lazy view composition.
//
// Datasets are stored as immutable Arrow IPC files and memory-mapped on
// load, so arbitrarily many views can read a table concurrently without
// copying it into process memory. Every transform result is identified by a
// deterministic lineage fingerprint: the hash of the input view's
// fingerprint, the transform name, and the canonicalized transform
// arguments. Identical pipelines therefore reproduce identical
// fingerprints across processes and machines, and their results are shared
// through an on-disk cache instead of being recomputed.
//
// # Architecture
//
// The core is organized around three ideas:
//
// 1. Immutable storage: a table file is written once, atomically, and never
// mutated. Row selection and reordering are logical views holding an index
// mapping over a shared table.
//
// 2. Content-addressed caching: the cache directory maps fingerprints to
// materialized tables or index mappings. Writers follow a
// write-to-temp-then-rename protocol behind per-fingerprint file locks, so
// racing processes produce at most one kept result.
//
// 3. Lazy streaming: sharded JSON-lines datasets are iterated through a
// bounded-prefetch fetch pipeline without materializing anything, with
// explicit cursors for resumption.
//
// # Quick Start
//
// Load rows, filter and shuffle them reproducibly:
//
//	import (
//	    "github.com/clefourrier/datasets/pkg/cache"
//	    "github.com/clefourrier/datasets/pkg/config"
//	    "github.com/clefourrier/datasets/pkg/dataset"
//	    "github.com/clefourrier/datasets/pkg/schema"
//	)
//
//	cfg := config.NewBaseConfig("squad")
//	mgr, _ := cache.NewManager(cfg.Cache)
//
//	feats := schema.NewFeatures().
//	    Add("id", schema.Value{DType: schema.DTypeInt64}).
//	    Add("text", schema.Value{DType: schema.DTypeString})
//
//	ds, _ := dataset.FromRows(mgr, "squad", rows, feats)
//	filtered, _ := ds.Filter(dataset.Predicate{
//	    Name: "even_ids", Version: "1",
//	    Fn: func(row map[string]interface{}) (bool, error) {
//	        return row["id"].(int64)%2 == 0, nil
//	    },
//	})
//	shuffled, _ := filtered.Shuffle(dataset.Seeded(42))
//
// Re-running the same pipeline in another process yields the same
// fingerprints and hits the cache.
//
// # Key Packages
//
//	pkg/table       - Memory-mapped columnar table store (Arrow IPC)
//	pkg/dataset     - Lazy views and transforms over tables
//	pkg/fingerprint - Deterministic transform lineage hashing
//	pkg/cache       - On-disk transform cache with atomic writes
//	pkg/streaming   - Resumable shard iterator with bounded prefetch
//	pkg/schema      - Feature schemas, class labels, sequences
//	pkg/fetch       - Shard byte-stream fetching (local, HTTP/2)
//	pkg/compression - Shard payload codecs (gzip, zstd, lz4, snappy, s2)
//	pkg/config      - Unified configuration
//	pkg/errors      - Structured error handling
//	pkg/logger      - Structured logging
//	pkg/metrics     - Cache and streaming metrics
package datasets
