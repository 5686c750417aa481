// Package cache implements the on-disk transform cache: a mapping from
// lineage fingerprint to a materialized table file or index-mapping sidecar.
//
// Writers follow a write-to-temp-then-atomic-rename protocol and serialize
// per fingerprint through an advisory file lock, so racing callers across
// processes produce at most one kept result and a concurrent reader never
// observes a partial file. Entries are never evicted automatically: the
// cache grows until the owner of the directory calls Clear or deletes
// entries explicitly. That unbounded growth is a deliberate tradeoff, not
// a bug; fingerprint chaining means stale entries simply stop being
// addressed.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clefourrier/datasets/pkg/config"
	"github.com/clefourrier/datasets/pkg/errors"
	"github.com/clefourrier/datasets/pkg/fingerprint"
	"github.com/clefourrier/datasets/pkg/logger"
	"github.com/clefourrier/datasets/pkg/metrics"
	"github.com/clefourrier/datasets/pkg/schema"
	"github.com/clefourrier/datasets/pkg/table"
)

// ComputeFunc produces the rows of a materialized transform result.
type ComputeFunc func() ([]table.Row, error)

// IndexComputeFunc produces an index mapping over an existing base table.
type IndexComputeFunc func() ([]int64, error)

// Manager is the handle onto one cache directory. It may be shared by any
// number of goroutines; separate processes sharing the directory coordinate
// through per-fingerprint file locks.
type Manager struct {
	dir            string
	useLocks       bool
	writeTimeout   time.Duration
	randomFallback bool
	log            *zap.Logger

	mu       sync.Mutex
	inflight map[fingerprint.Fingerprint]*inflightKey
}

// NewManager opens (creating if needed) the cache directory described by cfg.
func NewManager(cfg config.CacheConfig) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "cache dir must not be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCacheWrite,
			fmt.Sprintf("cannot create cache dir %s", cfg.Dir))
	}

	return &Manager{
		dir:            cfg.Dir,
		useLocks:       cfg.UseLocks,
		writeTimeout:   cfg.WriteTimeout,
		randomFallback: cfg.RandomFingerprintFallback,
		log:            logger.With(zap.String("cache_dir", cfg.Dir)),
		inflight:       make(map[fingerprint.Fingerprint]*inflightKey),
	}, nil
}

// Dir returns the cache directory path.
func (m *Manager) Dir() string { return m.dir }

// RandomFingerprintFallback reports whether transforms without a canonical
// cache identity degrade to a session-unique random fingerprint instead of
// failing.
func (m *Manager) RandomFingerprintFallback() bool { return m.randomFallback }

// tablePath is the deterministic location of a materialized table. Two
// processes computing the same fingerprint always target the same path.
func (m *Manager) tablePath(fp fingerprint.Fingerprint) string {
	return filepath.Join(m.dir, string(fp)+".arrow")
}

func (m *Manager) indexPath(fp fingerprint.Fingerprint) string {
	return filepath.Join(m.dir, string(fp)+".idx")
}

func (m *Manager) sidecarPath(fp fingerprint.Fingerprint) string {
	return filepath.Join(m.dir, string(fp)+".json")
}

func (m *Manager) lockPath(fp fingerprint.Fingerprint) string {
	return filepath.Join(m.dir, string(fp)+".lock")
}

// GetOrCompute returns the materialized table for fp, computing and caching
// it when absent. compute is invoked at most once per fingerprint in the
// common case; a compute failure leaves no trace in the cache.
func (m *Manager) GetOrCompute(fp fingerprint.Fingerprint, feats *schema.Features, compute ComputeFunc) (*table.Table, error) {
	if !fp.Valid() {
		return nil, errors.Newf(errors.ErrorTypeValidation, "invalid fingerprint %q", fp)
	}

	release := m.acquireKey(fp)
	defer release()

	if t, ok := m.lookupTable(fp); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return t, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	unlock, err := m.lockFile(fp)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another process may have won the race while we waited on the lock
	if t, ok := m.lookupTable(fp); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return t, nil
	}

	rows, err := compute()
	if err != nil {
		metrics.CacheWrites.WithLabelValues("table", "failure").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeTransformCompute,
			"transform computation failed").WithDetail("fingerprint", string(fp))
	}

	if err := m.writeTable(fp, rows, feats); err != nil {
		metrics.CacheWrites.WithLabelValues("table", "failure").Inc()
		return nil, err
	}
	metrics.CacheWrites.WithLabelValues("table", "success").Inc()

	t, err := table.Load(m.tablePath(fp))
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetOrComputeIndex returns the cached index mapping for fp, computing and
// caching it when absent. basePath records which physical table the mapping
// points into; it is stored in the sidecar and returned on hits so a view
// can be rebuilt without re-walking its lineage.
func (m *Manager) GetOrComputeIndex(fp fingerprint.Fingerprint, basePath string, compute IndexComputeFunc) ([]int64, string, error) {
	if !fp.Valid() {
		return nil, "", errors.Newf(errors.ErrorTypeValidation, "invalid fingerprint %q", fp)
	}

	release := m.acquireKey(fp)
	defer release()

	if idx, base, ok := m.lookupIndex(fp); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return idx, base, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	unlock, err := m.lockFile(fp)
	if err != nil {
		return nil, "", err
	}
	defer unlock()

	if idx, base, ok := m.lookupIndex(fp); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return idx, base, nil
	}

	indices, err := compute()
	if err != nil {
		metrics.CacheWrites.WithLabelValues("index", "failure").Inc()
		return nil, "", errors.Wrap(err, errors.ErrorTypeTransformCompute,
			"transform computation failed").WithDetail("fingerprint", string(fp))
	}

	if err := m.writeIndex(fp, basePath, indices); err != nil {
		metrics.CacheWrites.WithLabelValues("index", "failure").Inc()
		return nil, "", err
	}
	metrics.CacheWrites.WithLabelValues("index", "success").Inc()

	return indices, basePath, nil
}

// Has reports whether a readable entry exists for fp.
func (m *Manager) Has(fp fingerprint.Fingerprint) bool {
	if _, err := os.Stat(m.sidecarPath(fp)); err != nil {
		return false
	}
	return true
}

// Delete removes the entry for fp, if present.
func (m *Manager) Delete(fp fingerprint.Fingerprint) error {
	release := m.acquireKey(fp)
	defer release()

	for _, p := range []string{m.tablePath(fp), m.indexPath(fp), m.sidecarPath(fp), m.lockPath(fp)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, errors.ErrorTypeCacheWrite,
				fmt.Sprintf("cannot remove cache file %s", p))
		}
	}
	return nil
}

// Clear removes every entry in the cache directory. Files that do not look
// like cache entries are left alone.
func (m *Manager) Clear() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCacheWrite,
			fmt.Sprintf("cannot read cache dir %s", m.dir))
	}

	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".arrow"),
			strings.HasSuffix(name, ".idx"),
			strings.HasSuffix(name, ".json"),
			strings.HasSuffix(name, ".lock"),
			strings.HasPrefix(name, "tmp-"),
			strings.Contains(name, ".corrupt-"):
			if err := os.Remove(filepath.Join(m.dir, name)); err != nil && !os.IsNotExist(err) {
				return errors.Wrap(err, errors.ErrorTypeCacheWrite,
					fmt.Sprintf("cannot remove cache file %s", name))
			}
		}
	}

	m.log.Info("cleared cache directory")
	return nil
}

// quarantine renames a corrupt entry aside so the next writer can
// rematerialize without destroying the evidence.
func (m *Manager) quarantine(fp fingerprint.Fingerprint, reason error) {
	suffix := ".corrupt-" + uuid.NewString()[:8]
	for _, p := range []string{m.tablePath(fp), m.indexPath(fp), m.sidecarPath(fp)} {
		if _, err := os.Stat(p); err == nil {
			_ = os.Rename(p, p+suffix)
		}
	}
	metrics.CacheLookups.WithLabelValues("corrupt").Inc()
	m.log.Warn("quarantined corrupt cache entry",
		zap.String("fingerprint", string(fp)),
		zap.Error(reason))
}

// acquireKey serializes in-process callers per fingerprint so compute runs
// at most once even before the file lock is reached.
func (m *Manager) acquireKey(fp fingerprint.Fingerprint) func() {
	m.mu.Lock()
	key, ok := m.inflight[fp]
	if !ok {
		key = &inflightKey{}
		m.inflight[fp] = key
	}
	key.refs++
	m.mu.Unlock()

	key.mu.Lock()
	return func() {
		key.mu.Unlock()
		m.mu.Lock()
		key.refs--
		if key.refs == 0 {
			delete(m.inflight, fp)
		}
		m.mu.Unlock()
	}
}

type inflightKey struct {
	mu   sync.Mutex
	refs int
}
