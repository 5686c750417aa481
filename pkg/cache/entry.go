package cache

import (
	"fmt"
	"os"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clefourrier/datasets/pkg/errors"
	"github.com/clefourrier/datasets/pkg/fingerprint"
	"github.com/clefourrier/datasets/pkg/metrics"
	"github.com/clefourrier/datasets/pkg/schema"
	"github.com/clefourrier/datasets/pkg/table"
)

// entryKind distinguishes full table materializations from index-mapping
// sidecars of reorder-only transforms.
type entryKind string

const (
	kindTable entryKind = "table"
	kindIndex entryKind = "index"
)

// Entry is the JSON sidecar written next to every cache payload. A reader
// only trusts a payload whose sidecar checksum matches; the sidecar is
// renamed into place after the payload, so its presence implies a complete
// payload.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	Kind        entryKind `json:"kind"`
	CreatedAt   time.Time `json:"created_at"`
	NumRows     int64     `json:"num_rows"`
	Columns     []string  `json:"columns,omitempty"`
	Checksum    string    `json:"checksum"`
	// BasePath is set for index entries: the physical table the mapping
	// points into.
	BasePath string `json:"base_path,omitempty"`
}

// lookupTable returns the cached table for fp if a complete, uncorrupted
// entry exists. Corruption is detected explicitly (sidecar checksum, arrow
// open) and never guessed; a corrupt entry is quarantined and reported as
// a miss.
func (m *Manager) lookupTable(fp fingerprint.Fingerprint) (*table.Table, bool) {
	entry, err := m.readSidecar(fp)
	if err != nil || entry == nil {
		if err != nil {
			m.quarantine(fp, err)
		}
		return nil, false
	}
	if entry.Kind != kindTable {
		return nil, false
	}

	path := m.tablePath(fp)
	if err := m.verifyChecksum(path, entry.Checksum); err != nil {
		m.quarantine(fp, err)
		return nil, false
	}

	t, err := table.Load(path)
	if err != nil {
		m.quarantine(fp, err)
		return nil, false
	}
	if t.NumRows() != entry.NumRows {
		_ = t.Close()
		m.quarantine(fp, errors.Newf(errors.ErrorTypeCorruptTable,
			"row count %d does not match sidecar %d", t.NumRows(), entry.NumRows))
		return nil, false
	}
	return t, true
}

// lookupIndex returns the cached index mapping and its base table path.
func (m *Manager) lookupIndex(fp fingerprint.Fingerprint) ([]int64, string, bool) {
	entry, err := m.readSidecar(fp)
	if err != nil || entry == nil {
		if err != nil {
			m.quarantine(fp, err)
		}
		return nil, "", false
	}
	if entry.Kind != kindIndex {
		return nil, "", false
	}

	path := m.indexPath(fp)
	if err := m.verifyChecksum(path, entry.Checksum); err != nil {
		m.quarantine(fp, err)
		return nil, "", false
	}

	indices, err := readIndexFile(path)
	if err != nil {
		m.quarantine(fp, err)
		return nil, "", false
	}
	if int64(len(indices)) != entry.NumRows {
		m.quarantine(fp, errors.Newf(errors.ErrorTypeCorruptTable,
			"index length %d does not match sidecar %d", len(indices), entry.NumRows))
		return nil, "", false
	}
	return indices, entry.BasePath, true
}

// writeTable materializes rows under fp with the temp-then-rename protocol.
func (m *Manager) writeTable(fp fingerprint.Fingerprint, rows []table.Row, feats *schema.Features) error {
	tmp := m.tempPath(fp)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCacheWrite,
			fmt.Sprintf("cannot create temp file %s", tmp))
	}

	writeErr := table.WriteTo(f, rows, feats)
	if writeErr == nil {
		writeErr = f.Sync()
	}
	if closeErr := f.Close(); writeErr == nil && closeErr != nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(tmp)
		if errors.IsType(writeErr, errors.ErrorTypeSchemaMismatch) {
			return writeErr
		}
		return errors.Wrap(writeErr, errors.ErrorTypeCacheWrite,
			"cannot materialize table").WithDetail("fingerprint", string(fp))
	}

	checksum, size, err := checksumFile(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, m.tablePath(fp)); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeCacheWrite,
			fmt.Sprintf("cannot rename into %s", m.tablePath(fp)))
	}

	entry := &Entry{
		Fingerprint: string(fp),
		Kind:        kindTable,
		CreatedAt:   time.Now().UTC(),
		NumRows:     int64(len(rows)),
		Columns:     feats.Names(),
		Checksum:    checksum,
	}
	if err := m.writeSidecar(fp, entry); err != nil {
		return err
	}

	metrics.CacheBytes.WithLabelValues(string(kindTable)).Add(float64(size))
	m.log.Debug("materialized table",
		zap.String("fingerprint", string(fp)),
		zap.Int("rows", len(rows)),
		zap.Int64("bytes", size))
	return nil
}

// writeIndex persists an index mapping under fp.
func (m *Manager) writeIndex(fp fingerprint.Fingerprint, basePath string, indices []int64) error {
	tmp := m.tempPath(fp)
	if err := writeIndexFile(tmp, indices); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	checksum, size, err := checksumFile(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, m.indexPath(fp)); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeCacheWrite,
			fmt.Sprintf("cannot rename into %s", m.indexPath(fp)))
	}

	entry := &Entry{
		Fingerprint: string(fp),
		Kind:        kindIndex,
		CreatedAt:   time.Now().UTC(),
		NumRows:     int64(len(indices)),
		Checksum:    checksum,
		BasePath:    basePath,
	}
	if err := m.writeSidecar(fp, entry); err != nil {
		return err
	}

	metrics.CacheBytes.WithLabelValues(string(kindIndex)).Add(float64(size))
	return nil
}

// readSidecar returns nil, nil when no sidecar exists.
func (m *Manager) readSidecar(fp fingerprint.Fingerprint) (*Entry, error) {
	data, err := os.ReadFile(m.sidecarPath(fp))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCorruptTable,
			fmt.Sprintf("cannot read sidecar for %s", fp))
	}

	var entry Entry
	if err := gojson.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCorruptTable,
			fmt.Sprintf("invalid sidecar for %s", fp))
	}
	if entry.Fingerprint != string(fp) {
		return nil, errors.Newf(errors.ErrorTypeCorruptTable,
			"sidecar fingerprint %s does not match %s", entry.Fingerprint, fp)
	}
	return &entry, nil
}

// writeSidecar renames the sidecar into place last, making the entry
// visible atomically.
func (m *Manager) writeSidecar(fp fingerprint.Fingerprint, entry *Entry) error {
	data, err := gojson.MarshalIndent(entry, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCacheWrite, "cannot encode sidecar")
	}

	tmp := m.tempPath(fp)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCacheWrite,
			fmt.Sprintf("cannot write sidecar temp %s", tmp))
	}
	if err := os.Rename(tmp, m.sidecarPath(fp)); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeCacheWrite,
			fmt.Sprintf("cannot rename sidecar into %s", m.sidecarPath(fp)))
	}
	return nil
}

func (m *Manager) tempPath(fp fingerprint.Fingerprint) string {
	return m.dir + string(os.PathSeparator) + "tmp-" + string(fp) + "-" + uuid.NewString()
}

// verifyChecksum compares the file content hash against the sidecar record.
func (m *Manager) verifyChecksum(path, expected string) error {
	actual, _, err := checksumFile(path)
	if err != nil {
		return err
	}
	if actual != expected {
		return errors.Newf(errors.ErrorTypeCorruptTable,
			"checksum mismatch for %s", path).WithDetail("path", path)
	}
	return nil
}

func checksumFile(path string) (string, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, errors.Wrap(err, errors.ErrorTypeCorruptTable,
			fmt.Sprintf("cannot read %s", path))
	}
	return string(fingerprint.FromBytes(data)), int64(len(data)), nil
}
