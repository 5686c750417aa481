package cache

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/clefourrier/datasets/pkg/errors"
)

// Index-mapping file format: an 8-byte magic, a big-endian row count, then
// one big-endian int64 per logical row. Reorder-only transforms persist
// this instead of duplicating row data.
var indexMagic = []byte("DSETIDX1")

func writeIndexFile(path string, indices []int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCacheWrite,
			fmt.Sprintf("cannot create index file %s", path))
	}

	w := bufio.NewWriter(f)
	writeErr := func() error {
		if _, err := w.Write(indexMagic); err != nil {
			return err
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(len(indices)))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
		for _, idx := range indices {
			binary.BigEndian.PutUint64(buf[:], uint64(idx))
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		return f.Sync()
	}()

	if closeErr := f.Close(); writeErr == nil && closeErr != nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		return errors.Wrap(writeErr, errors.ErrorTypeCacheWrite,
			fmt.Sprintf("cannot write index file %s", path))
	}
	return nil
}

func readIndexFile(path string) ([]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCorruptTable,
			fmt.Sprintf("cannot read index file %s", path))
	}

	if len(data) < len(indexMagic)+8 || !bytes.Equal(data[:len(indexMagic)], indexMagic) {
		return nil, errors.Newf(errors.ErrorTypeCorruptTable,
			"invalid index file header in %s", path)
	}

	body := data[len(indexMagic):]
	count := binary.BigEndian.Uint64(body[:8])
	body = body[8:]

	if uint64(len(body)) != count*8 {
		return nil, errors.Newf(errors.ErrorTypeCorruptTable,
			"index file %s length does not match declared count %d", path, count)
	}

	indices := make([]int64, count)
	for i := range indices {
		indices[i] = int64(binary.BigEndian.Uint64(body[i*8 : i*8+8]))
	}
	return indices, nil
}
