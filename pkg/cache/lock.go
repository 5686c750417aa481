package cache

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/clefourrier/datasets/pkg/errors"
	"github.com/clefourrier/datasets/pkg/fingerprint"
)

// lockFile takes the per-fingerprint advisory lock, bounding the wait by
// the configured write timeout. With locking disabled the protocol degrades
// to atomic rename alone: racing processes may repeat the computation, and
// whichever rename lands last wins with identical content.
func (m *Manager) lockFile(fp fingerprint.Fingerprint) (func(), error) {
	if !m.useLocks {
		return func() {}, nil
	}

	f, err := os.OpenFile(m.lockPath(fp), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCacheWrite,
			fmt.Sprintf("cannot open lock file for %s", fp))
	}

	deadline := time.Now().Add(m.writeTimeout)
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if err != syscall.EWOULDBLOCK {
			f.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeCacheWrite,
				fmt.Sprintf("cannot lock cache entry %s", fp))
		}
		if m.writeTimeout > 0 && time.Now().After(deadline) {
			f.Close()
			return nil, errors.Newf(errors.ErrorTypeTimeout,
				"timed out waiting for cache lock on %s", fp).WithDetail("fingerprint", string(fp))
		}
		time.Sleep(10 * time.Millisecond)
	}

	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}, nil
}
