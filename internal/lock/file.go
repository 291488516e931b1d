package lock

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

// FileLocker takes an flock on <dir>/<repo>.lock. It excludes other
// processes on the same host; the kernel drops the lock if the process dies.
type FileLocker struct {
	dir string
}

// NewFileLocker creates a locker rooted at dir.
func NewFileLocker(dir string) *FileLocker {
	return &FileLocker{dir: dir}
}

func (f *FileLocker) path(repoID string) string {
	return filepath.Join(f.dir, url.PathEscape(repoID)+".lock")
}

func (f *FileLocker) TryAcquire(_ context.Context, repoID string) (Lease, error) {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, unavailable(BackendFile, err)
	}

	fl := flock.New(f.path(repoID))
	acquired, err := fl.TryLock()
	if err != nil {
		return nil, unavailable(BackendFile, err)
	}
	if !acquired {
		return nil, crerrors.BusyError(repoID).WithDetail("lock", fl.Path())
	}
	return &fileLease{flock: fl}, nil
}

type fileLease struct {
	mu    sync.Mutex
	flock *flock.Flock
}

func (l *fileLease) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return unavailable(BackendFile, err)
	}
	return nil
}
