// Package lock provides the per-repository run lock. A run holds a Lease
// from every configured layer: the in-process layer always, plus an
// optional file (same host) or Redis (cross host) layer. Acquisition never
// waits; a held lock is reported as Busy.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Aman-CERP/coderecall/internal/config"
	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

// Backend names accepted by New.
const (
	BackendNone  = "none"
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Locker hands out exclusive, non-blocking leases keyed by repository id.
type Locker interface {
	// TryAcquire returns a Busy error when repoID is already held.
	TryAcquire(ctx context.Context, repoID string) (Lease, error)
}

// Lease is a held lock. Release is idempotent.
type Lease interface {
	Release(ctx context.Context) error
}

// LocalLocker is the in-process layer.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryAcquire(_ context.Context, repoID string) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[repoID]; ok {
		return nil, crerrors.BusyError(repoID)
	}
	l.held[repoID] = struct{}{}
	return &localLease{locker: l, repoID: repoID}, nil
}

// Held reports whether repoID is locked in this process.
func (l *LocalLocker) Held(repoID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[repoID]
	return ok
}

type localLease struct {
	locker *LocalLocker
	repoID string
	once   sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.locker.mu.Lock()
		delete(l.locker.held, l.repoID)
		l.locker.mu.Unlock()
	})
	return nil
}

// Chain acquires every layer in order and releases them in reverse. If a
// later layer is busy, the layers already acquired are released.
type Chain []Locker

func (c Chain) TryAcquire(ctx context.Context, repoID string) (Lease, error) {
	leases := make(chainLease, 0, len(c))
	for _, l := range c {
		lease, err := l.TryAcquire(ctx, repoID)
		if err != nil {
			if rerr := leases.Release(ctx); rerr != nil {
				slog.Warn("lock_release_failed",
					slog.String("repository", repoID),
					slog.String("error", rerr.Error()))
			}
			return nil, err
		}
		leases = append(leases, lease)
	}
	return leases, nil
}

type chainLease []Lease

func (c chainLease) Release(ctx context.Context) error {
	var first error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Release(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// New builds the lock chain for cfg. lockDir holds file locks.
func New(cfg config.LockConfig, lockDir string) (Locker, error) {
	local := NewLocalLocker()
	switch strings.ToLower(cfg.Backend) {
	case BackendNone, "":
		return Chain{local}, nil
	case BackendFile:
		return Chain{local, NewFileLocker(lockDir)}, nil
	case BackendRedis:
		opts := &redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB}
		if cfg.RedisPasswordEnv != "" {
			opts.Password = os.Getenv(cfg.RedisPasswordEnv)
		}
		return Chain{local, NewRedisLocker(redis.NewClient(opts), cfg.TTL)}, nil
	default:
		return nil, crerrors.New(crerrors.ErrCodeUnknownBackend,
			fmt.Sprintf("unknown lock backend %q", cfg.Backend), nil).
			WithSuggestion("Use one of: none, file, redis")
	}
}

func unavailable(backend string, err error) error {
	return crerrors.New(crerrors.ErrCodeLockUnavailable, backend+" lock unavailable", err).
		WithDetail("backend", backend)
}
