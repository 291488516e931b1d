package lock

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

const redisKeyPrefix = "coderecall:lock:"

// DefaultRedisTTL bounds how long a crashed holder blocks other hosts.
const DefaultRedisTTL = time.Minute

// releaseScript deletes the key only while this owner still holds it.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLocker is the cross-host layer. Each lease writes a unique owner
// token with SET NX PX and refreshes the TTL from a keepalive goroutine
// until released.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	owner  string
}

// NewRedisLocker wraps client. A non-positive ttl uses DefaultRedisTTL.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	host, _ := os.Hostname()
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		owner:  fmt.Sprintf("%s:%d", host, os.Getpid()),
	}
}

func (r *RedisLocker) TryAcquire(ctx context.Context, repoID string) (Lease, error) {
	key := redisKeyPrefix + repoID
	token := r.owner + ":" + uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, unavailable(BackendRedis, err)
	}
	if !ok {
		holder, _ := r.client.Get(ctx, key).Result()
		return nil, crerrors.BusyError(repoID).WithDetail("holder", holder)
	}

	kctx, cancel := context.WithCancel(context.Background())
	lease := &redisLease{
		locker: r,
		key:    key,
		token:  token,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go lease.keepalive(kctx)
	return lease, nil
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (l *redisLease) keepalive(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.locker.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := extendScript.Run(ctx, l.locker.client, []string{l.key}, l.token, l.locker.ttl.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("lock_keepalive_failed",
					slog.String("key", l.key),
					slog.String("error", err.Error()))
				continue
			}
			if res == 0 {
				slog.Error("lock_lost", slog.String("key", l.key))
				return
			}
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.cancel()
		<-l.done
		err := releaseScript.Run(ctx, l.locker.client, []string{l.key}, l.token).Err()
		if err != nil && err != redis.Nil {
			l.err = unavailable(BackendRedis, err)
		}
	})
	return l.err
}
