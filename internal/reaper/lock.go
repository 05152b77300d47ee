package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultLockKey = "courtledger:lock:reaper"

// RedisLeader elects one reaper per pass with a redsync mutex.
type RedisLeader struct {
	rs     *redsync.Redsync
	key    string
	expiry time.Duration
	log    *zap.Logger
}

// NewRedisLeader builds a leader over client. expiry bounds how long a crashed
// replica can keep the lock.
func NewRedisLeader(client redis.UniversalClient, key string, expiry time.Duration, log *zap.Logger) *RedisLeader {
	if key == "" {
		key = DefaultLockKey
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLeader{
		rs:     redsync.New(goredis.NewPool(client)),
		key:    key,
		expiry: expiry,
		log:    log,
	}
}

func (l *RedisLeader) TryLead(ctx context.Context) (func(context.Context), bool, error) {
	mutex := l.rs.NewMutex(l.key, redsync.WithExpiry(l.expiry), redsync.WithTries(1))

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire reaper lock %s: %w", l.key, err)
	}

	release := func(ctx context.Context) {
		if ok, err := mutex.UnlockContext(ctx); !ok || err != nil {
			l.log.Warn("failed to release reaper lock", zap.String("key", l.key), zap.Error(err))
		}
	}
	return release, true, nil
}
