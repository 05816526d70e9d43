// Package redislock implements a single-holder job lock on Redis.
package redislock

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/pos-rewards/internal/domain/membership"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another holder is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ membership.Locker = (*Locker)(nil)

// Locker acquires keys with SET NX PX.
type Locker struct {
	client redis.Cmdable
	prefix string
}

// New returns a Locker namespacing keys under prefix.
func New(client redis.Cmdable, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// TryLock takes key for ttl. It returns membership.ErrLocked when another
// holder owns the key.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "set %s", fullKey)
	}
	if !ok {
		return nil, membership.ErrLocked
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err(); err != nil {
			return errors.Wrapf(err, "release %s", fullKey)
		}
		return nil
	}, nil
}

// NewClient parses a redis:// URL and verifies the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}
