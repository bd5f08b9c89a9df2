package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease never releases somebody else's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type RedisConfig struct {
	Addrs      []string
	Username   string
	Password   string
	MasterName string
	Prefix     string
	// TTL bounds how long a crashed holder can block a session.
	TTL          time.Duration
	PollInterval time.Duration
	DialTimeout  time.Duration
}

// RedisLocker is a Locker shared by every replica pointing at the same Redis.
type RedisLocker struct {
	client       redis.UniversalClient
	prefix       string
	ttl          time.Duration
	pollInterval time.Duration
}

func NewRedisLocker(cfg RedisConfig) (*RedisLocker, error) {
	addrs := make([]string, 0, len(cfg.Addrs))
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       addrs,
		MasterName:  strings.TrimSpace(cfg.MasterName),
		Username:    strings.TrimSpace(cfg.Username),
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
		MaxRetries:  2,
	})
	return NewRedisLockerWithClient(client, cfg), nil
}

func NewRedisLockerWithClient(client redis.UniversalClient, cfg RedisConfig) *RedisLocker {
	l := &RedisLocker{
		client:       client,
		prefix:       cfg.Prefix,
		ttl:          cfg.TTL,
		pollInterval: cfg.PollInterval,
	}
	if l.prefix == "" {
		l.prefix = "orchestrator:lock:"
	}
	if l.ttl <= 0 {
		l.ttl = 45 * time.Second
	}
	if l.pollInterval <= 0 {
		l.pollInterval = 50 * time.Millisecond
	}
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("acquire %s: %w", redisKey, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(ctx, redisKey, token) })
	}, nil
}

func (l *RedisLocker) release(ctx context.Context, redisKey, token string) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", redisKey).Msg("failed to release redis lock")
	}
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
