package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if this holder still owns it.
// KEYS[1] = lock key
// ARGV[1] = holder token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// DefaultTTL applies when RedisConfig.TTL is unset.
const DefaultTTL = time.Minute

// RedisConfig holds distributed lock configuration
type RedisConfig struct {
	Addr       string        `envconfig:"REDIS_ADDR"`
	Password   string        `envconfig:"REDIS_PASSWORD"`
	DB         int           `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix  string        `envconfig:"REDIS_LOCK_PREFIX" default:"paycore:lock:"`
	TTL        time.Duration `envconfig:"REDIS_LOCK_TTL" default:"60s"`
	RetryEvery time.Duration `envconfig:"REDIS_LOCK_RETRY" default:"25ms"`
}

// Redis is a Locker shared by every replica talking to the same Redis.
// TTL must outlive the longest critical section (executor timeout included).
type Redis struct {
	client redis.UniversalClient
	cfg    RedisConfig
	logger *slog.Logger
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, cfg RedisConfig, logger *slog.Logger) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RetryEvery <= 0 {
		cfg.RetryEvery = 25 * time.Millisecond
	}
	return &Redis{client: client, cfg: cfg, logger: logger}
}

// NewRedisClient dials Redis from config.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// Lock polls SET NX PX until acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := r.cfg.KeyPrefix + key
	token := ulid.Make().String()

	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.RetryEvery):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release even when the caller's context is already cancelled.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{fullKey}, token).Err(); err != nil {
				r.logger.Warn("failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}
