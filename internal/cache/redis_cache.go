package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramincsy/Sarafchi/internal/models"
)

type CacheService interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Ledger snapshot caching. The snapshot query touches every user and
	// wallet, so read endpoints share one short-lived cached copy.
	CacheSnapshot(ctx context.Context, rows []models.LedgerRow, expiration time.Duration) error
	GetCachedSnapshot(ctx context.Context) ([]models.LedgerRow, error)
	InvalidateSnapshot(ctx context.Context) error

	// Counter operations for rate limiting.
	Increment(ctx context.Context, key string, expiration time.Duration) (int64, error)

	// Client exposes the underlying connection for components that need
	// raw Redis commands, like the distributed lock repository.
	Client() *redis.Client

	Ping(ctx context.Context) error
	Close() error
}

type redisCache struct {
	client *redis.Client
	config *CacheConfig
}

type CacheConfig struct {
	Host         string
	Port         int
	Password     string
	Database     int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	Timeout      time.Duration
	KeyPrefix    string
}

func NewRedisCache(config *CacheConfig) (CacheService, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password:     config.Password,
		DB:           config.Database,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.Timeout,
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &redisCache{client: rdb, config: config}, nil
}

func (r *redisCache) Client() *redis.Client {
	return r.client
}

func (r *redisCache) buildKey(key string) string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:%s", r.config.KeyPrefix, key)
	}
	return key
}

func (r *redisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return r.client.Set(ctx, r.buildKey(key), data, expiration).Err()
}

func (r *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, r.buildKey(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("key %s: %w", key, models.ErrNotFound)
		}
		return fmt.Errorf("failed to get value: %w", err)
	}
	return json.Unmarshal([]byte(data), dest)
}

func (r *redisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.buildKey(key)).Err()
}

func (r *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	result, err := r.client.Exists(ctx, r.buildKey(key)).Result()
	return result > 0, err
}

const snapshotKey = "equilibrium:snapshot"

func (r *redisCache) CacheSnapshot(ctx context.Context, rows []models.LedgerRow, expiration time.Duration) error {
	return r.Set(ctx, snapshotKey, rows, expiration)
}

func (r *redisCache) GetCachedSnapshot(ctx context.Context) ([]models.LedgerRow, error) {
	var rows []models.LedgerRow
	if err := r.Get(ctx, snapshotKey, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *redisCache) InvalidateSnapshot(ctx context.Context) error {
	return r.Delete(ctx, snapshotKey)
}

func (r *redisCache) Increment(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incrCmd := pipe.Incr(ctx, r.buildKey(key))
	pipe.Expire(ctx, r.buildKey(key), expiration)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return incrCmd.Val(), nil
}

func (r *redisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisCache) Close() error {
	return r.client.Close()
}
