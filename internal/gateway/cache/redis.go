package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter implements Adapter using Redis, mirroring the key-prefix +
// pipeline idiom of pkg/session/redis_backend.go's RedisBackend, applied to
// cache entries instead of sessions.
type RedisAdapter struct {
	client *redis.Client
	prefix string
	ctxTTL time.Duration
}

// RedisConfig mirrors session.RedisConfig's shape for the cache domain.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // default "gateway:cache:"
	PoolSize int
}

// NewRedisAdapter dials Redis and pings it, matching
// pkg/session/redis_backend.go.NewRedisBackend's construction contract.
func NewRedisAdapter(cfg RedisConfig) (*RedisAdapter, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "gateway:cache:"
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB, PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisAdapter{client: client, prefix: prefix}, nil
}

// NewRedisAdapterFromClient backs the adapter with an existing client —
// used by tests against miniredis, mirroring
// pkg/session/redis_backend.go.NewRedisBackendFromClient.
func NewRedisAdapterFromClient(client *redis.Client, prefix string) *RedisAdapter {
	if prefix == "" {
		prefix = "gateway:cache:"
	}
	return &RedisAdapter{client: client, prefix: prefix}
}

func (r *RedisAdapter) entryKey(hash string) string { return r.prefix + "entry:" + hash }
func (r *RedisAdapter) indexKey() string            { return r.prefix + "index" }

func (r *RedisAdapter) Get(hash string) (Entry, bool, error) {
	ctx := context.Background()
	raw, err := r.client.Get(ctx, r.entryKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (r *RedisAdapter) Set(hash string, e Entry) error {
	ctx := context.Background()
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.entryKey(hash), data, 0)
	pipe.SAdd(ctx, r.indexKey(), hash)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisAdapter) Delete(hash string) error {
	ctx := context.Background()
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.entryKey(hash))
	pipe.SRem(ctx, r.indexKey(), hash)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisAdapter) Clear() error {
	ctx := context.Background()
	hashes, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	for _, h := range hashes {
		pipe.Del(ctx, r.entryKey(h))
	}
	pipe.Del(ctx, r.indexKey())
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisAdapter) Size() (int, error) {
	ctx := context.Background()
	n, err := r.client.SCard(ctx, r.indexKey()).Result()
	return int(n), err
}

func (r *RedisAdapter) Entries() ([]Entry, error) {
	ctx := context.Background()
	hashes, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(hashes))
	for _, h := range hashes {
		e, ok, err := r.Get(h)
		if err != nil {
			continue // storage failures are skipped silently and treated as absence, spec.md §4.4
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Close releases the underlying client's connection pool.
func (r *RedisAdapter) Close() error {
	return r.client.Close()
}
