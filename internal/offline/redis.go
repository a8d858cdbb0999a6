package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisStorage persists cached responses in Redis so they survive restarts.
// Each namespace is a hash of key to JSON entry; the set of namespaces is kept
// in its own set.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStorage wraps client. prefix scopes every key, e.g. "kdbuddy:assets".
func NewRedisStorage(client redis.UniversalClient, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = "kdbuddy:assets"
	}
	return &RedisStorage{client: client, prefix: prefix}
}

func (r *RedisStorage) indexKey() string { return r.prefix + ":namespaces" }

func (r *RedisStorage) namespaceKey(namespace string) string {
	return r.prefix + ":ns:" + namespace
}

func (r *RedisStorage) Namespaces(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list cache namespaces: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (r *RedisStorage) Get(ctx context.Context, namespace, key string) (*Entry, bool, error) {
	raw, err := r.client.HGet(ctx, r.namespaceKey(namespace), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return &entry, true, nil
}

func (r *RedisStorage) Put(ctx context.Context, namespace, key string, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.indexKey(), namespace)
		pipe.HSet(ctx, r.namespaceKey(namespace), key, raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

func (r *RedisStorage) DeleteNamespace(ctx context.Context, namespace string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.namespaceKey(namespace))
		pipe.SRem(ctx, r.indexKey(), namespace)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete cache namespace: %w", err)
	}
	return nil
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
