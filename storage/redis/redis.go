// Package redis provides a Redis-backed implementation of storage.Storage.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/storage"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis storage.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "cheqd:mcp:"
	KeyPrefix string
}

// Storage implements storage.Storage using Redis.
type Storage struct {
	client    *redis.Client
	keyPrefix string
}

// storedItem is the JSON envelope written to Redis.
type storedItem struct {
	Key       string     `json:"key"`
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a new Redis-backed store.
func New(config Config) (*Storage, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "cheqd:mcp:"
	}
	return &Storage{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

func (s *Storage) Get(ctx context.Context, namespace, key string) (*storage.Item, error) {
	if err := storage.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	redisKey := s.buildKey(namespace, key)

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}

	item, err := decodeItem(raw)
	if err != nil {
		return nil, err
	}
	if item.IsExpired() {
		s.client.Del(ctx, redisKey)
		return nil, nil
	}
	return item, nil
}

func (s *Storage) Set(ctx context.Context, namespace, key string, data []byte, opts ...storage.Option) error {
	if err := storage.ValidateNamespace(namespace); err != nil {
		return err
	}
	options := storage.ApplyOptions(opts...)
	redisKey := s.buildKey(namespace, key)

	now := time.Now().UTC()
	item := storedItem{
		Key:       key,
		Data:      data,
		CreatedAt: now,
	}

	// Overwrites keep the original creation time so List order is stable.
	if prev, err := s.client.Get(ctx, redisKey).Bytes(); err == nil {
		if old, err := decodeItem(prev); err == nil && !old.IsExpired() {
			item.CreatedAt = old.CreatedAt
		}
	} else if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}

	var redisTTL time.Duration
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
		redisTTL = *options.TTL
	}

	itemData, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}

	if err := s.client.Set(ctx, redisKey, itemData, redisTTL).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", redisKey, err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, namespace, key string) error {
	if err := storage.ValidateNamespace(namespace); err != nil {
		return err
	}
	redisKey := s.buildKey(namespace, key)
	if err := s.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", redisKey, err)
	}
	return nil
}

func (s *Storage) List(ctx context.Context, namespace string) ([]*storage.Item, error) {
	if err := storage.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	pattern := escapeGlob(s.keyPrefix+namespace+":") + "*"
	keys, err := s.scanKeys(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %d keys: %w", len(keys), err)
	}

	out := make([]*storage.Item, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// Expired or deleted between SCAN and MGET.
			continue
		}
		item, err := decodeItem([]byte(str))
		if err != nil {
			return nil, err
		}
		if item.IsExpired() {
			continue
		}
		out = append(out, item)
	}
	storage.SortItems(out)
	return out, nil
}

// Close closes the underlying client.
func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) buildKey(namespace, key string) string {
	return s.keyPrefix + namespace + ":" + key
}

// scanKeys uses Redis SCAN to find all keys matching a pattern.
func (s *Storage) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func decodeItem(raw []byte) (*storage.Item, error) {
	var item storedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}
	return &storage.Item{
		Key:       item.Key,
		Data:      item.Data,
		CreatedAt: item.CreatedAt,
		ExpiresAt: item.ExpiresAt,
	}, nil
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}

var _ storage.Storage = (*Storage)(nil)
