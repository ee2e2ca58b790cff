// Package memory provides an in-memory implementation of the storage interface
// using github.com/hashicorp/golang-lru/v2 with TTL support.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxItems bounds the cache when New is given a non-positive size.
const DefaultMaxItems = 100_000

const defaultCleanupInterval = 5 * time.Minute

// Storage implements storage.Storage in process memory.
type Storage struct {
	mu     sync.RWMutex
	cache  *lru.Cache[string, *storage.Item]
	closed bool

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates an in-memory store holding at most maxItems entries. The least
// recently used entry is evicted once the bound is reached.
func New(maxItems int) (*Storage, error) {
	return newWithInterval(maxItems, defaultCleanupInterval)
}

func newWithInterval(maxItems int, interval time.Duration) (*Storage, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	cache, err := lru.New[string, *storage.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache: cache,
		stop:  make(chan struct{}),
	}

	go s.cleanupExpired(interval)

	return s, nil
}

func (s *Storage) Get(ctx context.Context, namespace, key string) (*storage.Item, error) {
	if err := storage.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	storageKey := buildKey(namespace, key)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, storage.ErrClosed
	}
	item, exists := s.cache.Get(storageKey)
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	if item.IsExpired() {
		s.mu.Lock()
		s.cache.Remove(storageKey)
		s.mu.Unlock()
		return nil, nil
	}

	return cloneItem(item), nil
}

func (s *Storage) Set(ctx context.Context, namespace, key string, data []byte, opts ...storage.Option) error {
	if err := storage.ValidateNamespace(namespace); err != nil {
		return err
	}
	options := storage.ApplyOptions(opts...)
	storageKey := buildKey(namespace, key)

	now := time.Now()
	item := &storage.Item{
		Key:       key,
		Data:      make([]byte, len(data)),
		CreatedAt: now,
	}
	copy(item.Data, data)

	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	// Overwrites keep the original creation time so List order is stable.
	if prev, ok := s.cache.Peek(storageKey); ok && !prev.IsExpired() {
		item.CreatedAt = prev.CreatedAt
	}
	s.cache.Add(storageKey, item)

	return nil
}

func (s *Storage) Delete(ctx context.Context, namespace, key string) error {
	if err := storage.ValidateNamespace(namespace); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.cache.Remove(buildKey(namespace, key))
	return nil
}

func (s *Storage) List(ctx context.Context, namespace string) ([]*storage.Item, error) {
	if err := storage.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	prefix := namespace + ":"

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, storage.ErrClosed
	}
	var out []*storage.Item
	for _, k := range s.cache.Keys() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		item, ok := s.cache.Peek(k)
		if !ok || item.IsExpired() {
			continue
		}
		out = append(out, cloneItem(item))
	}
	s.mu.RUnlock()

	storage.SortItems(out)
	return out, nil
}

// Close purges the cache and stops the expiry goroutine.
func (s *Storage) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.closed = true
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

func buildKey(namespace, key string) string {
	return namespace + ":" + key
}

func cloneItem(it *storage.Item) *storage.Item {
	cp := *it
	cp.Data = append([]byte(nil), it.Data...)
	return &cp
}

// cleanupExpired periodically drops expired items until Close.
func (s *Storage) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		now := time.Now()
		for _, key := range s.cache.Keys() {
			if item, exists := s.cache.Peek(key); exists {
				if item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
					s.cache.Remove(key)
				}
			}
		}
		s.mu.Unlock()
	}
}

var _ storage.Storage = (*Storage)(nil)
