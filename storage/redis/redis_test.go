package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ggoodman/cheqd-mcp-toolkit/storage"
	"github.com/ggoodman/cheqd-mcp-toolkit/storage/storagetest"
	"github.com/redis/go-redis/v9"
)

func newTestStorage(t *testing.T, prefix string) (*Storage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := New(Config{Client: client, KeyPrefix: prefix})
	if err != nil {
		t.Fatalf("Failed to create Redis storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStorage(t *testing.T) {
	storagetest.RunStorageTests(t, func(t *testing.T) storage.Storage {
		s, _ := newTestStorage(t, "")
		return s
	})
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestKeyLayoutAndServerTTL(t *testing.T) {
	s, mr := newTestStorage(t, "test[1]:")
	ctx := context.Background()

	if err := s.Set(ctx, "dids", "did:cheqd:testnet:abc", []byte("{}"), storage.WithTTL(time.Minute)); err != nil {
		t.Fatal(err)
	}
	key := "test[1]:dids:did:cheqd:testnet:abc"
	if !mr.Exists(key) {
		t.Fatalf("expected key %q, have %v", key, mr.Keys())
	}
	if ttl := mr.TTL(key); ttl <= 0 {
		t.Fatalf("server TTL not set: %v", ttl)
	}

	// Glob characters in the prefix must not widen the scan.
	mr.Set("test1:dids:stray", "{}")
	items, err := s.List(ctx, "dids")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("List() = %d items, want 1", len(items))
	}

	mr.FastForward(2 * time.Minute)
	if item, _ := s.Get(ctx, "dids", "did:cheqd:testnet:abc"); item != nil {
		t.Fatal("item survived server-side expiry")
	}
}

func TestCorruptValue(t *testing.T) {
	s, mr := newTestStorage(t, "")
	mr.Set("cheqd:mcp:dids:bad", "not-json")
	if _, err := s.Get(context.Background(), "dids", "bad"); err == nil {
		t.Fatal("expected decode error")
	}
}
