// Package storagetest holds a conformance suite shared by storage backends.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/storage"
)

// Factory creates a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Storage

// RunStorageTests runs the complete storage test suite against factory.
func RunStorageTests(t *testing.T, factory Factory) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, factory) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, factory) })
	t.Run("NamespaceIsolation", func(t *testing.T) { testNamespaceIsolation(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("ListOrder", func(t *testing.T) { testListOrder(t, factory) })
	t.Run("InvalidNamespace", func(t *testing.T) { testInvalidNamespace(t, factory) })
	t.Run("KeysWithSeparators", func(t *testing.T) { testKeysWithSeparators(t, factory) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, factory) })
}

func testSetAndGet(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	if err := s.Set(ctx, "dids", "k1", []byte("v1")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	item, err := s.Get(ctx, "dids", "k1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item == nil {
		t.Fatal("Get() returned nil item")
	}
	if string(item.Data) != "v1" || item.Key != "k1" {
		t.Fatalf("Get() = %q/%q, want k1/v1", item.Key, item.Data)
	}
	if item.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not set")
	}
	if item.ExpiresAt != nil {
		t.Fatal("ExpiresAt set without TTL")
	}
}

func testGetMissing(t *testing.T, factory Factory) {
	s := factory(t)
	item, err := s.Get(context.Background(), "dids", "nope")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil item, got %+v", item)
	}
}

func testOverwrite(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	if err := s.Set(ctx, "records", "a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	first, _ := s.Get(ctx, "records", "a")
	time.Sleep(5 * time.Millisecond)
	if err := s.Set(ctx, "records", "a", []byte("2")); err != nil {
		t.Fatal(err)
	}
	second, err := s.Get(ctx, "records", "a")
	if err != nil || second == nil {
		t.Fatalf("Get() = %v, %v", second, err)
	}
	if string(second.Data) != "2" {
		t.Fatalf("data = %q, want 2", second.Data)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("overwrite changed CreatedAt: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
}

func testTTL(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	if err := s.Set(ctx, "invitations", "short", []byte("x"), storage.WithTTL(50*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "invitations", "long", []byte("y"), storage.WithTTL(time.Hour)); err != nil {
		t.Fatal(err)
	}
	item, err := s.Get(ctx, "invitations", "short")
	if err != nil || item == nil {
		t.Fatalf("item should exist before expiry: %v %v", item, err)
	}
	if item.ExpiresAt == nil {
		t.Fatal("ExpiresAt not set")
	}

	time.Sleep(120 * time.Millisecond)

	item, err = s.Get(ctx, "invitations", "short")
	if err != nil {
		t.Fatal(err)
	}
	if item != nil {
		t.Fatal("expired item still returned")
	}
	items, err := s.List(ctx, "invitations")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Key != "long" {
		t.Fatalf("List() after expiry = %v", keys(items))
	}
}

func testNamespaceIsolation(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	_ = s.Set(ctx, "a", "k", []byte("in-a"))
	_ = s.Set(ctx, "ab", "k", []byte("in-ab"))

	item, _ := s.Get(ctx, "a", "k")
	if item == nil || string(item.Data) != "in-a" {
		t.Fatalf("namespace a = %+v", item)
	}
	items, err := s.List(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("List(a) leaked across namespaces: %v", keys(items))
	}
}

func testDelete(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	_ = s.Set(ctx, "ns", "k", []byte("v"))
	if err := s.Delete(ctx, "ns", "k"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if item, _ := s.Get(ctx, "ns", "k"); item != nil {
		t.Fatal("item survived Delete")
	}
	if err := s.Delete(ctx, "ns", "missing"); err != nil {
		t.Fatalf("Delete(missing) = %v", err)
	}
}

func testListOrder(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	want := []string{"z", "m", "a"}
	for _, k := range want {
		if err := s.Set(ctx, "ordered", k, []byte(k)); err != nil {
			t.Fatal(err)
		}
		time.Sleep(3 * time.Millisecond)
	}
	items, err := s.List(ctx, "ordered")
	if err != nil {
		t.Fatal(err)
	}
	got := keys(items)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("List() order = %v, want %v", got, want)
	}

	empty, err := s.List(ctx, "nothing")
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Fatalf("List(empty) = %v", keys(empty))
	}
}

func testInvalidNamespace(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	for _, ns := range []string{"", "a:b"} {
		if err := s.Set(ctx, ns, "k", nil); !errors.Is(err, storage.ErrInvalidNamespace) {
			t.Fatalf("Set(%q) = %v, want ErrInvalidNamespace", ns, err)
		}
		if _, err := s.List(ctx, ns); !errors.Is(err, storage.ErrInvalidNamespace) {
			t.Fatalf("List(%q) = %v, want ErrInvalidNamespace", ns, err)
		}
	}
}

func testKeysWithSeparators(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	key := "did:cheqd:testnet:zF7rhDBfUt9d1gJPjx7s1J/resources/6a2c5f4e-0b9f-4b8e-9f1e-4d3f2c1b0a99"
	if err := s.Set(ctx, "resources", key, []byte("{}")); err != nil {
		t.Fatal(err)
	}
	item, err := s.Get(ctx, "resources", key)
	if err != nil || item == nil {
		t.Fatalf("Get() = %v, %v", item, err)
	}
	if item.Key != key {
		t.Fatalf("key = %q", item.Key)
	}
}

func testConcurrent(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := fmt.Sprintf("k%02d", i)
			if err := s.Set(ctx, "conc", k, []byte(k)); err != nil {
				t.Errorf("Set(%s): %v", k, err)
			}
			if _, err := s.Get(ctx, "conc", k); err != nil {
				t.Errorf("Get(%s): %v", k, err)
			}
		}(i)
	}
	wg.Wait()

	items, err := s.List(ctx, "conc")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 20 {
		t.Fatalf("List() = %d items, want 20", len(items))
	}
}

func keys(items []*storage.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Key)
	}
	return out
}
