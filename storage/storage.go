// Package storage defines the namespaced key-value store backing the agent's
// wallet, ledger registry and protocol records.
package storage

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Storage is a namespaced key-value store.
type Storage interface {
	// Get retrieves the item stored under key in namespace.
	// Returns a nil Item if the key doesn't exist or has expired.
	// Returns error only for legitimate storage system failures.
	Get(ctx context.Context, namespace, key string) (*Item, error)

	// Set stores data under key in namespace, replacing any previous value.
	Set(ctx context.Context, namespace, key string, data []byte, opts ...Option) error

	// Delete removes key from namespace. Deleting a missing key is not an error.
	Delete(ctx context.Context, namespace, key string) error

	// List returns every live item in namespace ordered by creation time,
	// then key.
	List(ctx context.Context, namespace string) ([]*Item, error)

	// Close releases resources held by the backend.
	Close() error
}

// Item is a stored value with its metadata.
type Item struct {
	Key       string
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil = no expiration
}

// IsExpired reports whether the item has expired.
func (it *Item) IsExpired() bool {
	return it.ExpiresAt != nil && time.Now().After(*it.ExpiresAt)
}

// Option configures a Set call.
type Option func(*Options)

// Options holds per-call settings.
type Options struct {
	TTL *time.Duration
}

// WithTTL sets a time-to-live for the stored data.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

// ApplyOptions folds opts into an Options value.
func ApplyOptions(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var (
	// ErrInvalidNamespace is returned for an empty namespace or one containing ':'.
	ErrInvalidNamespace = errors.New("storage: invalid namespace")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage: closed")
)

// ValidateNamespace checks ns against the naming rules shared by all backends.
func ValidateNamespace(ns string) error {
	if ns == "" {
		return ErrInvalidNamespace
	}
	for i := 0; i < len(ns); i++ {
		if ns[i] == ':' {
			return ErrInvalidNamespace
		}
	}
	return nil
}

// SortItems orders items by creation time, then key.
func SortItems(items []*Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].Key < items[j].Key
	})
}
