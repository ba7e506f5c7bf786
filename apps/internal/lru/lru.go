// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package lru provides a size-bounded least-recently-used cache whose entries expire.
//
// Expired entries are dropped when they are read; nothing sweeps them in the background,
// so they count towards the capacity until then.
package lru

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// Cache is an LRU cache of at most a fixed number of entries, each with a time to live.
// It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries *simplelru.LRU
}

// Option is an optional argument to New.
type Option func(o *options)

type options struct {
	now func() time.Time
}

// WithClock sets the source of the current time. The default is time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New returns a Cache holding at most capacity entries that live for ttl unless added
// with their own TTL.
func New[K comparable, V any](capacity int, ttl time.Duration, opts ...Option) (*Cache[K, V], error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lru: TTL must be positive, got %s", ttl)
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	entries, err := simplelru.NewLRU(capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("lru: %w", err)
	}
	return &Cache[K, V]{ttl: ttl, now: o.now, entries: entries}, nil
}

// Get returns the value of key. An expired entry is removed and reported absent.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	v, ok := c.entries.Get(key)
	if !ok {
		return zero, false
	}
	e := v.(entry[V])
	if !c.now().Before(e.expires) {
		c.entries.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Add sets the value of key with the default TTL.
func (c *Cache[K, V]) Add(key K, value V) {
	c.AddWithTTL(key, value, c.ttl)
}

// AddWithTTL sets the value of key to expire after ttl. When the cache is full the least
// recently used entry is evicted, expired or not.
func (c *Cache[K, V]) AddWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, entry[V]{value: value, expires: c.now().Add(ttl)})
}

// Remove deletes key. It reports whether there was an entry.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Remove(key)
}

// Len returns the number of entries, expired ones included.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Purge deletes every entry.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}
