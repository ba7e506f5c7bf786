// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package store

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
)

// Cached is a read-through memory layer over a slower Store. Single key reads are
// served from memory for up to ttl; GetAll always reads the underlying store.
//
// Writes made through other instances are not seen until the cached entry expires.
type Cached struct {
	Store

	cache *otter.Cache[string, string]
}

// NewCached wraps inner with a memory layer of at most maxSize entries, each kept for ttl.
func NewCached(inner Store, maxSize int, ttl time.Duration) *Cached {
	return &Cached{
		Store: inner,
		cache: otter.Must(&otter.Options[string, string]{
			MaximumSize:      maxSize,
			ExpiryCalculator: otter.ExpiryCreating[string, string](ttl),
		}),
	}
}

func (c *Cached) Put(ctx context.Context, key, value string) error {
	if err := c.Store.Put(ctx, key, value); err != nil {
		c.cache.Invalidate(key)
		return err
	}
	c.cache.Set(key, value)
	return nil
}

func (c *Cached) Get(ctx context.Context, key string) (string, bool, error) {
	if entry, ok := c.cache.GetEntry(key); ok {
		return entry.Value, true, nil
	}
	v, ok, err := c.Store.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	c.cache.Set(key, v)
	return v, true, nil
}

func (c *Cached) Contains(ctx context.Context, key string) (bool, error) {
	if _, ok := c.cache.GetEntry(key); ok {
		return true, nil
	}
	return c.Store.Contains(ctx, key)
}

func (c *Cached) Remove(ctx context.Context, key string) error {
	c.cache.Invalidate(key)
	return c.Store.Remove(ctx, key)
}

func (c *Cached) Clear(ctx context.Context) error {
	c.cache.InvalidateAll()
	return c.Store.Clear(ctx)
}
