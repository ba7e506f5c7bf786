// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisFactory opens stores as Redis hashes named keyPrefix + store name.
type RedisFactory struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisFactory returns a RedisFactory using client.
// This is useful for testing with miniredis.
func NewRedisFactory(client redis.UniversalClient, keyPrefix string) *RedisFactory {
	return &RedisFactory{client: client, keyPrefix: keyPrefix}
}

// Open implements Factory.
func (f *RedisFactory) Open(name string) (Store, error) {
	if name == "" {
		return nil, errors.New("store name must not be empty")
	}
	return &Redis{client: f.client, name: name, key: f.keyPrefix + name}, nil
}

// Redis is a Store held in one Redis hash. Every operation is a single command, so
// Redis serializes them.
type Redis struct {
	client redis.UniversalClient
	name   string
	key    string
}

func (r *Redis) Name() string { return r.name }

func (r *Redis) Put(ctx context.Context, key, value string) error {
	if err := r.client.HSet(ctx, r.key, key, value).Err(); err != nil {
		return fmt.Errorf("failed to put %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.HGet(ctx, r.key, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) GetAll(ctx context.Context) (map[string]string, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return all, nil
}

func (r *Redis) Contains(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.HExists(ctx, r.key, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %q: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.HDel(ctx, r.key, key).Err(); err != nil {
		return fmt.Errorf("failed to remove %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	return nil
}
