// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package enrollment caches the MAM enrollment ids of users of managed applications.

Lookups go to a Provider, usually the device management agent. Results are kept briefly
so that bursts of token requests do not each query the provider, and briefly enough that a
removed enrollment is noticed quickly. A user without an enrollment is remembered for even
less time, so that an application that becomes enrolled can use it almost at once.
*/
package enrollment

import (
	"context"
	"strings"
	"time"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/errors"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/internal/json"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/internal/lru"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/logger"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/store"
)

const (
	// DefaultCapacity is the number of user and package pairs kept in memory.
	DefaultCapacity = 10
	// DefaultTTL is how long an enrollment id is trusted.
	DefaultTTL = 2000 * time.Millisecond
	// DefaultNegativeTTL is how long the absence of an enrollment is trusted.
	DefaultNegativeTTL = 1500 * time.Millisecond
)

// Provider looks up enrollment ids. It returns "" when the user has no enrollment for
// the package.
type Provider interface {
	EnrollmentID(ctx context.Context, userID, packageName string) (string, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context, userID, packageName string) (string, error)

// EnrollmentID implements Provider.
func (f ProviderFunc) EnrollmentID(ctx context.Context, userID, packageName string) (string, error) {
	return f(ctx, userID, packageName)
}

// persisted is the stored form of a lookup result.
type persisted struct {
	EnrollmentID string `json:"enrollment_id,omitempty"`
	// Timestamp is when the result was looked up, in milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`

	AdditionalFields map[string]interface{} `json:"-"`
}

// Cache caches the results of a Provider.
type Cache struct {
	provider    Provider
	entries     *lru.Cache[string, string]
	store       store.Store
	ttl         time.Duration
	negativeTTL time.Duration
	now         func() time.Time
	log         *logger.Logger
}

type options struct {
	capacity    int
	ttl         time.Duration
	negativeTTL time.Duration
	store       store.Store
	now         func() time.Time
	log         *logger.Logger
}

// Option is an optional argument to New.
type Option func(o *options)

// WithCapacity sets how many results are kept in memory.
func WithCapacity(n int) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// WithTTL sets how long an enrollment id and the absence of one are trusted.
func WithTTL(positive, negative time.Duration) Option {
	return func(o *options) {
		o.ttl = positive
		o.negativeTTL = negative
	}
}

// WithStore keeps results in s as well, normally opened on store.EnrollmentCacheName,
// so that they outlive the process. They expire just the same.
func WithStore(s store.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithClock sets the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// New returns a Cache of p's results.
func New(p Provider, opts ...Option) (*Cache, error) {
	if p == nil {
		return nil, errors.InvalidArgument("enrollment.New", "provider")
	}
	o := options{capacity: DefaultCapacity, ttl: DefaultTTL, negativeTTL: DefaultNegativeTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	entries, err := lru.New[string, string](o.capacity, o.ttl, lru.WithClock(o.now))
	if err != nil {
		return nil, err
	}
	return &Cache{
		provider:    p,
		entries:     entries,
		store:       o.store,
		ttl:         o.ttl,
		negativeTTL: o.negativeTTL,
		now:         o.now,
		log:         o.log,
	}, nil
}

func key(userID, packageName string) string {
	return strings.ToLower(userID) + "|" + strings.ToLower(packageName)
}

func (c *Cache) ttlOf(id string) time.Duration {
	if id == "" {
		return c.negativeTTL
	}
	return c.ttl
}

// EnrollmentID returns the enrollment id of userID for packageName, or "" when there is
// none. A failing provider is logged and treated as reporting no enrollment.
func (c *Cache) EnrollmentID(ctx context.Context, userID, packageName string) (string, error) {
	if userID == "" {
		return "", errors.InvalidArgument("EnrollmentID", "userID")
	}
	if packageName == "" {
		return "", errors.InvalidArgument("EnrollmentID", "packageName")
	}
	k := key(userID, packageName)
	if id, ok := c.entries.Get(k); ok {
		return id, nil
	}
	if id, ok := c.load(ctx, k); ok {
		return id, nil
	}

	id, err := c.provider.EnrollmentID(ctx, userID, packageName)
	if err != nil {
		c.log.Log(ctx, logger.Warn, "could not look up enrollment id", logger.Field("error", err.Error()))
		id = ""
	}
	c.entries.AddWithTTL(k, id, c.ttlOf(id))
	c.persist(ctx, k, id)
	return id, nil
}

// load reads an unexpired result from the store into memory.
func (c *Cache) load(ctx context.Context, k string) (string, bool) {
	if c.store == nil {
		return "", false
	}
	v, ok, err := c.store.Get(ctx, k)
	if err != nil || !ok {
		return "", false
	}
	var p persisted
	if err := json.Unmarshal([]byte(v), &p); err != nil {
		c.log.Log(ctx, logger.Warn, "removing unreadable enrollment entry", logger.Field("error", err.Error()))
		c.remove(ctx, k)
		return "", false
	}
	left := time.UnixMilli(p.Timestamp).Add(c.ttlOf(p.EnrollmentID)).Sub(c.now())
	if left <= 0 {
		c.remove(ctx, k)
		return "", false
	}
	c.entries.AddWithTTL(k, p.EnrollmentID, left)
	return p.EnrollmentID, true
}

func (c *Cache) remove(ctx context.Context, k string) {
	if err := c.store.Remove(ctx, k); err != nil {
		c.log.Log(ctx, logger.Warn, "could not remove enrollment entry", logger.Field("error", err.Error()))
	}
}

func (c *Cache) persist(ctx context.Context, k, id string) {
	if c.store == nil {
		return
	}
	b, err := json.Marshal(persisted{EnrollmentID: id, Timestamp: c.now().UnixMilli()})
	if err == nil {
		err = c.store.Put(ctx, k, string(b))
	}
	if err != nil {
		c.log.Log(ctx, logger.Warn, "could not persist enrollment id", logger.Field("error", err.Error()))
	}
}

// Invalidate forgets the result for userID and packageName.
func (c *Cache) Invalidate(ctx context.Context, userID, packageName string) error {
	k := key(userID, packageName)
	c.entries.Remove(k)
	if c.store == nil {
		return nil
	}
	if err := c.store.Remove(ctx, k); err != nil {
		return errors.StorageError{Op: "remove", Store: c.store.Name(), Key: k, Err: err}
	}
	return nil
}
