// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package negotiation remembers the outcome of IPC protocol handshakes with other
applications, so that the handshake need not be repeated on every call.

Outcomes are kept in a store.Store opened on store.HelloCacheName and expire after a TTL.
A failed handshake is remembered for a shorter time than a successful one.
*/
package negotiation

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/errors"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/internal/json"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/logger"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/store"
)

const (
	// DefaultTTL is how long a negotiated version is trusted.
	DefaultTTL = 4 * time.Hour
	// DefaultErrorTTL is how long a failed handshake is trusted.
	DefaultErrorTTL = 10 * time.Minute
)

// Key identifies a handshake: the protocol and the range of versions offered, and the
// peer application at a given version.
type Key struct {
	Protocol    string
	MinVersion  string
	MaxVersion  string
	PackageName string
	VersionCode string
}

// String returns the storage key, protocol[min,max]:package[versionCode].
func (k Key) String() string {
	return fmt.Sprintf("%s[%s,%s]:%s[%s]", k.Protocol, k.MinVersion, k.MaxVersion, k.PackageName, k.VersionCode)
}

// Result is the outcome of a handshake. Exactly one of NegotiatedProtocolVersion and
// HandshakeError is set.
type Result struct {
	NegotiatedProtocolVersion string `json:"negotiated_protocol_version,omitempty"`
	HandshakeError            string `json:"handshake_error,omitempty"`
	// Timestamp is when the outcome was recorded, in milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`

	AdditionalFields map[string]interface{} `json:"-"`
}

// Failed reports whether the handshake failed.
func (r Result) Failed() bool {
	return r.HandshakeError != ""
}

func (r Result) valid() bool {
	return (r.NegotiatedProtocolVersion == "") != (r.HandshakeError == "") && r.Timestamp > 0
}

// HelloCache remembers handshake outcomes.
type HelloCache struct {
	store    store.Store
	ttl      time.Duration
	errorTTL time.Duration
	now      func() time.Time
	log      *logger.Logger
	disabled atomic.Bool
}

type options struct {
	ttl      time.Duration
	errorTTL time.Duration
	now      func() time.Time
	log      *logger.Logger
}

// Option is an optional argument to New.
type Option func(o *options)

// WithTTL sets how long a negotiated version is trusted.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		o.ttl = d
	}
}

// WithErrorTTL sets how long a failed handshake is trusted.
func WithErrorTTL(d time.Duration) Option {
	return func(o *options) {
		o.errorTTL = d
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

// New returns a HelloCache kept in s, which is normally opened on store.HelloCacheName.
func New(s store.Store, opts ...Option) (*HelloCache, error) {
	if s == nil {
		return nil, errors.InvalidArgument("negotiation.New", "store")
	}
	o := options{ttl: DefaultTTL, errorTTL: DefaultErrorTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	return &HelloCache{store: s, ttl: o.ttl, errorTTL: o.errorTTL, now: o.now, log: o.log}, nil
}

// SetEnabled turns the cache on or off. A disabled cache misses on every Get and drops
// every Put.
func (h *HelloCache) SetEnabled(enabled bool) {
	h.disabled.Store(!enabled)
}

// Enabled reports whether the cache is on.
func (h *HelloCache) Enabled() bool {
	return !h.disabled.Load()
}

// Get returns the unexpired outcome of k. Expired and unreadable outcomes are removed.
func (h *HelloCache) Get(ctx context.Context, k Key) (Result, bool) {
	if !h.Enabled() {
		return Result{}, false
	}
	key := k.String()
	v, ok, err := h.store.Get(ctx, key)
	if err != nil {
		h.log.Log(ctx, logger.Warn, "could not read hello cache", logger.Field("error", err.Error()))
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}

	var r Result
	if err := json.Unmarshal([]byte(v), &r); err != nil || !r.valid() {
		h.log.Log(ctx, logger.Warn, "removing unreadable hello cache entry", logger.Field("key", key))
		h.remove(ctx, key)
		return Result{}, false
	}
	ttl := h.ttl
	if r.Failed() {
		ttl = h.errorTTL
	}
	if !h.now().Before(time.UnixMilli(r.Timestamp).Add(ttl)) {
		h.log.Log(ctx, logger.Debug, "hello cache entry expired", logger.Field("key", key))
		h.remove(ctx, key)
		return Result{}, false
	}
	return r, true
}

// NegotiatedProtocolVersion returns the version negotiated for k, if a handshake
// succeeded within the TTL.
func (h *HelloCache) NegotiatedProtocolVersion(ctx context.Context, k Key) (string, bool) {
	r, ok := h.Get(ctx, k)
	if !ok || r.Failed() {
		return "", false
	}
	return r.NegotiatedProtocolVersion, true
}

func (h *HelloCache) remove(ctx context.Context, key string) {
	if err := h.store.Remove(ctx, key); err != nil {
		h.log.Log(ctx, logger.Warn, "could not remove hello cache entry", logger.Field("error", err.Error()))
	}
}

// Put records that the handshake of k negotiated version now.
func (h *HelloCache) Put(ctx context.Context, k Key, version string) error {
	return h.PutAt(ctx, k, version, h.now())
}

// PutAt records that the handshake of k negotiated version at the given time. Its entry
// expires a TTL after at.
func (h *HelloCache) PutAt(ctx context.Context, k Key, version string, at time.Time) error {
	if version == "" {
		return errors.InvalidArgument("PutAt", "version")
	}
	if at.IsZero() {
		return errors.InvalidArgument("PutAt", "at")
	}
	return h.put(ctx, k, Result{NegotiatedProtocolVersion: version}, at)
}

// PutError records that the handshake of k failed with handshakeErr now.
func (h *HelloCache) PutError(ctx context.Context, k Key, handshakeErr string) error {
	return h.PutErrorAt(ctx, k, handshakeErr, h.now())
}

// PutErrorAt records that the handshake of k failed with handshakeErr at the given time.
func (h *HelloCache) PutErrorAt(ctx context.Context, k Key, handshakeErr string, at time.Time) error {
	if handshakeErr == "" {
		return errors.InvalidArgument("PutErrorAt", "handshakeErr")
	}
	if at.IsZero() {
		return errors.InvalidArgument("PutErrorAt", "at")
	}
	return h.put(ctx, k, Result{HandshakeError: handshakeErr}, at)
}

func (h *HelloCache) put(ctx context.Context, k Key, r Result, at time.Time) error {
	if !h.Enabled() {
		return nil
	}
	r.Timestamp = at.UnixMilli()
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := h.store.Put(ctx, k.String(), string(b)); err != nil {
		return errors.StorageError{Op: "put", Store: h.store.Name(), Key: k.String(), Err: err}
	}
	return nil
}

// Clear removes every outcome.
func (h *HelloCache) Clear(ctx context.Context) error {
	if err := h.store.Clear(ctx); err != nil {
		return errors.StorageError{Op: "clear", Store: h.store.Name(), Err: err}
	}
	return nil
}
