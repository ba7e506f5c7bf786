// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package tokencache provides the token cache of a single application: it saves token
responses as accounts and credentials, and loads them back as cache.CacheRecord bundles.

Records are derived from responses by an Adapter and kept in a store.Store. Any number
of Cache instances may share one store; they see the same data.

A save writes several records. It is not atomic: if a write fails, records written
before it stay written, and the returned error wraps a *errors.BatchError listing them.
Saving the same response again rewrites the same keys.

Loads never fail because of storage: unreadable entries are skipped. A loaded record
holding only a RefreshToken calls for a silent refresh; one holding only an Account calls
for an interactive prompt.
*/
package tokencache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/cache"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/errors"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/internal/shared"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/internal/storage"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/logger"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/oauth"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/store"
)

// Cache is the token cache of one application.
type Cache struct {
	storage *storage.Manager
	adapter Adapter
	log     *logger.Logger
	now     func() time.Time

	// mu serializes operations made of several storage writes.
	mu sync.Mutex
}

type options struct {
	adapter Adapter
	log     *logger.Logger
	now     func() time.Time
}

// Option is an optional argument to New.
type Option func(o *options)

// WithAdapter sets the Adapter that derives records from responses.
// The default is MicrosoftSTSAdapter.
func WithAdapter(a Adapter) Option {
	return func(o *options) {
		o.adapter = a
	}
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithClock sets the source of the current time, used to stamp cached_at.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New is the constructor for Cache.
func New(s store.Store, opts ...Option) (*Cache, error) {
	if s == nil {
		return nil, errors.InvalidArgument("tokencache.New", "store")
	}
	o := options{log: logger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	if o.adapter == nil {
		o.adapter = MicrosoftSTSAdapter{Now: o.now}
	}
	return &Cache{
		storage: storage.New(s, o.log),
		adapter: o.adapter,
		log:     o.log,
		now:     o.now,
	}, nil
}

// Store returns the store the cache is kept in.
func (c *Cache) Store() store.Store {
	return c.storage.Store()
}

// Save derives the account and credentials of resp and writes them. Access tokens of the
// same user, client and realm whose scopes intersect the new one's are removed first, and
// refresh tokens superseded by a new one are removed afterwards.
func (c *Cache) Save(ctx context.Context, req oauth.Request, resp oauth.TokenResponse) (cache.CacheRecord, error) {
	ctx = logger.EnsureCorrelationID(ctx)
	if err := req.Validate(); err != nil {
		return cache.CacheRecord{}, fmt.Errorf("%w: %s", errors.InvalidArgument("Save", "request"), err)
	}
	if err := resp.Validate(); err != nil {
		return cache.CacheRecord{}, fmt.Errorf("%w: %s", errors.InvalidArgument("Save", "response"), err)
	}
	acc, idt, at, rt, err := records(c.adapter, req, resp)
	if err != nil {
		return cache.CacheRecord{}, err
	}
	return c.SaveRecords(ctx, acc, idt, at, rt)
}

// SaveRecords writes the given records with the same rules as Save. Zero records are skipped.
func (c *Cache) SaveRecords(ctx context.Context, acc cache.Account, idt cache.IDToken, at cache.AccessToken, rt cache.RefreshToken) (cache.CacheRecord, error) {
	ctx = logger.EnsureCorrelationID(ctx)
	if acc.IsZero() {
		return cache.CacheRecord{}, errors.InvalidArgument("SaveRecords", "account")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if !at.IsZero() {
		errs = append(errs, c.removeIntersecting(ctx, at))
	}
	errs = append(errs, c.storage.SaveBatch(ctx, acc, idt, at, rt))
	if !rt.IsZero() {
		errs = append(errs, c.removeSuperseded(ctx, acc, rt))
	}

	c.log.Log(ctx, logger.Debug, "saved token response",
		logger.Field("client_id", firstNonEmpty(at.ClientID, rt.ClientID, idt.ClientID)),
		logger.Field("environment", acc.Environment),
		logger.Field("access_token", !at.IsZero()),
		logger.Field("refresh_token", !rt.IsZero()),
		logger.Field("family_id", rt.FamilyID),
	)
	return bundle(acc, idt, at, rt), errors.Join(errs...)
}

// removeIntersecting removes access tokens that at supersedes.
func (c *Cache) removeIntersecting(ctx context.Context, at cache.AccessToken) error {
	var errs []error
	f := storage.CredentialFilter{
		HomeAccountID:   at.HomeAccountID,
		Environment:     at.Environment,
		Kinds:           []cache.Kind{at.Kind()},
		ClientID:        at.ClientID,
		Realm:           at.Realm,
		ApplicationID:   at.ApplicationIdentifier,
		MAMEnrollmentID: at.MAMEnrollmentIdentifier,
	}
	if at.Kind() == cache.KindAccessTokenWithAuthScheme {
		f.AuthScheme = at.TokenType
	}
	stale := c.storage.AccessTokens(ctx, f)
	for _, old := range stale {
		if !shared.ScopesIntersect(old.Target, at.Target) {
			continue
		}
		if _, err := c.storage.RemoveCredential(ctx, old); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// removeSuperseded removes the refresh tokens rt replaces: every other refresh token of
// the user for a family token, the client's other refresh tokens for MSSTS accounts.
func (c *Cache) removeSuperseded(ctx context.Context, acc cache.Account, rt cache.RefreshToken) error {
	f := storage.CredentialFilter{
		HomeAccountID: rt.HomeAccountID,
		Environment:   rt.Environment,
		Kinds:         []cache.Kind{cache.KindRefreshToken},
	}
	switch {
	case rt.IsFamily():
	case shared.EqualFold(acc.AuthorityType, shared.AuthorityTypeMSSTS):
		f.ClientID = rt.ClientID
	default:
		return nil
	}
	var errs []error
	for _, old := range c.storage.RefreshTokens(ctx, f) {
		if old.Key() == rt.Key() {
			continue
		}
		if _, err := c.storage.RemoveCredential(ctx, old); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func bundle(acc cache.Account, idt cache.IDToken, at cache.AccessToken, rt cache.RefreshToken) cache.CacheRecord {
	r := cache.CacheRecord{}
	if !acc.IsZero() {
		r.Account = &acc
	}
	if !at.IsZero() {
		r.AccessToken = &at
	}
	if !rt.IsZero() {
		r.RefreshToken = &rt
	}
	if !idt.IsZero() {
		if idt.Kind() == cache.KindV1IDToken {
			r.V1IDToken = &idt
		} else {
			r.IDToken = &idt
		}
	}
	return r
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}

// RemoveCredential removes cred. It reports whether it was in the cache.
func (c *Cache) RemoveCredential(ctx context.Context, cred cache.CredentialRecord) (bool, error) {
	ctx = logger.EnsureCorrelationID(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storage.RemoveCredential(ctx, cred)
}

// RemoveAccount removes the accounts of homeAccountID in env with realm, and their
// credentials of clientID. Only accounts known to clientID are removed. An empty realm
// selects every tenant profile of the user and an empty env every environment. kinds
// restricts the credential kinds removed; empty means all of them. Accounts are removed
// even when credentials of other clients remain.
func (c *Cache) RemoveAccount(ctx context.Context, env, clientID, homeAccountID, realm string, kinds ...cache.Kind) (cache.AccountDeletionRecord, error) {
	ctx = logger.EnsureCorrelationID(ctx)
	if clientID == "" {
		return cache.AccountDeletionRecord{}, errors.InvalidArgument("RemoveAccount", "clientID")
	}
	if homeAccountID == "" {
		return cache.AccountDeletionRecord{}, errors.InvalidArgument("RemoveAccount", "homeAccountID")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var targets []cache.Account
	for _, a := range c.Accounts(ctx, env, clientID) {
		if shared.EqualFold(a.HomeAccountID, homeAccountID) && (realm == "" || shared.EqualFold(a.Realm, realm)) {
			targets = append(targets, a)
		}
	}

	deleted := cache.AccountDeletionRecord{}
	var errs []error
	users := map[string]bool{}
	for _, acc := range targets {
		if users[userKey(acc.HomeAccountID, acc.Environment)] {
			continue
		}
		users[userKey(acc.HomeAccountID, acc.Environment)] = true
		f := storage.CredentialFilter{
			HomeAccountID: acc.HomeAccountID,
			Environment:   acc.Environment,
			ClientID:      clientID,
			Realm:         realm,
			Kinds:         kinds,
		}
		if _, err := c.storage.RemoveCredentialsFilteredBy(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	for _, acc := range targets {
		removed, err := c.storage.RemoveAccount(ctx, acc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed {
			deleted.Accounts = append(deleted.Accounts, acc)
		}
	}
	c.log.Log(ctx, logger.Info, "removed account",
		logger.Field("client_id", clientID),
		logger.Field("environment", env),
		logger.Field("accounts", deleted.Len()),
	)
	return deleted, errors.Join(errs...)
}

// RemoveUser removes every credential of homeAccountID in env, whichever client it was
// issued to, and then every tenant profile of the user. An empty env selects every
// environment.
func (c *Cache) RemoveUser(ctx context.Context, env, homeAccountID string) (cache.AccountDeletionRecord, error) {
	ctx = logger.EnsureCorrelationID(ctx)
	if homeAccountID == "" {
		return cache.AccountDeletionRecord{}, errors.InvalidArgument("RemoveUser", "homeAccountID")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	creds, err := c.storage.RemoveCredentialsFilteredBy(ctx, storage.CredentialFilter{HomeAccountID: homeAccountID, Environment: env})
	if err != nil {
		errs = append(errs, err)
	}

	deleted := cache.AccountDeletionRecord{}
	for _, acc := range c.storage.AccountsFilteredBy(ctx, storage.AccountFilter{HomeAccountID: homeAccountID, Environment: env}) {
		removed, err := c.storage.RemoveAccount(ctx, acc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed {
			deleted.Accounts = append(deleted.Accounts, acc)
		}
	}
	c.log.Log(ctx, logger.Info, "removed user",
		logger.Field("environment", env),
		logger.Field("credentials", len(creds)),
		logger.Field("accounts", deleted.Len()),
	)
	return deleted, errors.Join(errs...)
}

// Clear removes everything in the cache.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storage.Clear(logger.EnsureCorrelationID(ctx))
}

// SetSingleSignOnState writes an account with its refresh token, and the ID tokens that
// go with it, as handed over by another application. Refresh tokens rt supersedes are
// removed as on Save.
func (c *Cache) SetSingleSignOnState(ctx context.Context, acc cache.Account, rt cache.RefreshToken, idTokens ...cache.IDToken) error {
	ctx = logger.EnsureCorrelationID(ctx)
	if acc.IsZero() {
		return errors.InvalidArgument("SetSingleSignOnState", "account")
	}
	if rt.IsZero() {
		return errors.InvalidArgument("SetSingleSignOnState", "refresh token")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	records := []cache.Record{acc, rt}
	for _, idt := range idTokens {
		records = append(records, idt)
	}
	if err := c.storage.SaveBatch(ctx, records...); err != nil {
		return err
	}
	return c.removeSuperseded(ctx, acc, rt)
}

// FociCacheRecords returns one record per family refresh token of family 1 and tenant
// profile of its user, with the profile's ID token for the token's client.
func (c *Cache) FociCacheRecords(ctx context.Context) []cache.CacheRecord {
	ctx = logger.EnsureCorrelationID(ctx)
	var out []cache.CacheRecord
	rts := c.storage.RefreshTokens(ctx, storage.CredentialFilter{FamilyID: shared.FamilyIDFoci})
	for _, rt := range rts {
		accounts := c.storage.AccountsFilteredBy(ctx, storage.AccountFilter{HomeAccountID: rt.HomeAccountID, Environment: rt.Environment})
		for _, acc := range accounts {
			r := c.idTokenRecord(ctx, rt.ClientID, acc)
			r.RefreshToken = &rt
			out = append(out, r)
		}
	}
	return out
}
