// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package broker provides the token cache of an authentication broker, which holds tokens on
behalf of many applications.

Applications are kept apart by the uid they run as: each uid has its own tokencache.Cache
in a store named by store.UIDCacheName. Applications that belong to a family of client ids
share one more cache, opened on store.FociCacheName. A MetadataCache records which
application ran as which uid and whether it is a family member, and routes every call to
the right cache.

An application missing from the metadata is not an error: its loads are served from the
family cache, so that any member of the family can sign it in silently.
*/
package broker

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/cache"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/errors"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/logger"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/oauth"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/store"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/tokencache"
	"golang.org/x/sync/singleflight"
)

// Cache routes token cache operations of a broker to per-application caches.
type Cache struct {
	factory  store.Factory
	uid      int
	metadata *MetadataCache
	foci     *tokencache.Cache
	opts     []tokencache.Option
	log      *logger.Logger

	mu    sync.Mutex
	silos map[int]*tokencache.Cache
	group singleflight.Group
}

type options struct {
	log  *logger.Logger
	opts []tokencache.Option
}

// Option is an optional argument to New.
type Option func(o *options)

// WithLogger sets the logger of the router and of every cache it opens.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		o.log = l
		o.opts = append(o.opts, tokencache.WithLogger(l))
	}
}

// WithCacheOptions passes opts to every tokencache.Cache the router opens.
func WithCacheOptions(opts ...tokencache.Option) Option {
	return func(o *options) {
		o.opts = append(o.opts, opts...)
	}
}

// New returns a router for the application running as callingUID. Stores are opened
// from factory.
func New(factory store.Factory, callingUID int, opts ...Option) (*Cache, error) {
	if factory == nil {
		return nil, errors.InvalidArgument("broker.New", "factory")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Nop()
	}

	ms, err := factory.Open(store.MetadataCacheName)
	if err != nil {
		return nil, fmt.Errorf("could not open the application metadata store: %w", err)
	}
	fs, err := factory.Open(store.FociCacheName)
	if err != nil {
		return nil, fmt.Errorf("could not open the family cache store: %w", err)
	}
	foci, err := tokencache.New(fs, o.opts...)
	if err != nil {
		return nil, err
	}
	return &Cache{
		factory:  factory,
		uid:      callingUID,
		metadata: NewMetadataCache(ms, o.log),
		foci:     foci,
		opts:     o.opts,
		log:      o.log,
		silos:    map[int]*tokencache.Cache{},
	}, nil
}

// Metadata returns the application metadata index.
func (c *Cache) Metadata() *MetadataCache {
	return c.metadata
}

// silo returns the cache of uid, opening it on first use. Concurrent first uses of one uid
// open it once.
func (c *Cache) silo(uid int) (*tokencache.Cache, error) {
	c.mu.Lock()
	s, ok := c.silos[uid]
	c.mu.Unlock()
	if ok {
		return s, nil
	}

	v, err, _ := c.group.Do(strconv.Itoa(uid), func() (interface{}, error) {
		c.mu.Lock()
		if s, ok := c.silos[uid]; ok {
			c.mu.Unlock()
			return s, nil
		}
		c.mu.Unlock()

		st, err := c.factory.Open(store.UIDCacheName(strconv.Itoa(uid)))
		if err != nil {
			return nil, fmt.Errorf("could not open the cache of uid %d: %w", uid, err)
		}
		s, err := tokencache.New(st, c.opts...)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.silos[uid] = s
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tokencache.Cache), nil
}

// cacheFor returns the cache md's application is kept in.
func (c *Cache) cacheFor(md ApplicationMetadata) (*tokencache.Cache, error) {
	if md.IsFoci() {
		return c.foci, nil
	}
	return c.silo(md.UID)
}

// cacheForClient returns the cache of clientID running as the calling uid in env. It
// returns nil when the application is not in the metadata.
func (c *Cache) cacheForClient(ctx context.Context, clientID, env string) (*tokencache.Cache, ApplicationMetadata, error) {
	md, ok := c.metadata.Metadata(ctx, clientID, env, c.uid)
	if !ok {
		return nil, ApplicationMetadata{}, nil
	}
	tc, err := c.cacheFor(md)
	return tc, md, err
}

// cachesForClient returns the distinct caches clientID is kept in, whatever the environment.
func (c *Cache) cachesForClient(ctx context.Context, clientID string) []*tokencache.Cache {
	var out []*tokencache.Cache
	seen := map[*tokencache.Cache]bool{}
	for _, md := range c.metadata.GetAll(ctx) {
		if md.ClientID != clientID {
			continue
		}
		if !md.IsFoci() {
			md.UID = c.uid
		}
		tc, err := c.cacheFor(md)
		if err != nil {
			c.log.Log(ctx, logger.Warn, "skipping cache", logger.Field("error", err.Error()))
			continue
		}
		if !seen[tc] {
			seen[tc] = true
			out = append(out, tc)
		}
	}
	return out
}

// Save writes resp to the family cache when it carries a family id, to the cache of the
// calling uid otherwise, and records the application in the metadata.
func (c *Cache) Save(ctx context.Context, req oauth.Request, resp oauth.TokenResponse) (cache.CacheRecord, error) {
	ctx = logger.EnsureCorrelationID(ctx)
	target := c.foci
	if resp.FamilyID == "" {
		var err error
		if target, err = c.silo(c.uid); err != nil {
			return cache.CacheRecord{}, err
		}
	}
	r, err := target.Save(ctx, req, resp)
	if r.Account == nil {
		return r, err
	}
	merr := c.metadata.Insert(ctx, ApplicationMetadata{
		ClientID:    req.ClientID,
		Environment: r.Account.Environment,
		UID:         c.uid,
		FamilyID:    resp.FamilyID,
	})
	c.log.Log(ctx, logger.Info, "saved token response",
		logger.Field("client_id", req.ClientID),
		logger.Field("uid", c.uid),
		logger.Field("foci", resp.FamilyID != ""),
	)
	return r, errors.Join(err, merr)
}

// SaveAndLoadAggregatedAccountData saves resp, then returns what LoadWithAggregatedAccountData
// returns for the saved account.
func (c *Cache) SaveAndLoadAggregatedAccountData(ctx context.Context, req oauth.Request, resp oauth.TokenResponse) ([]cache.CacheRecord, error) {
	ctx = logger.EnsureCorrelationID(ctx)
	r, err := c.Save(ctx, req, resp)
	if r.Account == nil {
		return nil, err
	}
	records, lerr := c.LoadWithAggregatedAccountData(ctx, req.ClientID, resp.GrantedTarget(req), *r.Account, req.AuthScheme)
	if len(records) > 0 && r.AccessToken != nil {
		// The token just saved, even if another one matches the target better.
		records[0].AccessToken = r.AccessToken
	}
	return records, errors.Join(err, lerr)
}

// Load returns the cached credentials of acc for clientID. An application known to the
// metadata outside any family loads from its own cache. Every other application loads
// from the family cache: its own tokens first, then the family refresh token when it has
// no refresh token of its own.
func (c *Cache) Load(ctx context.Context, clientID, target string, acc cache.Account, authScheme string) (cache.CacheRecord, error) {
	ctx = logger.EnsureCorrelationID(ctx)
	tc, md, err := c.cacheForClient(ctx, clientID, acc.Environment)
	if err != nil {
		return cache.CacheRecord{}, err
	}
	useFoci := tc == nil || md.IsFoci()
	c.log.Log(ctx, logger.Debug, "routing load",
		logger.Field("client_id", clientID),
		logger.Field("known", tc != nil),
		logger.Field("foci", useFoci),
	)
	if useFoci {
		tc = c.foci
	}
	return tc.Load(ctx, clientID, target, acc, authScheme)
}

// LoadWithAggregatedAccountData is Load followed by a record per other tenant profile of
// the user. Applications missing from the metadata get the family record alone.
func (c *Cache) LoadWithAggregatedAccountData(ctx context.Context, clientID, target string, acc cache.Account, authScheme string) ([]cache.CacheRecord, error) {
	ctx = logger.EnsureCorrelationID(ctx)
	tc, md, err := c.cacheForClient(ctx, clientID, acc.Environment)
	if err != nil {
		return nil, err
	}
	if tc == nil {
		r, err := c.foci.LoadByFamilyID(ctx, clientID, target, acc)
		if err != nil {
			return nil, err
		}
		return []cache.CacheRecord{r}, nil
	}
	if md.IsFoci() {
		tc = c.foci
	}
	records, err := tc.LoadWithAggregatedAccountData(ctx, clientID, target, acc)
	if err != nil || authScheme == "" {
		return records, err
	}
	// The first record is reloaded for the scheme's access token.
	r, err := tc.Load(ctx, clientID, target, acc, authScheme)
	if err != nil {
		return nil, err
	}
	records[0] = r
	return records, nil
}

// Accounts returns every account of every application known to the metadata, and of the
// family cache, without duplicates.
func (c *Cache) Accounts(ctx context.Context) []cache.Account {
	ctx = logger.EnsureCorrelationID(ctx)
	caches := []*tokencache.Cache{c.foci}
	for _, md := range c.metadata.GetAll(ctx) {
		tc, err := c.cacheFor(md)
		if err != nil {
			c.log.Log(ctx, logger.Warn, "skipping cache", logger.Field("error", err.Error()))
			continue
		}
		caches = append(caches, tc)
	}

	var out []cache.Account
	seen := map[string]bool{}
	visited := map[*tokencache.Cache]bool{}
	for _, tc := range caches {
		if visited[tc] {
			continue
		}
		visited[tc] = true
		for _, a := range tc.Accounts(ctx, "", "") {
			if !seen[a.Key()] {
				seen[a.Key()] = true
				out = append(out, a)
			}
		}
	}
	return out
}

// AccountsForClient returns the accounts of clientID in env. An empty env looks in every
// cache of clientID.
func (c *Cache) AccountsForClient(ctx context.Context, env, clientID string) []cache.Account {
	ctx = logger.EnsureCorrelationID(ctx)
	if env != "" {
		tc, _, err := c.cacheForClient(ctx, clientID, env)
		if err != nil || tc == nil {
			return nil
		}
		return tc.Accounts(ctx, env, clientID)
	}
	var out []cache.Account
	for _, tc := range c.cachesForClient(ctx, clientID) {
		out = append(out, tc.Accounts(ctx, "", clientID)...)
	}
	return out
}

// lookup runs find on the cache of clientID in env, or on the family cache when the
// application is unknown. With an empty env it tries every cache of clientID in turn.
func (c *Cache) lookup(ctx context.Context, env, clientID string, find func(*tokencache.Cache) (cache.Account, bool)) (cache.Account, bool) {
	if env != "" {
		tc, _, err := c.cacheForClient(ctx, clientID, env)
		if err != nil {
			return cache.Account{}, false
		}
		if tc == nil {
			tc = c.foci
		}
		return find(tc)
	}
	for _, tc := range c.cachesForClient(ctx, clientID) {
		if a, ok := find(tc); ok {
			return a, true
		}
	}
	return cache.Account{}, false
}

// Account returns the account of homeAccountID in realm known to clientID.
func (c *Cache) Account(ctx context.Context, env, clientID, homeAccountID, realm string) (cache.Account, bool) {
	ctx = logger.EnsureCorrelationID(ctx)
	return c.lookup(ctx, env, clientID, func(tc *tokencache.Cache) (cache.Account, bool) {
		return tc.Account(ctx, env, clientID, homeAccountID, realm)
	})
}

// AccountByHomeAccountID returns the home tenant profile of homeAccountID known to clientID.
func (c *Cache) AccountByHomeAccountID(ctx context.Context, env, clientID, homeAccountID string) (cache.Account, bool) {
	return c.Account(ctx, env, clientID, homeAccountID, "")
}

// AccountWithLocalAccountID returns the account with localAccountID known to clientID.
func (c *Cache) AccountWithLocalAccountID(ctx context.Context, env, clientID, localAccountID string) (cache.Account, bool) {
	ctx = logger.EnsureCorrelationID(ctx)
	return c.lookup(ctx, env, clientID, func(tc *tokencache.Cache) (cache.Account, bool) {
		return tc.AccountByLocalAccountID(ctx, env, clientID, localAccountID)
	})
}

// AccountsWithAggregatedAccountData returns a record of account and ID tokens for every
// account of clientID in env.
func (c *Cache) AccountsWithAggregatedAccountData(ctx context.Context, env, clientID string) []cache.CacheRecord {
	ctx = logger.EnsureCorrelationID(ctx)
	if env != "" {
		tc, _, err := c.cacheForClient(ctx, clientID, env)
		if err != nil {
			return nil
		}
		if tc == nil {
			tc = c.foci
		}
		return tc.AccountsWithAggregatedAccountData(ctx, env, clientID)
	}
	var out []cache.CacheRecord
	for _, tc := range c.cachesForClient(ctx, clientID) {
		out = append(out, tc.AccountsWithAggregatedAccountData(ctx, "", clientID)...)
	}
	return out
}

// AllTenantAccountsForAccountByClientID returns every tenant profile of acc's user known
// to clientID.
func (c *Cache) AllTenantAccountsForAccountByClientID(ctx context.Context, clientID string, acc cache.Account) []cache.Account {
	ctx = logger.EnsureCorrelationID(ctx)
	tc, _, err := c.cacheForClient(ctx, clientID, acc.Environment)
	if err != nil || tc == nil {
		return nil
	}
	return tc.AllTenantAccountsForAccountByClientID(ctx, clientID, acc)
}

// IDTokensForAccountRecord returns the ID tokens of acc issued to clientID.
func (c *Cache) IDTokensForAccountRecord(ctx context.Context, clientID string, acc cache.Account) ([]cache.IDToken, error) {
	if clientID == "" {
		return nil, errors.InvalidArgument("IDTokensForAccountRecord", "clientID")
	}
	ctx = logger.EnsureCorrelationID(ctx)
	tc, _, err := c.cacheForClient(ctx, clientID, acc.Environment)
	if err != nil || tc == nil {
		return nil, err
	}
	return tc.IDTokensForAccountRecord(ctx, clientID, acc), nil
}

// RemoveCredential removes cred from the cache of its client. It reports false when the
// client is unknown.
func (c *Cache) RemoveCredential(ctx context.Context, cred cache.CredentialRecord) (bool, error) {
	ctx = logger.EnsureCorrelationID(ctx)
	b := cred.Base()
	tc, _, err := c.cacheForClient(ctx, b.ClientID, b.Environment)
	if err != nil {
		return false, err
	}
	if tc == nil {
		c.log.Log(ctx, logger.Warn, "could not remove credential, no cache for its client", logger.Field("client_id", b.ClientID))
		return false, nil
	}
	return tc.RemoveCredential(ctx, cred)
}

// RemoveAccount removes the account of homeAccountID and its credentials of clientID from
// every cache of the calling uid and from the family cache.
func (c *Cache) RemoveAccount(ctx context.Context, env, clientID, homeAccountID, realm string) (cache.AccountDeletionRecord, error) {
	ctx = logger.EnsureCorrelationID(ctx)
	return c.removeAccount(ctx, env, clientID, homeAccountID, realm)
}

// RemoveAccountFromDevice removes acc's user, with the credentials of every client, from
// the family cache and from the cache of every uid in the metadata.
func (c *Cache) RemoveAccountFromDevice(ctx context.Context, acc cache.Account) (cache.AccountDeletionRecord, error) {
	ctx = logger.EnsureCorrelationID(ctx)
	if acc.HomeAccountID == "" {
		return cache.AccountDeletionRecord{}, errors.InvalidArgument("RemoveAccountFromDevice", "account")
	}
	deleted := cache.AccountDeletionRecord{}
	var errs []error
	caches := []*tokencache.Cache{c.foci}
	visited := map[*tokencache.Cache]bool{c.foci: true}
	for _, md := range c.metadata.GetAll(ctx) {
		tc, err := c.cacheFor(md)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !visited[tc] {
			visited[tc] = true
			caches = append(caches, tc)
		}
	}
	for _, tc := range caches {
		d, err := tc.RemoveUser(ctx, acc.Environment, acc.HomeAccountID)
		deleted.Merge(d)
		errs = append(errs, err)
	}
	c.log.Log(ctx, logger.Info, "removed account from device", logger.Field("accounts", deleted.Len()))
	return deleted, errors.Join(errs...)
}

// removeAccount visits each distinct cache of the calling uid in the metadata once, and
// the family cache.
func (c *Cache) removeAccount(ctx context.Context, env, clientID, homeAccountID, realm string) (cache.AccountDeletionRecord, error) {
	deleted := cache.AccountDeletionRecord{}
	var errs []error
	visited := map[*tokencache.Cache]bool{}
	for _, md := range c.metadata.GetAll(ctx) {
		md.UID = c.uid
		tc, err := c.cacheFor(md)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if visited[tc] {
			continue
		}
		visited[tc] = true
		d, err := tc.RemoveAccount(ctx, env, clientID, homeAccountID, realm)
		deleted.Merge(d)
		errs = append(errs, err)
	}
	if !visited[c.foci] {
		d, err := c.foci.RemoveAccount(ctx, env, clientID, homeAccountID, realm)
		deleted.Merge(d)
		errs = append(errs, err)
	}
	return deleted, errors.Join(errs...)
}

// Clear clears the cache of every application in the metadata, the family cache and the
// metadata.
func (c *Cache) Clear(ctx context.Context) error {
	ctx = logger.EnsureCorrelationID(ctx)
	var errs []error
	visited := map[*tokencache.Cache]bool{}
	for _, md := range c.metadata.GetAll(ctx) {
		tc, err := c.cacheFor(md)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !visited[tc] {
			visited[tc] = true
			errs = append(errs, tc.Clear(ctx))
		}
	}
	if !visited[c.foci] {
		errs = append(errs, c.foci.Clear(ctx))
	}
	errs = append(errs, c.metadata.Clear(ctx))
	return errors.Join(errs...)
}

// IsClientIDKnownToCache reports whether clientID is in the metadata.
func (c *Cache) IsClientIDKnownToCache(ctx context.Context, clientID string) bool {
	for _, id := range c.metadata.AllClientIDs(ctx) {
		if id == clientID {
			return true
		}
	}
	return false
}

// ClientIDsForFoci returns the client ids known to belong to a family.
func (c *Cache) ClientIDsForFoci(ctx context.Context) []string {
	return c.metadata.AllFociClientIDs(ctx)
}

// FociCacheRecords returns, for each family application in the metadata and each of its
// accounts, the account with the application's refresh token and ID tokens.
func (c *Cache) FociCacheRecords(ctx context.Context) []cache.CacheRecord {
	ctx = logger.EnsureCorrelationID(ctx)
	var out []cache.CacheRecord
	for _, md := range c.metadata.AllFociApplicationMetadata(ctx) {
		for _, acc := range c.foci.Accounts(ctx, md.Environment, md.ClientID) {
			r, err := c.foci.Load(ctx, md.ClientID, "", acc, "")
			if err != nil || r.RefreshToken == nil {
				continue
			}
			r.AccessToken = nil
			out = append(out, r)
		}
	}
	return out
}

// SetSingleSignOnState writes acc and rt, handed over for the application running as uid.
// A family token goes to the family cache, any other to the cache of uid.
func (c *Cache) SetSingleSignOnState(ctx context.Context, uid int, acc cache.Account, rt cache.RefreshToken, idTokens ...cache.IDToken) error {
	ctx = logger.EnsureCorrelationID(ctx)
	target := c.foci
	if !rt.IsFamily() {
		var err error
		if target, err = c.silo(uid); err != nil {
			return err
		}
	}
	if err := target.SetSingleSignOnState(ctx, acc, rt, idTokens...); err != nil {
		return err
	}
	return c.metadata.Insert(ctx, ApplicationMetadata{
		ClientID:    rt.ClientID,
		Environment: rt.Environment,
		UID:         uid,
		FamilyID:    rt.FamilyID,
	})
}
