// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package tokencache

import (
	"context"
	"slices"
	"strings"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/cache"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/errors"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/internal/shared"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/internal/storage"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/logger"
)

// Load returns the cached credentials of acc for clientID:
//   - the access token of the account's realm holding every scope of target, preferring
//     one whose scopes equal target, then the most recently cached. authScheme "pop"
//     selects proof-of-possession tokens, anything else bearer tokens.
//   - the refresh token of clientID. Target is only considered for accounts of other
//     authority types than MSSTS. Without one, a family refresh token of the user is used.
//   - the ID token of clientID for the account's realm.
//
// The stored copy of acc is returned in Account when there is one.
func (c *Cache) Load(ctx context.Context, clientID, target string, acc cache.Account, authScheme string) (cache.CacheRecord, error) {
	ctx = logger.EnsureCorrelationID(ctx)
	if err := validateLoad("Load", clientID, acc); err != nil {
		return cache.CacheRecord{}, err
	}

	r := c.idTokenRecord(ctx, clientID, c.storedAccount(ctx, acc))
	r.AccessToken = c.accessToken(ctx, clientID, target, acc, authScheme)
	r.RefreshToken = c.refreshToken(ctx, clientID, target, acc)
	if r.RefreshToken == nil {
		r.RefreshToken = c.familyRefreshToken(ctx, acc)
	}
	c.logLoad(ctx, "Load", clientID, r)
	return r, nil
}

// LoadByFamilyID is Load with a looser refresh token match: any token of family 1 for
// the user and environment qualifies, whichever client it was issued to.
func (c *Cache) LoadByFamilyID(ctx context.Context, clientID, target string, acc cache.Account) (cache.CacheRecord, error) {
	ctx = logger.EnsureCorrelationID(ctx)
	if err := validateLoad("LoadByFamilyID", clientID, acc); err != nil {
		return cache.CacheRecord{}, err
	}

	r := c.idTokenRecord(ctx, clientID, c.storedAccount(ctx, acc))
	r.AccessToken = c.accessToken(ctx, clientID, target, acc, "")
	r.RefreshToken = c.familyRefreshToken(ctx, acc)
	c.logLoad(ctx, "LoadByFamilyID", clientID, r)
	return r, nil
}

// LoadWithAggregatedAccountData returns the record Load returns, followed by one record per
// other tenant profile of the user holding the profile's account and ID tokens.
func (c *Cache) LoadWithAggregatedAccountData(ctx context.Context, clientID, target string, acc cache.Account) ([]cache.CacheRecord, error) {
	r, err := c.Load(ctx, clientID, target, acc, "")
	if err != nil {
		return nil, err
	}
	out := []cache.CacheRecord{r}
	for _, profile := range c.AllTenantAccountsForAccountByClientID(ctx, clientID, acc) {
		if shared.EqualFold(profile.Realm, acc.Realm) {
			continue
		}
		out = append(out, c.idTokenRecord(ctx, clientID, profile))
	}
	return out, nil
}

func validateLoad(op, clientID string, acc cache.Account) error {
	if strings.TrimSpace(clientID) == "" {
		return errors.InvalidArgument(op, "clientID")
	}
	if acc.IsZero() {
		return errors.InvalidArgument(op, "account")
	}
	return nil
}

func (c *Cache) logLoad(ctx context.Context, op, clientID string, r cache.CacheRecord) {
	c.log.Log(ctx, logger.Debug, "loaded cache record",
		logger.Field("op", op),
		logger.Field("client_id", clientID),
		logger.Field("account", r.Account != nil),
		logger.Field("access_token", r.AccessToken != nil),
		logger.Field("refresh_token", r.RefreshToken != nil),
		logger.Field("id_token", r.AnyIDToken() != nil),
	)
}

// storedAccount returns the cached copy of acc, or acc itself.
func (c *Cache) storedAccount(ctx context.Context, acc cache.Account) cache.Account {
	found := c.storage.AccountsFilteredBy(ctx, storage.AccountFilter{
		HomeAccountID: acc.HomeAccountID,
		Environment:   acc.Environment,
		Realm:         acc.Realm,
	})
	for _, a := range found {
		if shared.EqualFold(a.Realm, acc.Realm) {
			return a
		}
	}
	return acc
}

// idTokenRecord returns a record of acc and its ID tokens for clientID.
func (c *Cache) idTokenRecord(ctx context.Context, clientID string, acc cache.Account) cache.CacheRecord {
	r := cache.CacheRecord{Account: &acc}
	for _, idt := range c.IDTokensForAccountRecord(ctx, clientID, acc) {
		switch idt.Kind() {
		case cache.KindIDToken:
			if r.IDToken == nil {
				r.IDToken = &idt
			}
		case cache.KindV1IDToken:
			if r.V1IDToken == nil {
				r.V1IDToken = &idt
			}
		}
	}
	return r
}

func (c *Cache) accessToken(ctx context.Context, clientID, target string, acc cache.Account, authScheme string) *cache.AccessToken {
	f := storage.CredentialFilter{
		HomeAccountID: acc.HomeAccountID,
		Environment:   acc.Environment,
		Kinds:         []cache.Kind{cache.KindAccessToken},
		ClientID:      clientID,
		Realm:         acc.Realm,
		Target:        target,
	}
	if cache.IsAuthScheme(authScheme) {
		f.Kinds = []cache.Kind{cache.KindAccessTokenWithAuthScheme}
		f.AuthScheme = authScheme
	}
	ats := c.storage.AccessTokens(ctx, f)
	if len(ats) == 0 {
		return nil
	}
	best := slices.MaxFunc(ats, func(a, b cache.AccessToken) int {
		if ea, eb := sameScopes(a.Target, target), sameScopes(b.Target, target); ea != eb {
			if ea {
				return 1
			}
			return -1
		}
		return a.CachedAt.T.Compare(b.CachedAt.T)
	})
	return &best
}

func sameScopes(a, b string) bool {
	return shared.ContainsScopes(a, b) && shared.ContainsScopes(b, a)
}

func (c *Cache) refreshToken(ctx context.Context, clientID, target string, acc cache.Account) *cache.RefreshToken {
	f := storage.CredentialFilter{
		HomeAccountID: acc.HomeAccountID,
		Environment:   acc.Environment,
		ClientID:      clientID,
	}
	if !shared.EqualFold(acc.AuthorityType, shared.AuthorityTypeMSSTS) {
		f.Target = target
	}
	return newest(c.storage.RefreshTokens(ctx, f))
}

func (c *Cache) familyRefreshToken(ctx context.Context, acc cache.Account) *cache.RefreshToken {
	return newest(c.storage.RefreshTokens(ctx, storage.CredentialFilter{
		HomeAccountID: acc.HomeAccountID,
		Environment:   acc.Environment,
		FamilyID:      shared.FamilyIDFoci,
	}))
}

func newest(rts []cache.RefreshToken) *cache.RefreshToken {
	if len(rts) == 0 {
		return nil
	}
	rt := slices.MaxFunc(rts, func(a, b cache.RefreshToken) int {
		return a.CachedAt.T.Compare(b.CachedAt.T)
	})
	return &rt
}

// Accounts returns the accounts in env that hold credentials of clientID. An empty env
// matches every environment and an empty clientID every client.
func (c *Cache) Accounts(ctx context.Context, env, clientID string) []cache.Account {
	ctx = logger.EnsureCorrelationID(ctx)
	accounts := c.storage.AccountsFilteredBy(ctx, storage.AccountFilter{Environment: env})
	if clientID == "" {
		return accounts
	}
	users := map[string]bool{}
	for _, cred := range c.storage.CredentialsFilteredBy(ctx, storage.CredentialFilter{Environment: env, ClientID: clientID}) {
		b := cred.Base()
		users[userKey(b.HomeAccountID, b.Environment)] = true
	}
	var out []cache.Account
	for _, a := range accounts {
		if users[userKey(a.HomeAccountID, a.Environment)] {
			out = append(out, a)
		}
	}
	return out
}

func userKey(homeAccountID, env string) string {
	return shared.JoinKey(homeAccountID, env)
}

// Account returns the account of homeAccountID in realm known to clientID. An empty
// realm matches the user's home tenant profile first, then any other.
func (c *Cache) Account(ctx context.Context, env, clientID, homeAccountID, realm string) (cache.Account, bool) {
	var match []cache.Account
	for _, a := range c.Accounts(ctx, env, clientID) {
		if shared.EqualFold(a.HomeAccountID, homeAccountID) && (realm == "" || shared.EqualFold(a.Realm, realm)) {
			match = append(match, a)
		}
	}
	return first(homeTenantFirst(match))
}

// AccountByHomeAccountID returns the home tenant profile of homeAccountID, or another of
// its profiles if the home one is not cached.
func (c *Cache) AccountByHomeAccountID(ctx context.Context, env, clientID, homeAccountID string) (cache.Account, bool) {
	return c.Account(ctx, env, clientID, homeAccountID, "")
}

// AccountByLocalAccountID returns the account with the given local account id.
func (c *Cache) AccountByLocalAccountID(ctx context.Context, env, clientID, localAccountID string) (cache.Account, bool) {
	for _, a := range c.Accounts(ctx, env, clientID) {
		if shared.EqualFold(a.LocalAccountID, localAccountID) {
			return a, true
		}
	}
	return cache.Account{}, false
}

// AccountsByUsername returns the accounts with the given username.
func (c *Cache) AccountsByUsername(ctx context.Context, env, clientID, username string) []cache.Account {
	var out []cache.Account
	for _, a := range c.Accounts(ctx, env, clientID) {
		if shared.EqualFold(a.Username, username) {
			out = append(out, a)
		}
	}
	return out
}

// AllTenantAccountsForAccountByClientID returns every tenant profile of acc's user known
// to clientID, the home tenant profile first.
func (c *Cache) AllTenantAccountsForAccountByClientID(ctx context.Context, clientID string, acc cache.Account) []cache.Account {
	var out []cache.Account
	for _, a := range c.Accounts(ctx, acc.Environment, clientID) {
		if a.SameUser(acc) {
			out = append(out, a)
		}
	}
	return homeTenantFirst(out)
}

// IDTokensForAccountRecord returns the ID tokens of either version issued to clientID for
// acc's realm. An empty clientID matches every client.
func (c *Cache) IDTokensForAccountRecord(ctx context.Context, clientID string, acc cache.Account) []cache.IDToken {
	return c.storage.IDTokens(ctx, storage.CredentialFilter{
		HomeAccountID: acc.HomeAccountID,
		Environment:   acc.Environment,
		ClientID:      clientID,
		Realm:         acc.Realm,
	})
}

// AccountsWithAggregatedAccountData returns a record of account and ID tokens for every
// account Accounts returns, each user's home tenant profile first.
func (c *Cache) AccountsWithAggregatedAccountData(ctx context.Context, env, clientID string) []cache.CacheRecord {
	var out []cache.CacheRecord
	for _, a := range homeTenantFirst(c.Accounts(ctx, env, clientID)) {
		out = append(out, c.idTokenRecord(ctx, clientID, a))
	}
	return out
}

// IsHomeTenant reports whether a is the profile of the user's home tenant, whose realm
// is the tenant part of the home account id.
func IsHomeTenant(a cache.Account) bool {
	_, tenant, ok := strings.Cut(a.HomeAccountID, ".")
	return ok && shared.EqualFold(tenant, a.Realm)
}

// homeTenantFirst orders accounts by user, with each user's home tenant profile first.
func homeTenantFirst(accounts []cache.Account) []cache.Account {
	slices.SortStableFunc(accounts, func(a, b cache.Account) int {
		if c := strings.Compare(userKey(a.HomeAccountID, a.Environment), userKey(b.HomeAccountID, b.Environment)); c != 0 {
			return c
		}
		ha, hb := IsHomeTenant(a), IsHomeTenant(b)
		switch {
		case ha && !hb:
			return -1
		case hb && !ha:
			return 1
		}
		return 0
	})
	return accounts
}

func first(accounts []cache.Account) (cache.Account, bool) {
	if len(accounts) == 0 {
		return cache.Account{}, false
	}
	return accounts[0], true
}
