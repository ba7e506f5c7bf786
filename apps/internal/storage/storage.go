// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package storage holds the accounts and credentials of one cache. All records live in a
// single flat store.Store, keyed by their Key(). Each query scans the store and builds
// a decoded view grouped by record kind, so several Managers over the same store always
// see the same data.
//
// Read paths never fail: entries that cannot be read are logged and skipped, and entries
// that decode to an empty record are deleted. Only writes report storage errors.
package storage

import (
	"context"
	"sync"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/cache"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/errors"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/logger"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/store"
	"github.com/hashicorp/go-multierror"
)

// Manager reads and writes accounts and credentials in a store.Store.
type Manager struct {
	store store.Store
	log   *logger.Logger

	// mu serializes compound mutations (read, decide, write) against scans.
	mu sync.RWMutex
}

// New is the constructor for Manager. A nil log discards log output.
func New(s store.Store, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{store: s, log: log}
}

// Store returns the underlying store.
func (m *Manager) Store() store.Store {
	return m.store
}

// contract is the decoded content of the store: kind, then key, then record.
type contract map[cache.Kind]map[string]cache.Record

func (c contract) add(key string, r cache.Record) {
	byKey, ok := c[r.Kind()]
	if !ok {
		byKey = map[string]cache.Record{}
		c[r.Kind()] = byKey
	}
	byKey[key] = r
}

// read scans the store. Callers hold m.mu.
func (m *Manager) read(ctx context.Context) contract {
	c := contract{}
	entries, err := m.store.GetAll(ctx)
	if err != nil {
		m.log.Log(ctx, logger.Warn, "could not read cache", logger.Field("store", m.store.Name()), logger.Field("error", err))
		return c
	}
	for key, value := range entries {
		if r, ok := m.decode(ctx, key, value); ok {
			c.add(key, r)
		}
	}
	return c
}

// decode classifies and parses one entry. Entries that are corrupt are removed.
func (m *Manager) decode(ctx context.Context, key, value string) (cache.Record, bool) {
	kind, ok := cache.Classify(key, value)
	if !ok {
		m.log.Log(ctx, logger.Warn, "skipping unreadable cache entry", logger.Field("key", key))
		return nil, false
	}
	if kind == cache.KindUnknown {
		m.log.Log(ctx, logger.Debug, "skipping cache entry of unknown kind", logger.Field("key", key))
		return nil, false
	}
	r, err := cache.Decode(kind, value)
	if err != nil {
		m.log.Log(ctx, logger.Warn, "skipping unreadable cache entry", logger.Field("key", key), logger.Field("error", err))
		return nil, false
	}
	if r.IsZero() {
		m.log.Log(ctx, logger.Warn, "removing empty cache entry", logger.Field("key", key))
		if err := m.store.Remove(ctx, key); err != nil {
			m.log.Log(ctx, logger.Warn, "could not remove empty cache entry", logger.Field("key", key), logger.Field("error", err))
		}
		return nil, false
	}
	return r, true
}

// get reads the record at key.
func (m *Manager) get(ctx context.Context, key string) (cache.Record, bool) {
	value, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.log.Log(ctx, logger.Warn, "could not read cache entry", logger.Field("key", key), logger.Field("error", err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return m.decode(ctx, key, value)
}

func (m *Manager) put(ctx context.Context, r cache.Record) error {
	value, err := cache.Value(r)
	if err != nil {
		return err
	}
	key := r.Key()
	if err := m.store.Put(ctx, key, value); err != nil {
		return errors.StorageError{Op: "put", Store: m.store.Name(), Key: key, Err: err}
	}
	return nil
}

func (m *Manager) remove(ctx context.Context, key string) error {
	if err := m.store.Remove(ctx, key); err != nil {
		return errors.StorageError{Op: "remove", Store: m.store.Name(), Key: key, Err: err}
	}
	return nil
}

// SaveAccount writes a, replacing any account with the same key.
func (m *Manager) SaveAccount(ctx context.Context, a cache.Account) error {
	if a.IsZero() {
		return errors.InvalidArgument("SaveAccount", "account")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(ctx, a)
}

// SaveCredential writes c, replacing any credential with the same key.
func (m *Manager) SaveCredential(ctx context.Context, c cache.CredentialRecord) error {
	if c == nil || c.IsZero() {
		return errors.InvalidArgument("SaveCredential", "credential")
	}
	if !c.Kind().IsCredential() {
		return errors.InvalidArgument("SaveCredential", "credential type")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(ctx, c)
}

// SaveBatch writes records one by one. It is best effort: every record is attempted even
// after a failure, and records written before a failure stay written, so a failed batch
// can leave an account without its tokens. Retrying the batch rewrites the same keys.
// Failures are reported as one *errors.BatchError.
func (m *Manager) SaveBatch(ctx context.Context, records ...cache.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var written []string
	var errs *multierror.Error
	for _, r := range records {
		if r == nil || r.IsZero() {
			continue
		}
		if err := m.put(ctx, r); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		written = append(written, r.Key())
	}
	if errs != nil {
		m.log.Log(ctx, logger.Warn, "cache batch saved partially",
			logger.Field("written", len(written)),
			logger.Field("failed", errs.Len()),
		)
	}
	return errors.NewBatchError(written, errs)
}

// Account returns the account stored at key.
func (m *Manager) Account(ctx context.Context, key string) (cache.Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.get(ctx, key)
	if !ok {
		return cache.Account{}, false
	}
	a, ok := r.(cache.Account)
	return a, ok
}

// Credential returns the credential stored at key. An entry whose kind cannot be
// resolved, or that holds an account, is absent.
func (m *Manager) Credential(ctx context.Context, key string) (cache.CredentialRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.get(ctx, key)
	if !ok {
		return nil, false
	}
	c, ok := r.(cache.CredentialRecord)
	return c, ok
}

// Accounts returns every account.
func (m *Manager) Accounts(ctx context.Context) []cache.Account {
	return m.AccountsFilteredBy(ctx, AccountFilter{})
}

// Credentials returns every credential.
func (m *Manager) Credentials(ctx context.Context) []cache.CredentialRecord {
	return m.CredentialsFilteredBy(ctx, CredentialFilter{})
}

// AccountsFilteredBy returns the accounts matching f.
func (m *Manager) AccountsFilteredBy(ctx context.Context, f AccountFilter) []cache.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var accounts []cache.Account
	for _, r := range m.read(ctx)[cache.KindAccount] {
		a := r.(cache.Account)
		if f.Match(a) {
			accounts = append(accounts, a)
		}
	}
	sortAccounts(accounts)
	return accounts
}

// CredentialsFilteredBy returns the credentials matching f.
func (m *Manager) CredentialsFilteredBy(ctx context.Context, f CredentialFilter) []cache.CredentialRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credentials(ctx, m.read(ctx), f)
}

func (m *Manager) credentials(_ context.Context, c contract, f CredentialFilter) []cache.CredentialRecord {
	kinds := f.Kinds
	if len(kinds) == 0 {
		kinds = cache.CredentialKinds
	}
	var creds []cache.CredentialRecord
	for _, k := range kinds {
		for _, r := range c[k] {
			cr := r.(cache.CredentialRecord)
			if f.Match(cr) {
				creds = append(creds, cr)
			}
		}
	}
	sortCredentials(creds)
	return creds
}

// AccessTokens returns the access tokens, of either kind, matching f.
func (m *Manager) AccessTokens(ctx context.Context, f CredentialFilter) []cache.AccessToken {
	if len(f.Kinds) == 0 {
		f.Kinds = []cache.Kind{cache.KindAccessToken, cache.KindAccessTokenWithAuthScheme}
	}
	return credentialsOf[cache.AccessToken](m.CredentialsFilteredBy(ctx, f))
}

// RefreshTokens returns the refresh tokens matching f.
func (m *Manager) RefreshTokens(ctx context.Context, f CredentialFilter) []cache.RefreshToken {
	f.Kinds = []cache.Kind{cache.KindRefreshToken}
	return credentialsOf[cache.RefreshToken](m.CredentialsFilteredBy(ctx, f))
}

// IDTokens returns the ID tokens matching f. Unless f names kinds, both IdToken and
// V1IdToken are returned.
func (m *Manager) IDTokens(ctx context.Context, f CredentialFilter) []cache.IDToken {
	if len(f.Kinds) == 0 {
		f.Kinds = []cache.Kind{cache.KindIDToken, cache.KindV1IDToken}
	}
	return credentialsOf[cache.IDToken](m.CredentialsFilteredBy(ctx, f))
}

func credentialsOf[T cache.CredentialRecord](creds []cache.CredentialRecord) []T {
	var out []T
	for _, c := range creds {
		if t, ok := c.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// RemoveAccount deletes a. It reports whether an entry was removed.
func (m *Manager) RemoveAccount(ctx context.Context, a cache.Account) (bool, error) {
	if a.IsZero() {
		return false, errors.InvalidArgument("RemoveAccount", "account")
	}
	return m.removeKey(ctx, a.Key())
}

// RemoveCredential deletes c. It reports whether an entry was removed.
func (m *Manager) RemoveCredential(ctx context.Context, c cache.CredentialRecord) (bool, error) {
	if c == nil || c.IsZero() {
		return false, errors.InvalidArgument("RemoveCredential", "credential")
	}
	return m.removeKey(ctx, c.Key())
}

func (m *Manager) removeKey(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ok, err := m.store.Contains(ctx, key)
	if err != nil {
		return false, errors.StorageError{Op: "contains", Store: m.store.Name(), Key: key, Err: err}
	}
	if !ok {
		return false, nil
	}
	if err := m.remove(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveCredentialsFilteredBy deletes every credential matching f and returns them.
// Removal continues past failures, which are returned together.
func (m *Manager) RemoveCredentialsFilteredBy(ctx context.Context, f CredentialFilter) ([]cache.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []cache.CredentialRecord
	var errs []error
	for _, c := range m.credentials(ctx, m.read(ctx), f) {
		if err := m.remove(ctx, c.Key()); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, c)
	}
	return removed, errors.Join(errs...)
}

// Clear removes every entry of the store.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Clear(ctx); err != nil {
		return errors.StorageError{Op: "clear", Store: m.store.Name(), Err: err}
	}
	return nil
}
