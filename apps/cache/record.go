// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package cache

// CacheRecord bundles an account with the credentials found or saved for it.
// It is never persisted itself; only its members are. Nil members are absent:
// a record holding only a RefreshToken calls for a silent refresh, one holding only
// an Account calls for an interactive prompt.
type CacheRecord struct {
	Account      *Account
	AccessToken  *AccessToken
	RefreshToken *RefreshToken
	IDToken      *IDToken
	V1IDToken    *IDToken
}

// IsZero reports whether r holds nothing.
func (r CacheRecord) IsZero() bool {
	return r.Account == nil && r.AccessToken == nil && r.RefreshToken == nil && r.IDToken == nil && r.V1IDToken == nil
}

// AnyIDToken returns the IDToken, or the V1IDToken if there is none.
func (r CacheRecord) AnyIDToken() *IDToken {
	if r.IDToken != nil {
		return r.IDToken
	}
	return r.V1IDToken
}

// AccountDeletionRecord lists the accounts removed by a removal operation.
type AccountDeletionRecord struct {
	Accounts []Account
}

// Len returns the number of removed accounts.
func (d AccountDeletionRecord) Len() int {
	return len(d.Accounts)
}

// Merge appends the accounts of other that d does not already hold, by key.
func (d *AccountDeletionRecord) Merge(other AccountDeletionRecord) {
	seen := make(map[string]bool, len(d.Accounts))
	for _, a := range d.Accounts {
		seen[a.Key()] = true
	}
	for _, a := range other.Accounts {
		if !seen[a.Key()] {
			seen[a.Key()] = true
			d.Accounts = append(d.Accounts, a)
		}
	}
}
