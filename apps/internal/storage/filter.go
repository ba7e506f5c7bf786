// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package storage

import (
	"slices"
	"strings"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/cache"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/internal/shared"
)

// AccountFilter selects accounts. Empty fields match anything; set fields must equal the
// account's, ignoring case and surrounding space.
type AccountFilter struct {
	HomeAccountID string
	Environment   string
	Realm         string
}

// Match reports whether a passes f.
func (f AccountFilter) Match(a cache.Account) bool {
	return matches(f.HomeAccountID, a.HomeAccountID) &&
		matches(f.Environment, a.Environment) &&
		matches(f.Realm, a.Realm)
}

// CredentialFilter selects credentials. Empty fields match anything. Set fields must
// equal the credential's, ignoring case and surrounding space, except Target: a
// credential matches when its target holds every scope of Target, not counting the
// default OIDC scopes.
//
// Realm, RequestedClaims, AuthScheme, ApplicationID and MAMEnrollmentID only constrain
// kinds that carry them; FamilyID only constrains refresh tokens.
type CredentialFilter struct {
	HomeAccountID string
	Environment   string
	// Kinds restricts the credential kinds. Empty means every kind.
	Kinds    []cache.Kind
	ClientID string
	Realm    string
	Target   string

	FamilyID        string
	RequestedClaims string
	AuthScheme      string
	ApplicationID   string
	MAMEnrollmentID string
}

// Match reports whether c passes f.
func (f CredentialFilter) Match(c cache.CredentialRecord) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, c.Kind()) {
		return false
	}
	base := c.Base()
	if !matches(f.HomeAccountID, base.HomeAccountID) ||
		!matches(f.Environment, base.Environment) ||
		!matches(f.ClientID, base.ClientID) {
		return false
	}

	switch t := c.(type) {
	case cache.AccessToken:
		return matches(f.Realm, t.Realm) &&
			shared.ContainsScopes(t.Target, f.Target) &&
			matches(f.RequestedClaims, t.RequestedClaims) &&
			matches(f.AuthScheme, t.TokenType) &&
			matches(f.ApplicationID, t.ApplicationIdentifier) &&
			matches(f.MAMEnrollmentID, t.MAMEnrollmentIdentifier)
	case cache.RefreshToken:
		return shared.ContainsScopes(t.Target, f.Target) &&
			matches(strings.TrimPrefix(f.FamilyID, "foci-"), strings.TrimPrefix(t.FamilyID, "foci-"))
	case cache.IDToken:
		return matches(f.Realm, t.Realm)
	}
	return true
}

func matches(want, got string) bool {
	return want == "" || shared.EqualFold(want, got)
}

// sortAccounts orders accounts by key so results do not depend on map order.
func sortAccounts(accounts []cache.Account) {
	slices.SortFunc(accounts, func(a, b cache.Account) int {
		return strings.Compare(a.Key(), b.Key())
	})
}

func sortCredentials(creds []cache.CredentialRecord) {
	slices.SortFunc(creds, func(a, b cache.CredentialRecord) int {
		return strings.Compare(a.Key(), b.Key())
	})
}
