// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package shared holds helpers used by several cache packages: key normalization
// and scope set arithmetic.
package shared

import (
	"strings"
)

const (
	// CacheKeySeparator is used in creating the keys of the cache.
	CacheKeySeparator = "-"
	// ScopeSeparator separates the scopes of a target string.
	ScopeSeparator = " "
)

// Authority types recorded on accounts.
const (
	AuthorityTypeMSSTS = "MSSTS"
	AuthorityTypeAAD   = "AAD"
	AuthorityTypeB2C   = "B2C"
)

// FamilyIDFoci is the family id of the Microsoft first party app family.
const FamilyIDFoci = "1"

// DefaultScopes are added by the authorization server to every request and are never
// used to distinguish tokens.
var DefaultScopes = []string{"openid", "profile", "offline_access"}

var defaultScopes = map[string]struct{}{"openid": {}, "profile": {}, "offline_access": {}}

// Normalize lower-cases and trims s.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// EqualFold reports whether a and b are equal after trimming, ignoring case.
func EqualFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// JoinKey builds a cache key from parts: each part is normalized, absent parts become empty
// segments and a single trailing separator is stripped.
func JoinKey(parts ...string) string {
	norm := make([]string, len(parts))
	for i, p := range parts {
		norm[i] = Normalize(p)
	}
	return strings.TrimSuffix(strings.Join(norm, CacheKeySeparator), CacheKeySeparator)
}

// ScopeSet returns the lower-cased scopes of target. When omitDefaults is set the
// DefaultScopes are left out.
func ScopeSet(target string, omitDefaults bool) map[string]struct{} {
	set := map[string]struct{}{}
	for _, s := range strings.Fields(target) {
		s = strings.ToLower(s)
		if omitDefaults {
			if _, ok := defaultScopes[s]; ok {
				continue
			}
		}
		set[s] = struct{}{}
	}
	return set
}

// ScopesIntersect reports whether a and b share at least one scope, ignoring case and
// the DefaultScopes.
func ScopesIntersect(a, b string) bool {
	as := ScopeSet(a, true)
	for s := range ScopeSet(b, true) {
		if _, ok := as[s]; ok {
			return true
		}
	}
	return false
}

// ContainsScopes reports whether target holds every scope of sought, ignoring case.
// DefaultScopes in sought are ignored. An empty sought matches any target.
func ContainsScopes(target, sought string) bool {
	have := ScopeSet(target, false)
	for s := range ScopeSet(sought, true) {
		if _, ok := have[s]; !ok {
			return false
		}
	}
	return true
}

// JoinScopes joins scopes into a target string.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, ScopeSeparator)
}
