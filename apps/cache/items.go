// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package cache defines the records held by the token cache: accounts and the credential
variants issued for them, how each record is keyed, and how it is serialized to a cache
value.

Every record carries AdditionalFields. Keys found in a cache value that the record does
not declare are kept there and written back on the next serialization, so that a value
written by a newer schema survives being read and re-written by an older one.
*/
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"reflect"
	"strings"
	"time"

	internalTime "github.com/AzureAD/microsoft-identity-cache-go/apps/internal/json/types/time"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/internal/shared"
)

// Kind is the explicit type tag of a record.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAccount
	KindAccessToken
	KindAccessTokenWithAuthScheme
	KindRefreshToken
	KindIDToken
	KindV1IDToken
	KindPrimaryRefreshToken
)

// CredentialKinds lists every credential kind.
var CredentialKinds = []Kind{
	KindAccessToken,
	KindAccessTokenWithAuthScheme,
	KindRefreshToken,
	KindIDToken,
	KindV1IDToken,
	KindPrimaryRefreshToken,
}

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "Account"
	case KindUnknown:
		return "Unknown"
	}
	return string(k.CredentialType())
}

// CredentialType returns the credential_type value of k, or "" if k is not a credential kind.
func (k Kind) CredentialType() CredentialType {
	switch k {
	case KindAccessToken:
		return AccessTokenType
	case KindAccessTokenWithAuthScheme:
		return AccessTokenWithAuthSchemeType
	case KindRefreshToken:
		return RefreshTokenType
	case KindIDToken:
		return IDTokenType
	case KindV1IDToken:
		return V1IDTokenType
	case KindPrimaryRefreshToken:
		return PrimaryRefreshTokenType
	}
	return ""
}

// IsCredential reports whether k is one of the credential kinds.
func (k Kind) IsCredential() bool {
	return k.CredentialType() != ""
}

// CredentialType is the serialized discriminator of a credential.
type CredentialType string

const (
	AccessTokenType               CredentialType = "AccessToken"
	AccessTokenWithAuthSchemeType CredentialType = "AccessToken_With_AuthScheme"
	RefreshTokenType              CredentialType = "RefreshToken"
	IDTokenType                   CredentialType = "IdToken"
	V1IDTokenType                 CredentialType = "V1IdToken"
	PrimaryRefreshTokenType       CredentialType = "PrimaryRefreshToken"
)

// Kind returns the kind t names, ignoring case, or KindUnknown.
func (t CredentialType) Kind() Kind {
	for _, k := range CredentialKinds {
		if strings.EqualFold(string(k.CredentialType()), strings.TrimSpace(string(t))) {
			return k
		}
	}
	return KindUnknown
}

// Access token types.
const (
	TokenTypeBearer = "bearer"
	TokenTypePoP    = "pop"
)

// IsAuthScheme reports whether scheme names an authentication scheme other than bearer.
// Access tokens of such a scheme are stored as AccessToken_With_AuthScheme.
func IsAuthScheme(scheme string) bool {
	s := shared.Normalize(scheme)
	return s != "" && s != TokenTypeBearer
}

// Record is implemented by every persisted record.
type Record interface {
	// Key returns the cache key of the record.
	Key() string
	// Kind returns the record's type tag.
	Kind() Kind
	// IsZero reports whether every declared field is empty. Such a record read from
	// storage is corrupt.
	IsZero() bool
}

// CredentialRecord is implemented by every credential variant.
type CredentialRecord interface {
	Record
	Base() Credential
}

// Account is the identity of a signed-in user scoped to an issuer.
// Two accounts denote the same user when HomeAccountID and Environment match; Realm
// distinguishes the user's tenant profiles.
type Account struct {
	HomeAccountID        string `json:"home_account_id,omitempty"`
	Environment          string `json:"environment,omitempty"`
	Realm                string `json:"realm,omitempty"`
	LocalAccountID       string `json:"local_account_id,omitempty"`
	Username             string `json:"username,omitempty"`
	AuthorityType        string `json:"authority_type,omitempty"`
	AlternativeAccountID string `json:"alternative_account_id,omitempty"`
	FirstName            string `json:"first_name,omitempty"`
	FamilyName           string `json:"family_name,omitempty"`
	MiddleName           string `json:"middle_name,omitempty"`
	Name                 string `json:"name,omitempty"`
	AvatarURL            string `json:"avatar_url,omitempty"`
	ClientInfo           string `json:"client_info,omitempty"`

	AdditionalFields map[string]interface{} `json:"-"`
}

// NewAccount creates an account.
func NewAccount(homeAccountID, env, realm, localAccountID, authorityType, username string) Account {
	return Account{
		HomeAccountID:  homeAccountID,
		Environment:    env,
		Realm:          realm,
		LocalAccountID: localAccountID,
		AuthorityType:  authorityType,
		Username:       username,
	}
}

// Key creates the key for storing accounts in the cache: homeAccountId-environment-realm.
func (a Account) Key() string {
	return shared.JoinKey(a.HomeAccountID, a.Environment, a.Realm)
}

func (a Account) Kind() Kind { return KindAccount }

func (a Account) IsZero() bool { return isZero(a) }

// SameUser reports whether a and b share HomeAccountID and Environment.
func (a Account) SameUser(b Account) bool {
	return shared.EqualFold(a.HomeAccountID, b.HomeAccountID) && shared.EqualFold(a.Environment, b.Environment)
}

// Credential holds the attributes common to all credential variants.
type Credential struct {
	HomeAccountID  string            `json:"home_account_id,omitempty"`
	Environment    string            `json:"environment,omitempty"`
	CredentialType CredentialType    `json:"credential_type,omitempty"`
	ClientID       string            `json:"client_id,omitempty"`
	Secret         string            `json:"secret,omitempty"`
	CachedAt       internalTime.Unix `json:"cached_at"`
	ExpiresOn      internalTime.Unix `json:"expires_on"`
}

// Base returns the common attributes.
func (c Credential) Base() Credential { return c }

// IsExpired reports whether the credential has an expiry that is not after now.
func (c Credential) IsExpired(now time.Time) bool {
	return c.ExpiresOn.IsExpired(now)
}

// AccessToken is an access token as stored in the cache.
type AccessToken struct {
	Credential

	Realm                   string            `json:"realm,omitempty"`
	Target                  string            `json:"target,omitempty"`
	ExtendedExpiresOn       internalTime.Unix `json:"extended_expires_on"`
	RefreshOn               internalTime.Unix `json:"refresh_on"`
	Authority               string            `json:"authority,omitempty"`
	TokenType               string            `json:"token_type,omitempty"`
	KID                     string            `json:"kid,omitempty"`
	RequestedClaims         string            `json:"requested_claims,omitempty"`
	ApplicationIdentifier   string            `json:"application_identifier,omitempty"`
	MAMEnrollmentIdentifier string            `json:"mam_enrollment_identifier,omitempty"`

	AdditionalFields map[string]interface{} `json:"-"`
}

// NewAccessToken is the constructor for AccessToken.
func NewAccessToken(homeID, env, realm, clientID string, cachedAt, expiresOn, extendedExpiresOn time.Time, target, secret string) AccessToken {
	return AccessToken{
		Credential: Credential{
			HomeAccountID:  homeID,
			Environment:    env,
			CredentialType: AccessTokenType,
			ClientID:       clientID,
			Secret:         secret,
			CachedAt:       internalTime.NewUnix(cachedAt),
			ExpiresOn:      internalTime.NewUnix(expiresOn),
		},
		Realm:             realm,
		Target:            target,
		ExtendedExpiresOn: internalTime.NewUnix(extendedExpiresOn),
	}
}

// Key outputs the key that can be used to uniquely look up this entry in a map:
// homeAccountId-environment-credentialType-clientId-realm-target, followed by the optional
// application identifier, MAM enrollment identifier, token type and a digest of the
// requested claims, each only when set. The token type is only part of the key of an
// AccessToken_With_AuthScheme.
func (a AccessToken) Key() string {
	key := shared.JoinKey(a.HomeAccountID, a.Environment, string(a.CredentialType), a.ClientID, a.Realm, a.Target)
	if a.ApplicationIdentifier != "" {
		key += shared.CacheKeySeparator + shared.Normalize(a.ApplicationIdentifier)
	}
	if a.MAMEnrollmentIdentifier != "" {
		key += shared.CacheKeySeparator + shared.Normalize(a.MAMEnrollmentIdentifier)
	}
	if a.Kind() == KindAccessTokenWithAuthScheme && a.TokenType != "" {
		key += shared.CacheKeySeparator + shared.Normalize(a.TokenType)
	}
	if a.RequestedClaims != "" {
		// Claims may contain the separator, so only a digest goes into the key.
		sum := sha256.Sum256([]byte(shared.Normalize(a.RequestedClaims)))
		key += shared.CacheKeySeparator + hex.EncodeToString(sum[:8])
	}
	return key
}

func (a AccessToken) Kind() Kind {
	if a.CredentialType.Kind() == KindAccessTokenWithAuthScheme {
		return KindAccessTokenWithAuthScheme
	}
	return KindAccessToken
}

func (a AccessToken) IsZero() bool { return isZero(a) }

// RefreshToken is a refresh token as stored in the cache. A non-empty FamilyID marks a
// token usable by every client of that family (FOCI).
type RefreshToken struct {
	Credential

	Target   string `json:"target,omitempty"`
	FamilyID string `json:"family_id,omitempty"`

	AdditionalFields map[string]interface{} `json:"-"`
}

// NewRefreshToken is the constructor for RefreshToken.
func NewRefreshToken(homeID, env, clientID, secret, familyID string) RefreshToken {
	return RefreshToken{
		Credential: Credential{
			HomeAccountID:  homeID,
			Environment:    env,
			CredentialType: RefreshTokenType,
			ClientID:       clientID,
			Secret:         secret,
		},
		FamilyID: familyID,
	}
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
// The realm segment is always empty. A family token is keyed by its family id instead
// of its client id, so all clients of a family share one entry.
func (r RefreshToken) Key() string {
	client := r.ClientID
	if r.FamilyID != "" {
		client = strings.TrimPrefix(r.FamilyID, "foci-")
	}
	return shared.JoinKey(r.HomeAccountID, r.Environment, string(r.CredentialType), client, "", r.Target)
}

func (r RefreshToken) Kind() Kind { return KindRefreshToken }

func (r RefreshToken) IsZero() bool { return isZero(r) }

// IsFamily reports whether the token belongs to a client family.
func (r RefreshToken) IsFamily() bool { return r.FamilyID != "" }

// IDToken is an ID token as stored in the cache. CredentialType is IdToken or, for tokens
// issued by v1 endpoints, V1IdToken.
type IDToken struct {
	Credential

	Realm     string `json:"realm,omitempty"`
	Authority string `json:"authority,omitempty"`

	AdditionalFields map[string]interface{} `json:"-"`
}

// NewIDToken is the constructor for IDToken.
func NewIDToken(homeID, env, realm, clientID, secret string) IDToken {
	return IDToken{
		Credential: Credential{
			HomeAccountID:  homeID,
			Environment:    env,
			CredentialType: IDTokenType,
			ClientID:       clientID,
			Secret:         secret,
		},
		Realm: realm,
	}
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
// The target segment is always empty.
func (i IDToken) Key() string {
	return shared.JoinKey(i.HomeAccountID, i.Environment, string(i.CredentialType), i.ClientID, i.Realm, "")
}

func (i IDToken) Kind() Kind {
	if i.CredentialType.Kind() == KindV1IDToken {
		return KindV1IDToken
	}
	return KindIDToken
}

func (i IDToken) IsZero() bool { return isZero(i) }

// PrimaryRefreshToken is a device-bound refresh token. The cache stores it but never
// issues it to applications.
type PrimaryRefreshToken struct {
	Credential

	SessionKey string `json:"session_key,omitempty"`

	AdditionalFields map[string]interface{} `json:"-"`
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
func (p PrimaryRefreshToken) Key() string {
	return shared.JoinKey(p.HomeAccountID, p.Environment, string(p.CredentialType), p.ClientID, "", "")
}

func (p PrimaryRefreshToken) Kind() Kind { return KindPrimaryRefreshToken }

func (p PrimaryRefreshToken) IsZero() bool { return isZero(p) }

// isZero reports whether every field of the struct v, including those of embedded structs,
// is zero. AdditionalFields is ignored: a value holding only unknown keys is still empty.
func isZero(v interface{}) bool {
	return zeroStruct(reflect.ValueOf(v))
}

func zeroStruct(v reflect.Value) bool {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		f := t.Field(i)
		if f.Name == "AdditionalFields" {
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			if !zeroStruct(v.Field(i)) {
				return false
			}
			continue
		}
		if !v.Field(i).IsZero() {
			return false
		}
	}
	return true
}
