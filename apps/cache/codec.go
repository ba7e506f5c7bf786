// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package cache

import (
	"fmt"
	"strings"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/internal/json"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/internal/shared"
	"github.com/tidwall/gjson"
)

// Value serializes r to its cache value: a JSON object of the declared fields with the
// entries of r's AdditionalFields spliced in.
func Value(r Record) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("could not serialize %s %q: %w", r.Kind(), r.Key(), err)
	}
	return string(b), nil
}

// FromValue parses a cache value into a T. Keys of value that T does not declare are
// stored in the result's AdditionalFields. An error means the value is unreadable and the
// entry should be skipped. A result whose IsZero() is true is corrupt and should be deleted.
func FromValue[T Record](value string) (T, error) {
	var t T
	if err := json.Unmarshal([]byte(value), &t); err != nil {
		return t, fmt.Errorf("could not parse cache value as %T: %w", t, err)
	}
	return t, nil
}

// Decode parses value as a record of kind k.
func Decode(k Kind, value string) (Record, error) {
	switch k {
	case KindAccount:
		return decode[Account](value)
	case KindAccessToken, KindAccessTokenWithAuthScheme:
		return decode[AccessToken](value)
	case KindRefreshToken:
		return decode[RefreshToken](value)
	case KindIDToken, KindV1IDToken:
		return decode[IDToken](value)
	case KindPrimaryRefreshToken:
		return decode[PrimaryRefreshToken](value)
	}
	return nil, fmt.Errorf("cannot decode record of kind %s", k)
}

func decode[T Record](value string) (Record, error) {
	t, err := FromValue[T](value)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// KindOfKey classifies a key produced by Key() by looking for a "-<credential type>-"
// segment. A key with no such segment is an account key. A key matching more than one
// credential type is ambiguous and yields KindUnknown.
//
// Field values are not escaped, so an identifier that itself contains such a segment
// defeats this classification. KindOfValue does not have that weakness and is preferred.
func KindOfKey(key string) Kind {
	k := strings.ToLower(key)
	found := KindUnknown
	for _, kind := range CredentialKinds {
		token := shared.CacheKeySeparator + strings.ToLower(string(kind.CredentialType())) + shared.CacheKeySeparator
		if strings.Contains(k, token) {
			if found != KindUnknown {
				return KindUnknown
			}
			found = kind
		}
	}
	if found == KindUnknown {
		return KindAccount
	}
	return found
}

// kindProbe reads only the fields needed to classify a value.
type kindProbe struct {
	CredentialType CredentialType `json:"credential_type,omitempty"`
	AuthorityType  string         `json:"authority_type,omitempty"`
	HomeAccountID  string         `json:"home_account_id,omitempty"`

	AdditionalFields map[string]interface{} `json:"-"`
}

// KindOfValue classifies a cache value by its credential_type member. A value without
// one is an account if it carries account identity, otherwise its kind is unknown.
// ok is false when value cannot be parsed.
func KindOfValue(value string) (k Kind, ok bool) {
	p := kindProbe{}
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		return KindUnknown, false
	}
	if p.CredentialType != "" {
		return p.CredentialType.Kind(), true
	}
	if p.HomeAccountID != "" || p.AuthorityType != "" {
		return KindAccount, true
	}
	return KindUnknown, true
}

// Classify returns the kind of the entry at key holding value. The kind tag inside the
// value wins; KindOfKey is only consulted for values that carry no credential_type, as
// written by versions that relied on key classification alone. A value whose
// credential_type is not one of ours yields KindUnknown. ok is false when value is not
// a JSON object.
func Classify(key, value string) (k Kind, ok bool) {
	if !gjson.Valid(value) {
		return KindUnknown, false
	}
	v := gjson.Parse(value)
	if !v.IsObject() {
		return KindUnknown, false
	}
	if t := v.Get("credential_type"); t.Exists() {
		return CredentialType(t.String()).Kind(), true
	}
	return KindOfKey(key), true
}
