// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package oauth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// IDTokenClaims are the claims of an ID token the cache records.
// https://learn.microsoft.com/entra/identity-platform/id-token-claims-reference
type IDTokenClaims struct {
	jwt.RegisteredClaims

	PreferredUsername string `json:"preferred_username,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
	MiddleName        string `json:"middle_name,omitempty"`
	Name              string `json:"name,omitempty"`
	Oid               string `json:"oid,omitempty"`
	TenantID          string `json:"tid,omitempty"`
	UPN               string `json:"upn,omitempty"`
	Email             string `json:"email,omitempty"`
	AlternativeID     string `json:"altsecid,omitempty"`
	Version           string `json:"ver,omitempty"`

	// Raw is the encoded token.
	Raw string `json:"-"`
}

// ParseIDToken reads the claims of the JWT raw. The signature is not verified.
func ParseIDToken(raw string) (IDTokenClaims, error) {
	claims := IDTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return IDTokenClaims{}, fmt.Errorf("id token is invalid: %w", err)
	}
	claims.Raw = raw
	return claims, nil
}

// LocalAccountID returns the object id of the user, or the subject if there is none.
func (c IDTokenClaims) LocalAccountID() string {
	if c.Oid != "" {
		return c.Oid
	}
	return c.Subject
}

// Username returns the preferred username, falling back to the UPN and then the email.
func (c IDTokenClaims) Username() string {
	for _, u := range []string{c.PreferredUsername, c.UPN, c.Email} {
		if u != "" {
			return u
		}
	}
	return ""
}

// HomeAccountID returns oid.tid, the home account id of tokens issued without client info.
func (c IDTokenClaims) HomeAccountID() string {
	if c.LocalAccountID() == "" || c.TenantID == "" {
		return c.LocalAccountID()
	}
	return c.LocalAccountID() + "." + c.TenantID
}

// IssuerHost returns the lower-cased host of the iss claim, or "".
func (c IDTokenClaims) IssuerHost() string {
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// IsV1 reports whether the token was issued by a v1 endpoint.
func (c IDTokenClaims) IsV1() bool {
	return c.Version == "1.0"
}
