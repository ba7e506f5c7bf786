// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package oauth holds the protocol objects the token cache derives its records from: the
request a token was acquired for and the token endpoint's response.

Only the fields needed to build cache records are modeled. Tokens are never validated
here; ID token claims are read without checking signatures, since the token was just
received from the authority over an authenticated channel.
*/
package oauth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/internal/json"
	internalTime "github.com/AzureAD/microsoft-identity-cache-go/apps/internal/json/types/time"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/internal/shared"
)

// Authority types. They are recorded on accounts.
const (
	AuthorityTypeMSSTS = shared.AuthorityTypeMSSTS
	AuthorityTypeAAD   = shared.AuthorityTypeAAD
	AuthorityTypeB2C   = shared.AuthorityTypeB2C
)

// Request describes the token request a response answers.
type Request struct {
	// ClientID is the application the token was issued to.
	ClientID string
	// Authority is the authority URL, such as https://login.microsoftonline.com/common.
	Authority string
	// AuthorityType is one of the AuthorityType constants. It is detected from Authority
	// when empty.
	AuthorityType string
	// Scopes are the scopes requested.
	Scopes []string
	// Claims is the claims request parameter, if any.
	Claims string
	// AuthScheme is the requested token type; empty means bearer.
	AuthScheme string
	// ApplicationIdentifier and MAMEnrollmentIdentifier scope access tokens to one app
	// installation and MAM enrollment.
	ApplicationIdentifier   string
	MAMEnrollmentIdentifier string
}

// Validate checks the fields the cache requires.
func (r Request) Validate() error {
	if strings.TrimSpace(r.ClientID) == "" {
		return errors.New("request has no client id")
	}
	if _, err := Environment(r.Authority); err != nil {
		return err
	}
	return nil
}

// Target returns the requested scopes as a target string.
func (r Request) Target() string {
	return shared.JoinScopes(r.Scopes)
}

// Type returns AuthorityType, or the type detected from Authority.
func (r Request) Type() string {
	if r.AuthorityType != "" {
		return r.AuthorityType
	}
	return DetectAuthorityType(r.Authority)
}

// TokenResponse is a successful response of a token endpoint.
type TokenResponse struct {
	AccessToken  string                    `json:"access_token,omitempty"`
	RefreshToken string                    `json:"refresh_token,omitempty"`
	IDToken      string                    `json:"id_token,omitempty"`
	TokenType    string                    `json:"token_type,omitempty"`
	Scope        string                    `json:"scope,omitempty"`
	FamilyID     string                    `json:"foci,omitempty"`
	ClientInfo   string                    `json:"client_info,omitempty"`
	ExpiresOn    internalTime.DurationTime `json:"expires_in"`
	ExtExpiresOn internalTime.DurationTime `json:"ext_expires_in"`
	RefreshOn    internalTime.DurationTime `json:"refresh_in"`
	// Authority is the authority that issued the token, when it differs from the request's.
	Authority string `json:"authority,omitempty"`
	// KID identifies the key a proof-of-possession token is bound to.
	KID string `json:"kid,omitempty"`

	AdditionalFields map[string]interface{} `json:"-"`
}

// DecodeTokenResponse parses the JSON body of a token endpoint response. Durations are
// converted to times relative to now.
func DecodeTokenResponse(b []byte) (TokenResponse, error) {
	r := TokenResponse{}
	if err := json.Unmarshal(b, &r); err != nil {
		return TokenResponse{}, fmt.Errorf("could not decode token response: %w", err)
	}
	return r, nil
}

// Validate checks that r holds at least one token.
func (r TokenResponse) Validate() error {
	if r.AccessToken == "" && r.RefreshToken == "" && r.IDToken == "" {
		return errors.New("token response holds no token")
	}
	return nil
}

// GrantedTarget returns the scopes granted by r. Per RFC 6749 section 3.3 a response that
// omits scope granted the requested scopes.
func (r TokenResponse) GrantedTarget(req Request) string {
	if strings.TrimSpace(r.Scope) == "" {
		return req.Target()
	}
	return strings.Join(strings.Fields(r.Scope), shared.ScopeSeparator)
}

// ClientInfo identifies the user within the home tenant.
type ClientInfo struct {
	UID  string `json:"uid,omitempty"`
	UTID string `json:"utid,omitempty"`

	AdditionalFields map[string]interface{} `json:"-"`
}

// DecodeClientInfo decodes the base64url JSON client_info member of a token response.
func DecodeClientInfo(raw string) (ClientInfo, error) {
	b, err := decodeSegment(raw)
	if err != nil {
		return ClientInfo{}, fmt.Errorf("client info is not base64: %w", err)
	}
	ci := ClientInfo{}
	if err := json.Unmarshal(b, &ci); err != nil {
		return ClientInfo{}, fmt.Errorf("could not decode client info: %w", err)
	}
	return ci, nil
}

// HomeAccountID returns uid.utid, or "" if either is missing.
func (c ClientInfo) HomeAccountID() string {
	if c.UID == "" || c.UTID == "" {
		return ""
	}
	return c.UID + "." + c.UTID
}

// decodeSegment decodes base64url with or without padding, and tolerates standard base64.
func decodeSegment(data string) ([]byte, error) {
	data = strings.TrimRight(data, "=")
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(data)
}

// Environment returns the lower-cased host of authority, which is the environment
// records are stored under.
func Environment(authority string) (string, error) {
	u, err := parseAuthority(authority)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Host), nil
}

// Tenant returns the first path segment of authority, or "".
func Tenant(authority string) string {
	u, err := parseAuthority(authority)
	if err != nil {
		return ""
	}
	seg, _, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
	if strings.EqualFold(seg, "tfp") {
		seg, _, _ = strings.Cut(strings.TrimPrefix(strings.Trim(u.Path, "/"), seg+"/"), "/")
	}
	return seg
}

// DetectAuthorityType returns AuthorityTypeB2C for B2C authorities and
// AuthorityTypeMSSTS otherwise.
func DetectAuthorityType(authority string) string {
	u, err := parseAuthority(authority)
	if err != nil {
		return AuthorityTypeMSSTS
	}
	host := strings.ToLower(u.Host)
	path := strings.ToLower(u.Path)
	if strings.HasSuffix(host, ".b2clogin.com") || strings.HasPrefix(path, "/tfp/") {
		return AuthorityTypeB2C
	}
	return AuthorityTypeMSSTS
}

func parseAuthority(authority string) (*url.URL, error) {
	if strings.TrimSpace(authority) == "" {
		return nil, errors.New("authority must not be empty")
	}
	u, err := url.Parse(authority)
	if err != nil {
		return nil, fmt.Errorf("authority %q is not a URL: %w", authority, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("authority %q has no host", authority)
	}
	return u, nil
}
