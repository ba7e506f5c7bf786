// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package tokencache

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/cache"
	internalTime "github.com/AzureAD/microsoft-identity-cache-go/apps/internal/json/types/time"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/oauth"
)

// Adapter derives cache records from a token request and its response.
// Implementations must be pure: they never read or write a cache. A record that the
// response holds no material for is returned as its zero value.
type Adapter interface {
	CreateAccount(req oauth.Request, resp oauth.TokenResponse) (cache.Account, error)
	CreateAccessToken(req oauth.Request, resp oauth.TokenResponse) (cache.AccessToken, error)
	CreateRefreshToken(req oauth.Request, resp oauth.TokenResponse) (cache.RefreshToken, error)
	CreateIDToken(req oauth.Request, resp oauth.TokenResponse) (cache.IDToken, error)
}

// MicrosoftSTSAdapter derives records from responses of the Microsoft identity platform.
//
// The home account id is uid.utid from client_info, or oid.tid from the ID token when
// the response has no client info. The environment is the host of the ID token issuer
// when there is an ID token, otherwise the host of the authority.
type MicrosoftSTSAdapter struct {
	// Now returns the current time. It defaults to time.Now.
	Now func() time.Time
}

// identity holds what every record of one response shares.
type identity struct {
	homeAccountID string
	environment   string
	realm         string
	claims        oauth.IDTokenClaims
	hasIDToken    bool
}

func (a MicrosoftSTSAdapter) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a MicrosoftSTSAdapter) identity(req oauth.Request, resp oauth.TokenResponse) (identity, error) {
	id := identity{}
	if resp.IDToken != "" {
		claims, err := oauth.ParseIDToken(resp.IDToken)
		if err != nil {
			return identity{}, err
		}
		id.claims = claims
		id.hasIDToken = true
	}

	var utid string
	if resp.ClientInfo != "" {
		ci, err := oauth.DecodeClientInfo(resp.ClientInfo)
		if err != nil {
			return identity{}, err
		}
		id.homeAccountID = ci.HomeAccountID()
		utid = ci.UTID
	}
	if id.homeAccountID == "" {
		id.homeAccountID = id.claims.HomeAccountID()
	}
	if id.homeAccountID == "" {
		return identity{}, errors.New("response identifies no user: it has neither client info nor an ID token subject")
	}

	id.environment = id.claims.IssuerHost()
	if id.environment == "" {
		authority := req.Authority
		if resp.Authority != "" {
			authority = resp.Authority
		}
		env, err := oauth.Environment(authority)
		if err != nil {
			return identity{}, err
		}
		id.environment = env
	}

	switch {
	case id.claims.TenantID != "":
		id.realm = id.claims.TenantID
	case utid != "":
		id.realm = utid
	default:
		id.realm = oauth.Tenant(req.Authority)
	}
	return id, nil
}

// CreateAccount implements Adapter.
func (a MicrosoftSTSAdapter) CreateAccount(req oauth.Request, resp oauth.TokenResponse) (cache.Account, error) {
	id, err := a.identity(req, resp)
	if err != nil {
		return cache.Account{}, err
	}
	acc := cache.NewAccount(id.homeAccountID, id.environment, id.realm, id.claims.LocalAccountID(), req.Type(), id.claims.Username())
	acc.FirstName = id.claims.GivenName
	acc.FamilyName = id.claims.FamilyName
	acc.MiddleName = id.claims.MiddleName
	acc.Name = id.claims.Name
	acc.AlternativeAccountID = id.claims.AlternativeID
	acc.ClientInfo = resp.ClientInfo
	if acc.LocalAccountID == "" {
		// Without an ID token the local id is the uid of the home account id.
		acc.LocalAccountID, _, _ = strings.Cut(id.homeAccountID, ".")
	}
	return acc, nil
}

// CreateAccessToken implements Adapter.
func (a MicrosoftSTSAdapter) CreateAccessToken(req oauth.Request, resp oauth.TokenResponse) (cache.AccessToken, error) {
	if resp.AccessToken == "" {
		return cache.AccessToken{}, nil
	}
	id, err := a.identity(req, resp)
	if err != nil {
		return cache.AccessToken{}, err
	}
	now := a.now()
	at := cache.NewAccessToken(id.homeAccountID, id.environment, id.realm, req.ClientID, now, resp.ExpiresOn.T, resp.ExtExpiresOn.T, resp.GrantedTarget(req), resp.AccessToken)
	at.RefreshOn = internalTime.NewUnix(resp.RefreshOn.T)
	at.Authority = req.Authority
	at.TokenType = resp.TokenType
	at.KID = resp.KID
	at.RequestedClaims = req.Claims
	at.ApplicationIdentifier = req.ApplicationIdentifier
	at.MAMEnrollmentIdentifier = req.MAMEnrollmentIdentifier
	scheme := req.AuthScheme
	if scheme == "" {
		scheme = resp.TokenType
	}
	if cache.IsAuthScheme(scheme) {
		at.CredentialType = cache.AccessTokenWithAuthSchemeType
		at.TokenType = strings.ToLower(strings.TrimSpace(scheme))
	}
	return at, nil
}

// CreateRefreshToken implements Adapter.
func (a MicrosoftSTSAdapter) CreateRefreshToken(req oauth.Request, resp oauth.TokenResponse) (cache.RefreshToken, error) {
	if resp.RefreshToken == "" {
		return cache.RefreshToken{}, nil
	}
	id, err := a.identity(req, resp)
	if err != nil {
		return cache.RefreshToken{}, err
	}
	rt := cache.NewRefreshToken(id.homeAccountID, id.environment, req.ClientID, resp.RefreshToken, resp.FamilyID)
	rt.Target = resp.GrantedTarget(req)
	rt.CachedAt = internalTime.NewUnix(a.now())
	return rt, nil
}

// CreateIDToken implements Adapter. Tokens carrying ver 1.0 are stored as V1IdToken.
func (a MicrosoftSTSAdapter) CreateIDToken(req oauth.Request, resp oauth.TokenResponse) (cache.IDToken, error) {
	if resp.IDToken == "" {
		return cache.IDToken{}, nil
	}
	id, err := a.identity(req, resp)
	if err != nil {
		return cache.IDToken{}, err
	}
	idt := cache.NewIDToken(id.homeAccountID, id.environment, id.realm, req.ClientID, resp.IDToken)
	idt.Authority = req.Authority
	idt.CachedAt = internalTime.NewUnix(a.now())
	if id.claims.IsV1() {
		idt.CredentialType = cache.V1IDTokenType
	}
	return idt, nil
}

// records runs every Create method of adapter.
func records(adapter Adapter, req oauth.Request, resp oauth.TokenResponse) (acc cache.Account, idt cache.IDToken, at cache.AccessToken, rt cache.RefreshToken, err error) {
	if acc, err = adapter.CreateAccount(req, resp); err != nil {
		return acc, idt, at, rt, fmt.Errorf("could not create account: %w", err)
	}
	if idt, err = adapter.CreateIDToken(req, resp); err != nil {
		return acc, idt, at, rt, fmt.Errorf("could not create ID token: %w", err)
	}
	if at, err = adapter.CreateAccessToken(req, resp); err != nil {
		return acc, idt, at, rt, fmt.Errorf("could not create access token: %w", err)
	}
	if rt, err = adapter.CreateRefreshToken(req, resp); err != nil {
		return acc, idt, at, rt, fmt.Errorf("could not create refresh token: %w", err)
	}
	return acc, idt, at, rt, nil
}
