// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package oauth

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kylelemons/godebug/pretty"
)

func testIDToken(t *testing.T, claims IDTokenClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("not verified"))
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestParseIDToken(t *testing.T) {
	want := IDTokenClaims{
		RegisteredClaims:  jwt.RegisteredClaims{Issuer: "https://Login.Example.com/tenant/v2.0", Subject: "sub"},
		PreferredUsername: "john@contoso.com",
		Oid:               "oid",
		TenantID:          "tid",
		Version:           "2.0",
	}
	raw := testIDToken(t, want)
	got, err := ParseIDToken(raw)
	if err != nil {
		t.Fatalf("TestParseIDToken: %s", err)
	}
	want.Raw = raw
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("TestParseIDToken: -want/+got:\n%s", diff)
	}
	if got.HomeAccountID() != "oid.tid" {
		t.Errorf("TestParseIDToken: HomeAccountID() = %q", got.HomeAccountID())
	}
	if got.IssuerHost() != "login.example.com" {
		t.Errorf("TestParseIDToken: IssuerHost() = %q", got.IssuerHost())
	}
	if got.IsV1() {
		t.Errorf("TestParseIDToken: a 2.0 token reported as v1")
	}

	if _, err := ParseIDToken("not.a.jwt"); err == nil {
		t.Errorf("TestParseIDToken: malformed token: got nil error")
	}
}

func TestIDTokenClaimFallbacks(t *testing.T) {
	c := IDTokenClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "sub"}, Email: "e@x"}
	if c.LocalAccountID() != "sub" {
		t.Errorf("LocalAccountID() = %q, want sub", c.LocalAccountID())
	}
	if c.Username() != "e@x" {
		t.Errorf("Username() = %q, want e@x", c.Username())
	}
	if c.HomeAccountID() != "sub" {
		t.Errorf("HomeAccountID() = %q, want sub", c.HomeAccountID())
	}
}

func TestDecodeClientInfo(t *testing.T) {
	raw := base64.RawURLEncoding.EncodeToString([]byte(`{"uid":"u","utid":"t","extra":true}`))
	ci, err := DecodeClientInfo(raw)
	if err != nil {
		t.Fatal(err)
	}
	if ci.HomeAccountID() != "u.t" {
		t.Errorf("TestDecodeClientInfo: HomeAccountID() = %q", ci.HomeAccountID())
	}
	if _, ok := ci.AdditionalFields["extra"]; !ok {
		t.Errorf("TestDecodeClientInfo: unknown member was dropped")
	}

	padded := base64.StdEncoding.EncodeToString([]byte(`{"uid":"u","utid":"t"}`))
	if ci, err := DecodeClientInfo(padded); err != nil || ci.HomeAccountID() != "u.t" {
		t.Errorf("TestDecodeClientInfo(padded): got %q, %v", ci.HomeAccountID(), err)
	}
	if _, err := DecodeClientInfo("%%%"); err == nil {
		t.Errorf("TestDecodeClientInfo: garbage: got nil error")
	}
	if (ClientInfo{UID: "u"}).HomeAccountID() != "" {
		t.Errorf("TestDecodeClientInfo: partial client info must not yield a home account id")
	}
}

func TestDecodeTokenResponse(t *testing.T) {
	before := time.Now()
	r, err := DecodeTokenResponse([]byte(`{
		"access_token":"at","refresh_token":"rt","token_type":"Bearer",
		"scope":"A  B","foci":"1","expires_in":3600,"ext_expires_in":"7200","future":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if r.AccessToken != "at" || r.RefreshToken != "rt" || r.FamilyID != "1" {
		t.Errorf("TestDecodeTokenResponse: got %+v", r)
	}
	if d := r.ExpiresOn.T.Sub(before); d < time.Hour || d > time.Hour+time.Minute {
		t.Errorf("TestDecodeTokenResponse: expires_in decoded to %s from now", d)
	}
	if r.ExtExpiresOn.T.Sub(before) < 2*time.Hour {
		t.Errorf("TestDecodeTokenResponse: ext_expires_in as string was not decoded")
	}
	if !r.RefreshOn.T.IsZero() {
		t.Errorf("TestDecodeTokenResponse: absent refresh_in should be zero")
	}
	if got := r.GrantedTarget(Request{Scopes: []string{"X"}}); got != "A B" {
		t.Errorf("TestDecodeTokenResponse: GrantedTarget() = %q", got)
	}
	if _, err := DecodeTokenResponse([]byte(`[]`)); err == nil {
		t.Errorf("TestDecodeTokenResponse: array: got nil error")
	}
}

func TestGrantedTargetDefaultsToRequest(t *testing.T) {
	r := TokenResponse{AccessToken: "at"}
	if got := r.GrantedTarget(Request{Scopes: []string{"A", "B"}}); got != "A B" {
		t.Errorf("GrantedTarget() = %q, want the requested scopes", got)
	}
}

func TestValidate(t *testing.T) {
	if err := (TokenResponse{}).Validate(); err == nil {
		t.Errorf("empty response: got nil error")
	}
	if err := (TokenResponse{RefreshToken: "rt"}).Validate(); err != nil {
		t.Errorf("refresh token only: %s", err)
	}

	tests := []struct {
		req     Request
		wantErr bool
	}{
		{Request{ClientID: "c", Authority: "https://login.example.com/common"}, false},
		{Request{Authority: "https://login.example.com/common"}, true},
		{Request{ClientID: "c"}, true},
		{Request{ClientID: "c", Authority: "login.example.com"}, true},
	}
	for _, test := range tests {
		if err := test.req.Validate(); (err != nil) != test.wantErr {
			t.Errorf("Validate(%+v): got err == %v, want err == %v", test.req, err, test.wantErr)
		}
	}
}

func TestAuthorityParts(t *testing.T) {
	tests := []struct {
		authority string
		env       string
		tenant    string
		typ       string
	}{
		{"https://Login.Example.com/Contoso/", "login.example.com", "Contoso", AuthorityTypeMSSTS},
		{"https://contoso.b2clogin.com/contoso.onmicrosoft.com/b2c_1_signin", "contoso.b2clogin.com", "contoso.onmicrosoft.com", AuthorityTypeB2C},
		{"https://login.example.com/tfp/contoso/b2c_1_signin", "login.example.com", "contoso", AuthorityTypeB2C},
	}
	for _, test := range tests {
		env, err := Environment(test.authority)
		if err != nil || env != test.env {
			t.Errorf("Environment(%s): got %q, %v, want %q", test.authority, env, err, test.env)
		}
		if got := Tenant(test.authority); got != test.tenant {
			t.Errorf("Tenant(%s): got %q, want %q", test.authority, got, test.tenant)
		}
		if got := DetectAuthorityType(test.authority); got != test.typ {
			t.Errorf("DetectAuthorityType(%s): got %q, want %q", test.authority, got, test.typ)
		}
	}
}
