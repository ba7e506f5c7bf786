// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package crypt

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestAEAD(t *testing.T) {
	a, err := NewAEAD([]byte("secret"), DefaultInfo)
	require.NoError(t, err)

	c1, err := a.Encrypt(`{"secret":"rt"}`)
	require.NoError(t, err)
	c2, err := a.Encrypt(`{"secret":"rt"}`)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(c1, prefix))
	require.NotEqual(t, c1, c2, "each encryption should use a fresh nonce")
	require.NotContains(t, c1, "rt")

	p, err := a.Decrypt(c1)
	require.NoError(t, err)
	require.Equal(t, `{"secret":"rt"}`, p)
}

func TestAEADRejects(t *testing.T) {
	a, err := NewAEAD([]byte("secret"), DefaultInfo)
	require.NoError(t, err)
	other, err := NewAEAD([]byte("other secret"), DefaultInfo)
	require.NoError(t, err)
	c, err := other.Encrypt("value")
	require.NoError(t, err)

	for name, v := range map[string]string{
		"other key":   c,
		"plaintext":   "value",
		"bad base64":  prefix + "!!",
		"too short":   prefix + "AAAA",
		"tampered":    tamper(c),
		"empty value": "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.Decrypt(v)
			require.Error(t, err)
		})
	}

	_, err = NewAEAD(nil, DefaultInfo)
	require.Error(t, err)
}

func tamper(c string) string {
	b, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(c, prefix))
	b[len(b)-1] ^= 0xff
	return prefix + base64.StdEncoding.EncodeToString(b)
}

func TestKeyringKey(t *testing.T) {
	keyring.MockInit()

	first, err := KeyringKey(DefaultKeyringService, "user")
	require.NoError(t, err)
	require.Len(t, first, secretSize)

	again, err := KeyringKey(DefaultKeyringService, "user")
	require.NoError(t, err)
	require.Equal(t, first, again, "the stored secret should be reused")

	require.NoError(t, ResetKeyringKey(DefaultKeyringService, "user"))
	require.NoError(t, ResetKeyringKey(DefaultKeyringService, "user"), "reset of a missing secret")
	fresh, err := KeyringKey(DefaultKeyringService, "user")
	require.NoError(t, err)
	require.NotEqual(t, first, fresh)
}

func TestKeyringUnavailable(t *testing.T) {
	keyring.MockInitWithError(errors.New("no dbus"))
	t.Cleanup(keyring.MockInit)
	_, err := KeyringKey(DefaultKeyringService, "user")
	require.ErrorContains(t, err, "not available")
}

type fakeVault struct {
	secrets map[string]string
}

func (f fakeVault) GetSecret(_ context.Context, name, _ string, _ *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	v, ok := f.secrets[name]
	if !ok {
		return azsecrets.GetSecretResponse{}, &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "SecretNotFound"}
	}
	return azsecrets.GetSecretResponse{Secret: azsecrets.Secret{Value: to.Ptr(v)}}, nil
}

func TestKeyVaultKey(t *testing.T) {
	ctx := context.Background()
	vault := fakeVault{secrets: map[string]string{"cache-key": "s3cret", "empty": ""}}

	k, err := KeyVaultKey(ctx, vault, "cache-key")
	require.NoError(t, err)
	require.Equal(t, []byte("s3cret"), k)

	_, err = KeyVaultKey(ctx, vault, "missing")
	require.ErrorContains(t, err, "does not exist")
	var respErr *azcore.ResponseError
	require.ErrorAs(t, err, &respErr)

	_, err = KeyVaultKey(ctx, vault, "empty")
	require.ErrorContains(t, err, "is empty")
}
