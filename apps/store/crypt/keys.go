// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package crypt

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the OS keyring service holding the cache master secret.
const DefaultKeyringService = "microsoft-identity-cache"

const secretSize = 32

// KeyringKey returns the master secret stored in the OS keyring under service and user.
// When the keyring holds none, a random secret is generated and stored.
func KeyringKey(service, user string) ([]byte, error) {
	stored, err := keyring.Get(service, user)
	if err == nil {
		secret, err := base64.StdEncoding.DecodeString(stored)
		if err != nil {
			return nil, fmt.Errorf("keyring secret for %s/%s is not valid base64: %w", service, user, err)
		}
		return secret, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		// Assume any other keyring error means keyring is not available.
		return nil, fmt.Errorf("OS keyring is not available: %w", err)
	}

	secret := make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	if err := keyring.Set(service, user, base64.StdEncoding.EncodeToString(secret)); err != nil {
		return nil, fmt.Errorf("failed to store secret in keyring: %w", err)
	}
	return secret, nil
}

// ResetKeyringKey deletes the master secret. Values encrypted with it become unreadable
// and are skipped by store.Encrypted.
func ResetKeyringKey(service, user string) error {
	err := keyring.Delete(service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// SecretGetter reads Key Vault secrets. *azsecrets.Client implements it.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// NewKeyVaultClient returns a client for the vault at vaultURL.
func NewKeyVaultClient(vaultURL string, cred azcore.TokenCredential) (*azsecrets.Client, error) {
	return azsecrets.NewClient(vaultURL, cred, nil)
}

// KeyVaultKey returns the latest version of the Key Vault secret name as master secret.
func KeyVaultKey(ctx context.Context, client SecretGetter, name string) ([]byte, error) {
	resp, err := client.GetSecret(ctx, name, "", nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("key vault secret %q does not exist: %w", name, err)
		}
		return nil, fmt.Errorf("failed to read key vault secret %q: %w", name, err)
	}
	if resp.Value == nil || *resp.Value == "" {
		return nil, fmt.Errorf("key vault secret %q is empty", name)
	}
	return []byte(*resp.Value), nil
}
