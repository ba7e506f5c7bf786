// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package store

import (
	"context"
	"fmt"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/logger"
)

// Encrypter encrypts and decrypts store values. The store treats it as opaque.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Encrypted encrypts values on their way into a Store and decrypts them on the way out.
// A value that fails to decrypt (written with another key, or corrupted) is logged and
// reported as absent; it never aborts an enumeration.
type Encrypted struct {
	inner Store
	enc   Encrypter
	log   *logger.Logger
}

// NewEncrypted wraps inner. A nil log discards decryption failures.
func NewEncrypted(inner Store, enc Encrypter, log *logger.Logger) *Encrypted {
	if log == nil {
		log = logger.Nop()
	}
	return &Encrypted{inner: inner, enc: enc, log: log}
}

func (e *Encrypted) Name() string { return e.inner.Name() }

func (e *Encrypted) Put(ctx context.Context, key, value string) error {
	c, err := e.enc.Encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt %q: %w", key, err)
	}
	return e.inner.Put(ctx, key, c)
}

func (e *Encrypted) Get(ctx context.Context, key string) (string, bool, error) {
	c, ok, err := e.inner.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	p, err := e.enc.Decrypt(c)
	if err != nil {
		e.log.Log(ctx, logger.Warn, "skipping cache entry that failed to decrypt", logger.Field("store", e.inner.Name()), logger.Field("error", err))
		return "", false, nil
	}
	return p, true, nil
}

func (e *Encrypted) GetAll(ctx context.Context) (map[string]string, error) {
	all, err := e.inner.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(all))
	skipped := 0
	for k, c := range all {
		p, err := e.enc.Decrypt(c)
		if err != nil {
			skipped++
			continue
		}
		out[k] = p
	}
	if skipped > 0 {
		e.log.Log(ctx, logger.Warn, "skipped cache entries that failed to decrypt", logger.Field("store", e.inner.Name()), logger.Field("count", skipped))
	}
	return out, nil
}

func (e *Encrypted) Contains(ctx context.Context, key string) (bool, error) {
	_, ok, err := e.Get(ctx, key)
	return ok, err
}

func (e *Encrypted) Remove(ctx context.Context, key string) error {
	return e.inner.Remove(ctx, key)
}

func (e *Encrypted) Clear(ctx context.Context) error {
	return e.inner.Clear(ctx)
}

// EncryptedFactory wraps every store opened by Factory with the same Encrypter.
type EncryptedFactory struct {
	Factory   Factory
	Encrypter Encrypter
	Log       *logger.Logger
}

// Open implements Factory.
func (f EncryptedFactory) Open(name string) (Store, error) {
	s, err := f.Factory.Open(name)
	if err != nil {
		return nil, err
	}
	return NewEncrypted(s, f.Encrypter, f.Log), nil
}
