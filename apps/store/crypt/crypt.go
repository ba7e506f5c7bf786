// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package crypt provides the value encryption used by store.Encrypted and the sources
// of its master secret.
package crypt

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// prefix marks values produced by AEAD, with the format version.
const prefix = "xc1:"

// DefaultInfo is the HKDF info string used to derive cache value keys.
const DefaultInfo = "microsoft-identity-cache value encryption v1"

// AEAD encrypts values with XChaCha20-Poly1305. Output is prefix + base64(nonce || sealed).
type AEAD struct {
	aead cipher.AEAD
}

// NewAEAD derives a key from secret with HKDF-SHA256 and info.
func NewAEAD(secret []byte, info string) (*AEAD, error) {
	if len(secret) == 0 {
		return nil, errors.New("encryption secret must not be empty")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: aead}, nil
}

// Encrypt implements store.Encrypter.
func (a *AEAD) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, a.aead.NonceSize(), a.aead.NonceSize()+len(plaintext)+a.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := a.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt implements store.Encrypter.
func (a *AEAD) Decrypt(ciphertext string) (string, error) {
	enc, ok := strings.CutPrefix(ciphertext, prefix)
	if !ok {
		return "", errors.New("value is not encrypted with a supported format")
	}
	b, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("value is not valid base64: %w", err)
	}
	if len(b) < a.aead.NonceSize() {
		return "", errors.New("value is too short")
	}
	nonce, sealed := b[:a.aead.NonceSize()], b[a.aead.NonceSize():]
	p, err := a.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt value: %w", err)
	}
	return string(p), nil
}
