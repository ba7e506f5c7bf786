// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package store provides the flat key/value persistence the token cache is built on.

A Store is one flat namespace of string keys and values. A Factory opens stores by name;
the same name always reattaches to the same physical namespace, whichever process or
instance opens it.

Writes are durable when they return. Mutations on one Store are serialized and reads may
run concurrently with each other, so a reader never observes a half-written key set. A
sequence of writes is not atomic as a whole.
*/
package store

import (
	"context"
)

// Names of the well-known stores.
const (
	// DefaultCacheName is the account/credential cache of a single application.
	DefaultCacheName = "com.microsoft.identity.client.account_credential_cache"
	// FociCacheName is the broker's cache shared by the family of client ids.
	FociCacheName = DefaultCacheName + ".foci-1"
	// MetadataCacheName holds the broker's application metadata index.
	MetadataCacheName = "com.microsoft.identity.app-meta-cache"
	// HelloCacheName holds negotiated IPC protocol versions.
	HelloCacheName = "com.microsoft.common.ipc.hello.cache"
	// EnrollmentCacheName holds MAM enrollment ids.
	EnrollmentCacheName = "com.microsoft.identity.mam.enrollment-id.cache"
)

// UIDCacheName returns the name of the broker cache of the application running as uid.
func UIDCacheName(uid string) string {
	return DefaultCacheName + ".uid-" + uid
}

// Store is a flat namespace of string keys and values.
type Store interface {
	// Name returns the name the store was opened with.
	Name() string
	// Put writes value at key, replacing any previous value.
	Put(ctx context.Context, key, value string) error
	// Get returns the value at key. ok is false if there is none.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// GetAll returns a copy of every entry.
	GetAll(ctx context.Context) (map[string]string, error)
	// Contains reports whether key has a value.
	Contains(ctx context.Context, key string) (bool, error)
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Clear deletes every entry.
	Clear(ctx context.Context) error
}

// Factory opens stores by name.
type Factory interface {
	Open(name string) (Store, error)
}

// FactoryFunc adapts a function to a Factory.
type FactoryFunc func(name string) (Store, error)

// Open implements Factory.
func (f FactoryFunc) Open(name string) (Store, error) {
	return f(name)
}
