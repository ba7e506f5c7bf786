// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package store

import (
	"context"
	"maps"
	"sync"
)

// Memory is a Store held in process memory.
type Memory struct {
	name string

	mu      sync.RWMutex
	entries map[string]string
}

// NewMemory returns an empty Memory store.
func NewMemory(name string) *Memory {
	return &Memory{name: name, entries: map[string]string{}}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *Memory) GetAll(context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.entries), nil
}

func (m *Memory) Contains(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[key]
	return ok, nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = map[string]string{}
	return nil
}

// MemoryFactory opens Memory stores. Opening the same name twice returns the same store.
type MemoryFactory struct {
	mu     sync.Mutex
	stores map[string]*Memory
}

// NewMemoryFactory returns an empty MemoryFactory.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{stores: map[string]*Memory{}}
}

// Open implements Factory.
func (f *MemoryFactory) Open(name string) (Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stores[name]
	if !ok {
		s = NewMemory(name)
		f.stores[name] = s
	}
	return s, nil
}
