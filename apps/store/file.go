// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	defaultLockTimeout = 5 * time.Second
	lockRetryDelay     = 10 * time.Millisecond
)

// File is a Store persisted as one JSON object file. Each write replaces the file
// atomically while holding an exclusive lock on a sibling ".lock" file, so several
// processes may share a File. Reads are served from memory until the file changes.
type File struct {
	name        string
	path        string
	lockPath    string
	lockTimeout time.Duration
	rename      func(oldpath, newpath string) error

	mu      sync.RWMutex
	entries map[string]string
	stamp   fs.FileInfo
	loaded  bool
}

// NewFile returns the File store called name in dir.
func NewFile(dir, name string) (*File, error) {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("invalid store name %q", name)
	}
	path := filepath.Join(dir, name+".json")
	return &File{
		name:        name,
		path:        path,
		lockPath:    path + ".lock",
		lockTimeout: defaultLockTimeout,
		rename:      os.Rename,
		entries:     map[string]string{},
	}, nil
}

func (f *File) Name() string { return f.name }

// Path returns the location of the backing file.
func (f *File) Path() string { return f.path }

func (f *File) Put(ctx context.Context, key, value string) error {
	return f.mutate(ctx, func(m map[string]string) { m[key] = value })
}

func (f *File) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := f.read(ctx, func(m map[string]string) { v, ok = m[key] })
	return v, ok, err
}

func (f *File) GetAll(ctx context.Context) (map[string]string, error) {
	var all map[string]string
	err := f.read(ctx, func(m map[string]string) { all = maps.Clone(m) })
	return all, err
}

func (f *File) Contains(ctx context.Context, key string) (bool, error) {
	_, ok, err := f.Get(ctx, key)
	return ok, err
}

func (f *File) Remove(ctx context.Context, key string) error {
	return f.mutate(ctx, func(m map[string]string) { delete(m, key) })
}

func (f *File) Clear(ctx context.Context) error {
	return f.mutate(ctx, func(m map[string]string) { clear(m) })
}

// read calls fn with the current entries. fn must not retain or modify the map.
func (f *File) read(ctx context.Context, fn func(map[string]string)) error {
	f.mu.RLock()
	if f.fresh() {
		fn(f.entries)
		f.mu.RUnlock()
		return nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.fresh() {
		lock := flock.New(f.lockPath)
		if err := f.acquire(ctx, lock.TryRLockContext); err != nil {
			return err
		}
		defer lock.Unlock()
		if err := f.reload(); err != nil {
			return err
		}
	}
	fn(f.entries)
	return nil
}

// mutate applies fn to a copy of the entries on disk under an exclusive lock and writes it
// back. The entries in memory change only once the write succeeded.
func (f *File) mutate(ctx context.Context, fn func(map[string]string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	lock := flock.New(f.lockPath)
	if err := f.acquire(ctx, lock.TryLockContext); err != nil {
		return err
	}
	defer lock.Unlock()

	// Load after acquiring the lock to pick up writes of other processes.
	if err := f.reload(); err != nil {
		return err
	}
	next := maps.Clone(f.entries)
	fn(next)
	if err := f.write(next); err != nil {
		f.loaded = false
		return err
	}
	f.entries = next
	return nil
}

func (f *File) acquire(ctx context.Context, try func(context.Context, time.Duration) (bool, error)) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	lockCtx, cancel := context.WithTimeout(ctx, f.lockTimeout)
	defer cancel()

	locked, err := try(lockCtx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire lock: timeout after %v", f.lockTimeout)
	}
	return nil
}

// fresh reports whether the in-memory entries reflect the file. Every write renames a new
// file into place, so a changed file identity means a changed content.
func (f *File) fresh() bool {
	if !f.loaded {
		return false
	}
	fi, err := os.Stat(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return f.stamp == nil
	}
	if err != nil || f.stamp == nil {
		return false
	}
	return os.SameFile(fi, f.stamp) && fi.ModTime().Equal(f.stamp.ModTime()) && fi.Size() == f.stamp.Size()
}

func (f *File) reload() error {
	b, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f.entries = map[string]string{}
		f.stamp = nil
		f.loaded = true
		return nil
	case err != nil:
		return fmt.Errorf("failed to read store file: %w", err)
	}

	entries := map[string]string{}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &entries); err != nil {
			return fmt.Errorf("store file %s is corrupt: %w", f.path, err)
		}
	}
	fi, err := os.Stat(f.path)
	if err != nil {
		return fmt.Errorf("failed to stat store file: %w", err)
	}
	f.entries = entries
	f.stamp = fi
	f.loaded = true
	return nil
}

func (f *File) write(entries map[string]string) error {
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary store file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close store file: %w", err)
	}
	if err := f.rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	fi, err := os.Stat(f.path)
	if err != nil {
		return fmt.Errorf("failed to stat store file: %w", err)
	}
	f.stamp = fi
	return nil
}

// FileFactory opens File stores in one directory. Opening the same name twice returns
// the same store.
type FileFactory struct {
	dir string

	mu     sync.Mutex
	stores map[string]*File
}

// NewFileFactory returns a FileFactory storing files in dir.
func NewFileFactory(dir string) *FileFactory {
	return &FileFactory{dir: dir, stores: map[string]*File{}}
}

// Open implements Factory.
func (f *FileFactory) Open(name string) (Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.stores[name]; ok {
		return s, nil
	}
	s, err := NewFile(f.dir, name)
	if err != nil {
		return nil, err
	}
	f.stores[name] = s
	return s, nil
}
