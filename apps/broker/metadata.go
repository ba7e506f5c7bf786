// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package broker

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/errors"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/internal/json"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/logger"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/store"
	"github.com/tidwall/gjson"
)

// metadataKey is the key the metadata list is stored under.
const metadataKey = "app-meta-cache"

// ApplicationMetadata records that an application ran as UID against Environment, and
// whether it belongs to a family of client ids.
type ApplicationMetadata struct {
	ClientID    string `json:"client_id"`
	Environment string `json:"environment"`
	UID         int    `json:"uid"`
	FamilyID    string `json:"foci,omitempty"`

	AdditionalFields map[string]interface{} `json:"-"`
}

// IsFoci reports whether the application is a member of a family.
func (m ApplicationMetadata) IsFoci() bool {
	return m.FamilyID != ""
}

func (m ApplicationMetadata) same(o ApplicationMetadata) bool {
	return m.ClientID == o.ClientID && m.Environment == o.Environment && m.UID == o.UID
}

// MetadataCache is the index of applications known to the broker. It is kept as one JSON
// list in a store.
type MetadataCache struct {
	store store.Store
	log   *logger.Logger

	mu sync.Mutex
}

// NewMetadataCache returns a MetadataCache kept in s.
func NewMetadataCache(s store.Store, log *logger.Logger) *MetadataCache {
	if log == nil {
		log = logger.Nop()
	}
	return &MetadataCache{store: s, log: log}
}

// read returns the stored list. A missing or unreadable list reads as empty.
func (m *MetadataCache) read(ctx context.Context) []ApplicationMetadata {
	v, ok, err := m.store.Get(ctx, metadataKey)
	if err != nil {
		m.log.Log(ctx, logger.Warn, "could not read application metadata", logger.Field("error", err.Error()))
		return nil
	}
	if !ok {
		return nil
	}
	doc := gjson.Parse(v)
	if !doc.IsArray() {
		m.log.Log(ctx, logger.Warn, "application metadata is not a list")
		return nil
	}
	var out []ApplicationMetadata
	doc.ForEach(func(_, item gjson.Result) bool {
		var md ApplicationMetadata
		if err := json.Unmarshal([]byte(item.Raw), &md); err != nil {
			m.log.Log(ctx, logger.Warn, "skipping bad application metadata entry", logger.Field("error", err.Error()))
			return true
		}
		out = append(out, md)
		return true
	})
	return out
}

func (m *MetadataCache) write(ctx context.Context, all []ApplicationMetadata) error {
	items := make([]string, 0, len(all))
	for _, md := range all {
		b, err := json.Marshal(md)
		if err != nil {
			return fmt.Errorf("could not encode application metadata: %w", err)
		}
		items = append(items, string(b))
	}
	v := "[" + strings.Join(items, ",") + "]"
	if err := m.store.Put(ctx, metadataKey, v); err != nil {
		return errors.StorageError{Op: "put", Store: m.store.Name(), Key: metadataKey, Err: err}
	}
	return nil
}

// Insert adds md, replacing the entry with the same client id, environment and uid.
func (m *MetadataCache) Insert(ctx context.Context, md ApplicationMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.read(ctx)
	if i := slices.IndexFunc(all, md.same); i >= 0 {
		all[i] = md
	} else {
		all = append(all, md)
	}
	return m.write(ctx, all)
}

// Remove deletes the entry with md's client id, environment and uid. It reports whether
// there was one.
func (m *MetadataCache) Remove(ctx context.Context, md ApplicationMetadata) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.read(ctx)
	n := len(all)
	all = slices.DeleteFunc(all, md.same)
	if len(all) == n {
		return false, nil
	}
	return true, m.write(ctx, all)
}

// GetAll returns every entry.
func (m *MetadataCache) GetAll(ctx context.Context) []ApplicationMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read(ctx)
}

// Clear removes every entry.
func (m *MetadataCache) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Remove(ctx, metadataKey); err != nil {
		return errors.StorageError{Op: "remove", Store: m.store.Name(), Key: metadataKey, Err: err}
	}
	return nil
}

// Metadata returns the entry of clientID, env and uid.
func (m *MetadataCache) Metadata(ctx context.Context, clientID, env string, uid int) (ApplicationMetadata, bool) {
	want := ApplicationMetadata{ClientID: clientID, Environment: env, UID: uid}
	for _, md := range m.GetAll(ctx) {
		if md.same(want) {
			return md, true
		}
	}
	m.log.Log(ctx, logger.Debug, "no application metadata", logger.Field("client_id", clientID), logger.Field("environment", env))
	return ApplicationMetadata{}, false
}

// AllClientIDs returns the distinct client ids of every entry.
func (m *MetadataCache) AllClientIDs(ctx context.Context) []string {
	return clientIDs(m.GetAll(ctx), func(ApplicationMetadata) bool { return true })
}

// AllFociClientIDs returns the distinct client ids of family members.
func (m *MetadataCache) AllFociClientIDs(ctx context.Context) []string {
	return clientIDs(m.GetAll(ctx), ApplicationMetadata.IsFoci)
}

// AllNonFociClientIDs returns the distinct client ids of applications outside any family.
func (m *MetadataCache) AllNonFociClientIDs(ctx context.Context) []string {
	return clientIDs(m.GetAll(ctx), func(md ApplicationMetadata) bool { return !md.IsFoci() })
}

// AllFociApplicationMetadata returns every entry whose client id belongs to a family.
func (m *MetadataCache) AllFociApplicationMetadata(ctx context.Context) []ApplicationMetadata {
	all := m.GetAll(ctx)
	foci := clientIDs(all, ApplicationMetadata.IsFoci)
	var out []ApplicationMetadata
	for _, md := range all {
		if slices.Contains(foci, md.ClientID) {
			out = append(out, md)
		}
	}
	return out
}

func clientIDs(all []ApplicationMetadata, keep func(ApplicationMetadata) bool) []string {
	var out []string
	for _, md := range all {
		if keep(md) && !slices.Contains(out, md.ClientID) {
			out = append(out, md.ClientID)
		}
	}
	slices.Sort(out)
	return out
}
