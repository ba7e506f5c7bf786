// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/cache"
	idErrors "github.com/AzureAD/microsoft-identity-cache-go/apps/errors"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/store"
	"github.com/kylelemons/godebug/pretty"
)

const (
	defaultEnvironment = "login.example.com"
	defaultHID         = "uid.utid"
	defaultRealm       = "contoso"
	defaultScopes      = "s2 s1 s3"
	defaultClientID    = "my_client_id"
	accessTokenSecret  = "an access token"
	rtSecret           = "a refresh token"
	idSecret           = "header.payload.signature"
	accUser            = "John Doe"
	accLID             = "object1234"
	accAuth            = "MSSTS"
)

var (
	atCached  = time.Unix(1000, 0)
	atExpires = time.Unix(4600, 0)
)

func newForTest() (*Manager, *store.Memory) {
	s := store.NewMemory(store.DefaultCacheName)
	return New(s, nil), s
}

func testAccessToken() cache.AccessToken {
	return cache.NewAccessToken(defaultHID, defaultEnvironment, defaultRealm, defaultClientID, atCached, atExpires, atExpires, defaultScopes, accessTokenSecret)
}

func testAccount() cache.Account {
	return cache.NewAccount(defaultHID, defaultEnvironment, defaultRealm, accLID, accAuth, accUser)
}

func TestSaveAndReadBack(t *testing.T) {
	ctx := context.Background()
	m, _ := newForTest()

	acc := testAccount()
	at := testAccessToken()
	rt := cache.NewRefreshToken(defaultHID, defaultEnvironment, defaultClientID, rtSecret, "")
	idt := cache.NewIDToken(defaultHID, defaultEnvironment, defaultRealm, defaultClientID, idSecret)

	if err := m.SaveAccount(ctx, acc); err != nil {
		t.Fatalf("TestSaveAndReadBack: SaveAccount: %s", err)
	}
	for _, c := range []cache.CredentialRecord{at, rt, idt} {
		if err := m.SaveCredential(ctx, c); err != nil {
			t.Fatalf("TestSaveAndReadBack: SaveCredential(%s): %s", c.Kind(), err)
		}
	}

	gotAcc, ok := m.Account(ctx, acc.Key())
	if !ok {
		t.Fatalf("TestSaveAndReadBack: account not found")
	}
	if diff := pretty.Compare(acc, gotAcc); diff != "" {
		t.Errorf("TestSaveAndReadBack: account: -want/+got:\n%s", diff)
	}

	for _, want := range []cache.CredentialRecord{at, rt, idt} {
		got, ok := m.Credential(ctx, want.Key())
		if !ok {
			t.Errorf("TestSaveAndReadBack: %s not found", want.Kind())
			continue
		}
		if diff := pretty.Compare(want, got); diff != "" {
			t.Errorf("TestSaveAndReadBack: %s: -want/+got:\n%s", want.Kind(), diff)
		}
	}

	if _, ok := m.Credential(ctx, acc.Key()); ok {
		t.Errorf("TestSaveAndReadBack: an account key must not resolve to a credential")
	}
	if _, ok := m.Account(ctx, at.Key()); ok {
		t.Errorf("TestSaveAndReadBack: a credential key must not resolve to an account")
	}
	if got := len(m.Credentials(ctx)); got != 3 {
		t.Errorf("TestSaveAndReadBack: got %d credentials, want 3", got)
	}
	if got := len(m.Accounts(ctx)); got != 1 {
		t.Errorf("TestSaveAndReadBack: got %d accounts, want 1", got)
	}
}

func TestSharedStore(t *testing.T) {
	ctx := context.Background()
	a, s := newForTest()
	b := New(s, nil)

	if err := a.SaveAccount(ctx, testAccount()); err != nil {
		t.Fatal(err)
	}
	if got := len(b.Accounts(ctx)); got != 1 {
		t.Errorf("TestSharedStore: a Manager over the same store saw %d accounts, want 1", got)
	}
}

func TestScanSkipsBadEntries(t *testing.T) {
	ctx := context.Background()
	m, s := newForTest()
	if err := m.SaveAccount(ctx, testAccount()); err != nil {
		t.Fatal(err)
	}
	entries := map[string]string{
		"not-json":                          "{{{",
		"h-e-r":                             "{}",
		"h-e-foreign-c-r-t":                 `{"credential_type":"Cookie","secret":"x"}`,
		"h-e-idtoken-refreshtoken-c-r-t":    `{"secret":"x"}`,
		"h-e-accesstoken-c-r-t":             `[1,2]`,
		testAccessToken().Key() + "-legacy": `{"home_account_id":"h","environment":"e","secret":"s","realm":"r","target":"a"}`,
	}
	for k, v := range entries {
		if err := s.Put(ctx, k, v); err != nil {
			t.Fatal(err)
		}
	}

	if got := len(m.Accounts(ctx)); got != 1 {
		t.Errorf("TestScanSkipsBadEntries: got %d accounts, want 1", got)
	}
	creds := m.Credentials(ctx)
	if len(creds) != 1 || creds[0].Kind() != cache.KindAccessToken {
		t.Fatalf("TestScanSkipsBadEntries: got %v, want only the untagged access token", creds)
	}

	// the empty record is corrupt and removed; unreadable entries stay
	if ok, _ := s.Contains(ctx, "h-e-r"); ok {
		t.Errorf("TestScanSkipsBadEntries: empty entry was not removed")
	}
	if ok, _ := s.Contains(ctx, "not-json"); !ok {
		t.Errorf("TestScanSkipsBadEntries: unreadable entry should be left in place")
	}
}

func TestCredentialsFilteredBy(t *testing.T) {
	ctx := context.Background()
	m, _ := newForTest()

	at := testAccessToken()
	at.Target = "A B C"
	otherRealm := testAccessToken()
	otherRealm.Realm = "fabrikam"
	otherRealm.Target = "A"
	rt := cache.NewRefreshToken(defaultHID, defaultEnvironment, defaultClientID, rtSecret, "")
	frt := cache.NewRefreshToken(defaultHID, defaultEnvironment, "other_client", rtSecret, "1")
	idt := cache.NewIDToken(defaultHID, defaultEnvironment, defaultRealm, defaultClientID, idSecret)
	otherUser := cache.NewIDToken("someone.else", defaultEnvironment, defaultRealm, defaultClientID, idSecret)

	for _, c := range []cache.CredentialRecord{at, otherRealm, rt, frt, idt, otherUser} {
		if err := m.SaveCredential(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		desc   string
		filter CredentialFilter
		want   []string
	}{
		{
			desc:   "everything",
			filter: CredentialFilter{},
			want:   []string{at.Key(), otherRealm.Key(), rt.Key(), frt.Key(), idt.Key(), otherUser.Key()},
		},
		{
			desc:   "home account id ignores case",
			filter: CredentialFilter{HomeAccountID: "SOMEONE.ELSE"},
			want:   []string{otherUser.Key()},
		},
		{
			desc:   "target subset",
			filter: CredentialFilter{Kinds: []cache.Kind{cache.KindAccessToken}, Target: "b"},
			want:   []string{at.Key()},
		},
		{
			desc:   "target subset of two",
			filter: CredentialFilter{Kinds: []cache.Kind{cache.KindAccessToken}, Target: "A B"},
			want:   []string{at.Key()},
		},
		{
			desc:   "target not a subset",
			filter: CredentialFilter{Kinds: []cache.Kind{cache.KindAccessToken}, Target: "B D"},
		},
		{
			desc:   "default scopes are ignored in the query",
			filter: CredentialFilter{Kinds: []cache.Kind{cache.KindAccessToken}, Target: "A openid offline_access"},
			want:   []string{at.Key(), otherRealm.Key()},
		},
		{
			desc:   "realm does not constrain refresh tokens",
			filter: CredentialFilter{HomeAccountID: defaultHID, Realm: "fabrikam"},
			want:   []string{otherRealm.Key(), rt.Key(), frt.Key()},
		},
		{
			desc:   "client id",
			filter: CredentialFilter{Kinds: []cache.Kind{cache.KindRefreshToken}, ClientID: "OTHER_CLIENT"},
			want:   []string{frt.Key()},
		},
		{
			desc:   "family",
			filter: CredentialFilter{Kinds: []cache.Kind{cache.KindRefreshToken}, FamilyID: "foci-1"},
			want:   []string{frt.Key()},
		},
	}
	for _, test := range tests {
		var got []string
		for _, c := range m.CredentialsFilteredBy(ctx, test.filter) {
			got = append(got, c.Key())
		}
		if diff := pretty.Compare(sorted(test.want), got); diff != "" {
			t.Errorf("TestCredentialsFilteredBy(%s): -want/+got:\n%s", test.desc, diff)
		}
	}
}

func sorted(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	out := append([]string(nil), keys...)
	for i := range out {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func TestAccountsFilteredBy(t *testing.T) {
	ctx := context.Background()
	m, _ := newForTest()
	home := testAccount()
	guest := testAccount()
	guest.Realm = "fabrikam"
	other := cache.NewAccount("other", defaultEnvironment, defaultRealm, "", accAuth, "")
	for _, a := range []cache.Account{home, guest, other} {
		if err := m.SaveAccount(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	got := m.AccountsFilteredBy(ctx, AccountFilter{HomeAccountID: defaultHID, Environment: "LOGIN.EXAMPLE.COM"})
	if len(got) != 2 {
		t.Errorf("TestAccountsFilteredBy: got %d accounts, want both tenant profiles", len(got))
	}
	got = m.AccountsFilteredBy(ctx, AccountFilter{Realm: "fabrikam"})
	if diff := pretty.Compare([]cache.Account{guest}, got); diff != "" {
		t.Errorf("TestAccountsFilteredBy: -want/+got:\n%s", diff)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	m, _ := newForTest()
	acc := testAccount()
	at := testAccessToken()
	if err := m.SaveBatch(ctx, acc, at); err != nil {
		t.Fatal(err)
	}

	removed, err := m.RemoveCredential(ctx, at)
	if err != nil || !removed {
		t.Errorf("TestRemove: RemoveCredential: got %v/%v, want true/nil", removed, err)
	}
	removed, err = m.RemoveCredential(ctx, at)
	if err != nil || removed {
		t.Errorf("TestRemove: second RemoveCredential: got %v/%v, want false/nil", removed, err)
	}
	removed, err = m.RemoveAccount(ctx, acc)
	if err != nil || !removed {
		t.Errorf("TestRemove: RemoveAccount: got %v/%v, want true/nil", removed, err)
	}

	var invalid idErrors.InvalidArgumentError
	if _, err := m.RemoveAccount(ctx, cache.Account{}); !errors.As(err, &invalid) {
		t.Errorf("TestRemove: RemoveAccount of an empty account: got %v, want InvalidArgumentError", err)
	}
	if _, err := m.RemoveCredential(ctx, nil); !errors.As(err, &invalid) {
		t.Errorf("TestRemove: RemoveCredential(nil): got %v, want InvalidArgumentError", err)
	}
}

func TestRemoveCredentialsFilteredBy(t *testing.T) {
	ctx := context.Background()
	m, _ := newForTest()
	at := testAccessToken()
	rt := cache.NewRefreshToken(defaultHID, defaultEnvironment, defaultClientID, rtSecret, "")
	if err := m.SaveBatch(ctx, at, rt); err != nil {
		t.Fatal(err)
	}
	removed, err := m.RemoveCredentialsFilteredBy(ctx, CredentialFilter{Kinds: []cache.Kind{cache.KindRefreshToken}})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0].Key() != rt.Key() {
		t.Errorf("TestRemoveCredentialsFilteredBy: removed %v, want the refresh token", removed)
	}
	if got := m.Credentials(ctx); len(got) != 1 {
		t.Errorf("TestRemoveCredentialsFilteredBy: %d credentials left, want 1", len(got))
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	m, s := newForTest()
	if err := m.SaveBatch(ctx, testAccount(), testAccessToken()); err != nil {
		t.Fatal(err)
	}
	if err := m.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	all, _ := s.GetAll(ctx)
	if len(all) != 0 {
		t.Errorf("TestClear: %d entries left", len(all))
	}
}

// failingStore fails writes of keys in fail.
type failingStore struct {
	store.Store
	fail map[string]bool
}

func (f failingStore) Put(ctx context.Context, key, value string) error {
	if f.fail[key] {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, key, value)
}

func TestSaveBatchPartialFailure(t *testing.T) {
	ctx := context.Background()
	acc := testAccount()
	at := testAccessToken()
	rt := cache.NewRefreshToken(defaultHID, defaultEnvironment, defaultClientID, rtSecret, "")
	mem := store.NewMemory("test")
	m := New(failingStore{Store: mem, fail: map[string]bool{at.Key(): true}}, nil)

	err := m.SaveBatch(ctx, acc, at, rt)
	var batchErr *idErrors.BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("TestSaveBatchPartialFailure: got %v, want *BatchError", err)
	}
	if diff := pretty.Compare([]string{acc.Key(), rt.Key()}, batchErr.Written); diff != "" {
		t.Errorf("TestSaveBatchPartialFailure: written: -want/+got:\n%s", diff)
	}
	var storageErr idErrors.StorageError
	if !errors.As(err, &storageErr) || storageErr.Key != at.Key() {
		t.Errorf("TestSaveBatchPartialFailure: got %v, want a StorageError for the access token", err)
	}
	// the records after the failure were still attempted
	if _, ok := m.Credential(ctx, rt.Key()); !ok {
		t.Errorf("TestSaveBatchPartialFailure: refresh token was not written")
	}
}

func TestSaveInvalid(t *testing.T) {
	ctx := context.Background()
	m, _ := newForTest()
	var invalid idErrors.InvalidArgumentError
	if err := m.SaveAccount(ctx, cache.Account{}); !errors.As(err, &invalid) {
		t.Errorf("TestSaveInvalid: SaveAccount: got %v, want InvalidArgumentError", err)
	}
	if err := m.SaveCredential(ctx, cache.AccessToken{}); !errors.As(err, &invalid) {
		t.Errorf("TestSaveInvalid: SaveCredential: got %v, want InvalidArgumentError", err)
	}
}
