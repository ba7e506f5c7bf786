// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package negotiation

import (
	"context"
	"testing"
	"time"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/store"
)

var testKey = Key{Protocol: "broker.content.provider", MinVersion: "1.0", MaxVersion: "9.0", PackageName: "com.example.authenticator", VersionCode: "42"}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func newHello(t *testing.T) (*HelloCache, *store.Memory, *clock) {
	t.Helper()
	s := store.NewMemory(store.HelloCacheName)
	clk := &clock{t: time.Unix(1700000000, 0)}
	h, err := New(s, WithClock(clk.now))
	if err != nil {
		t.Fatal(err)
	}
	return h, s, clk
}

func TestKey(t *testing.T) {
	want := "broker.content.provider[1.0,9.0]:com.example.authenticator[42]"
	if got := testKey.String(); got != want {
		t.Errorf("Key.String() = %q, want %q", got, want)
	}
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	h, s, clk := newHello(t)
	if err := h.Put(ctx, testKey, "3.0"); err != nil {
		t.Fatal(err)
	}

	clk.t = clk.t.Add(DefaultTTL - time.Second)
	if v, ok := h.NegotiatedProtocolVersion(ctx, testKey); !ok || v != "3.0" {
		t.Errorf("TestTTLExpiry: before expiry: got %q, %v", v, ok)
	}

	clk.t = clk.t.Add(time.Second)
	if _, ok := h.Get(ctx, testKey); ok {
		t.Errorf("TestTTLExpiry: an expired entry was served")
	}
	if ok, _ := s.Contains(ctx, testKey.String()); ok {
		t.Errorf("TestTTLExpiry: the expired entry was not evicted")
	}
}

func TestHandshakeErrorExpiresSooner(t *testing.T) {
	ctx := context.Background()
	h, _, clk := newHello(t)
	if err := h.PutError(ctx, testKey, "binding failed"); err != nil {
		t.Fatal(err)
	}
	r, ok := h.Get(ctx, testKey)
	if !ok || !r.Failed() {
		t.Fatalf("TestHandshakeErrorExpiresSooner: got %+v, %v", r, ok)
	}
	if _, ok := h.NegotiatedProtocolVersion(ctx, testKey); ok {
		t.Errorf("TestHandshakeErrorExpiresSooner: a failure reported a version")
	}
	clk.t = clk.t.Add(DefaultErrorTTL)
	if _, ok := h.Get(ctx, testKey); ok {
		t.Errorf("TestHandshakeErrorExpiresSooner: the failure outlived its TTL")
	}
}

func TestPutAt(t *testing.T) {
	ctx := context.Background()
	h, _, clk := newHello(t)

	// An outcome recorded with an earlier timestamp expires that much sooner.
	if err := h.PutAt(ctx, testKey, "3.0", clk.t.Add(-DefaultTTL+time.Minute)); err != nil {
		t.Fatal(err)
	}
	if v, ok := h.NegotiatedProtocolVersion(ctx, testKey); !ok || v != "3.0" {
		t.Fatalf("TestPutAt: got %q, %v", v, ok)
	}
	clk.t = clk.t.Add(time.Minute)
	if _, ok := h.Get(ctx, testKey); ok {
		t.Errorf("TestPutAt: the entry outlived the TTL counted from its timestamp")
	}

	if err := h.PutErrorAt(ctx, testKey, "binding failed", clk.t.Add(-DefaultErrorTTL)); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.Get(ctx, testKey); ok {
		t.Errorf("TestPutAt: an already expired failure was served")
	}

	if err := h.PutAt(ctx, testKey, "3.0", time.Time{}); err == nil {
		t.Errorf("TestPutAt: a zero timestamp was accepted")
	}
}

func TestInvalidValuesRemoved(t *testing.T) {
	ctx := context.Background()
	h, s, _ := newHello(t)
	for _, v := range []string{"garbage", `{"timestamp":1}`, `{"negotiated_protocol_version":"1.0","handshake_error":"x","timestamp":1}`} {
		if err := s.Put(ctx, testKey.String(), v); err != nil {
			t.Fatal(err)
		}
		if _, ok := h.Get(ctx, testKey); ok {
			t.Errorf("TestInvalidValuesRemoved(%s): served", v)
		}
		if ok, _ := s.Contains(ctx, testKey.String()); ok {
			t.Errorf("TestInvalidValuesRemoved(%s): not removed", v)
		}
	}
}

func TestDisabled(t *testing.T) {
	ctx := context.Background()
	h, s, _ := newHello(t)
	if err := h.Put(ctx, testKey, "3.0"); err != nil {
		t.Fatal(err)
	}
	h.SetEnabled(false)
	if _, ok := h.Get(ctx, testKey); ok {
		t.Errorf("TestDisabled: a disabled cache served an entry")
	}
	other := testKey
	other.VersionCode = "43"
	if err := h.Put(ctx, other, "3.0"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Contains(ctx, other.String()); ok {
		t.Errorf("TestDisabled: a disabled cache wrote an entry")
	}

	h.SetEnabled(true)
	if _, ok := h.Get(ctx, testKey); !ok {
		t.Errorf("TestDisabled: the entry written while enabled is gone")
	}
	if err := h.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.Get(ctx, testKey); ok {
		t.Errorf("TestDisabled: served after Clear")
	}
}
