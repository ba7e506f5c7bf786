// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package performance

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/store"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/tokencache"
)

func TestSummarize(t *testing.T) {
	s, err := Summarize([]float64{1000, 2000, 3000})
	if err != nil {
		t.Fatal(err)
	}
	if s.Count != 3 || s.Mean != 2 || s.Median != 2 || s.Min != 1 || s.Max != 3 {
		t.Errorf("TestSummarize: got %+v", s)
	}
	if _, err := Summarize(nil); err == nil {
		t.Errorf("TestSummarize: no durations: got nil error")
	}
}

func TestQueryFindsEveryToken(t *testing.T) {
	ctx := context.Background()
	c, err := tokencache.New(store.NewMemory(store.DefaultCacheName))
	if err != nil {
		t.Fatal(err)
	}
	accounts, err := Populate(ctx, c, 3, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 3 {
		t.Fatalf("TestQueryFindsEveryToken: got %d accounts, want 3", len(accounts))
	}
	if _, err := Measure(ctx, c, accounts, 5, 50, time.Minute); err != nil {
		t.Fatal(err)
	}
}

func TestTokenCacheLoad(t *testing.T) {
	if os.Getenv("CI") != "" {
		t.Skip("Skipping testing in CI environment")
	}
	tests := []struct {
		Users  int
		Tokens int
	}{
		{1, 1000},
		{10, 1000},
		{100, 100},
		{1000, 10},
	}

	ctx := context.Background()
	for _, test := range tests {
		c, err := tokencache.New(store.NewMemory(store.DefaultCacheName))
		if err != nil {
			t.Fatal(err)
		}
		accounts, err := Populate(ctx, c, test.Users, test.Tokens)
		if err != nil {
			t.Fatal(err)
		}
		durations, err := Measure(ctx, c, accounts, test.Tokens, 0, 5*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		s, err := Summarize(durations)
		if err != nil {
			t.Fatal(err)
		}
		s.Print(os.Stdout, test.Users, test.Tokens)
	}
}
