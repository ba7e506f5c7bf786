// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package performance measures token cache lookups against caches holding many users
// and tokens.
package performance

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/cache"
	internalTime "github.com/AzureAD/microsoft-identity-cache-go/apps/internal/json/types/time"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/oauth"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/tokencache"
	"github.com/montanaflynn/stats"
)

const (
	clientID  = "fake_client_id"
	authority = "https://fake_authority/common"
)

func scope(token int) string {
	return fmt.Sprintf("scope%d", token)
}

// Populate saves tokens access tokens for each of users users and returns their accounts.
func Populate(ctx context.Context, c *tokencache.Cache, users, tokens int) ([]cache.Account, error) {
	accounts := make([]cache.Account, 0, users)
	for user := 0; user < users; user++ {
		info := fmt.Sprintf(`{"uid":"my_uid","utid":"%dmy_utid"}`, user)
		var acc *cache.Account
		for token := 0; token < tokens; token++ {
			r, err := c.Save(ctx, oauth.Request{ClientID: clientID, Authority: authority, Scopes: []string{scope(token)}}, oauth.TokenResponse{
				AccessToken:  fmt.Sprintf("fake_access_token%d", user),
				RefreshToken: "fake_refresh_token",
				TokenType:    "Bearer",
				Scope:        scope(token),
				ClientInfo:   base64.RawURLEncoding.EncodeToString([]byte(info)),
				ExpiresOn:    internalTime.DurationTime{T: time.Now().Add(1 * time.Hour)},
			})
			if err != nil {
				return nil, err
			}
			acc = r.Account
		}
		if acc != nil {
			accounts = append(accounts, *acc)
		}
	}
	return accounts, nil
}

// Query loads the token of a random account and scope. Its absence is an error.
func Query(ctx context.Context, c *tokencache.Cache, accounts []cache.Account, tokens int) error {
	if len(accounts) == 0 || tokens <= 0 {
		return fmt.Errorf("the cache holds no tokens")
	}
	acc := accounts[rand.Intn(len(accounts))]
	r, err := c.Load(ctx, clientID, scope(rand.Intn(tokens)), acc, "")
	if err != nil {
		return err
	}
	if r.AccessToken == nil {
		return fmt.Errorf("no access token for %s", acc.HomeAccountID)
	}
	return nil
}

// Measure runs Query until d elapses or n queries ran, whichever is first, and returns
// the duration of each in nanoseconds. n <= 0 means no limit.
func Measure(ctx context.Context, c *tokencache.Cache, accounts []cache.Account, tokens, n int, d time.Duration) ([]float64, error) {
	var durations []float64
	for start := time.Now(); time.Since(start) < d && (n <= 0 || len(durations) < n); {
		s := time.Now()
		if err := Query(ctx, c, accounts, tokens); err != nil {
			return durations, err
		}
		durations = append(durations, float64(time.Since(s)))
	}
	return durations, nil
}

// Summary describes a set of durations in microseconds.
type Summary struct {
	Count                              int
	Mean, Median, P95, StdDev, Min, Max float64
}

// Summarize computes the Summary of durations given in nanoseconds.
func Summarize(durations []float64) (Summary, error) {
	s := Summary{Count: len(durations)}
	for _, m := range []struct {
		dst *float64
		fn  func(stats.Float64Data) (float64, error)
	}{
		{&s.Mean, stats.Mean},
		{&s.Median, stats.Median},
		{&s.P95, func(d stats.Float64Data) (float64, error) { return stats.Percentile(d, 95) }},
		{&s.StdDev, stats.StandardDeviation},
		{&s.Min, stats.Min},
		{&s.Max, stats.Max},
	} {
		v, err := m.fn(durations)
		if err != nil {
			return Summary{}, err
		}
		*m.dst = v / float64(time.Microsecond)
	}
	return s, nil
}

// Print writes s for a cache of users users with tokens tokens each.
func (s Summary) Print(w io.Writer, users, tokens int) {
	fmt.Fprintf(w, "No of users: %d, No of tokens per user: %d, queries: %d\n", users, tokens, s.Count)
	fmt.Fprintf(w, "Mean %.2fus\nMedian %.2fus\nP95 %.2fus\nStandard Deviation %.2fus\nMin Time %.2fus\nMax Time %.2fus\n",
		s.Mean, s.Median, s.P95, s.StdDev, s.Min, s.Max)
}
