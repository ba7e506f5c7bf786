// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package app

import (
	"context"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/require"
)

func policyOptions() policy.TokenRequestOptions {
	return policy.TokenRequestOptions{Scopes: []string{"https://vault.azure.net/.default"}}
}

func TestStaticToken(t *testing.T) {
	_, err := staticToken("").GetToken(context.Background(), policyOptions())
	require.Error(t, err)
	tok, err := staticToken("abc").GetToken(context.Background(), policyOptions())
	require.NoError(t, err)
	require.Equal(t, "abc", tok.Token)
}
