// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Command tokencachectl inspects and maintains a device token cache.
package main

import (
	"os"

	"github.com/AzureAD/microsoft-identity-cache-go/cmd/tokencachectl/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
