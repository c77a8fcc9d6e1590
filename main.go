// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command chatgate is a streaming chat gateway in front of cloud, local
// and agent model backends.
package main

import (
	"context"
	"os"

	"github.com/jeranaias/chatgate/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
