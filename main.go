// complywatch - follow a compliance-filtered LLM response stream live.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"os"

	"github.com/jeranaias/complywatch/internal/cli"
)

// Version is set at build time:
//
//	go build -ldflags "-X main.Version=1.2.0"
var Version = "dev"

func main() {
	if Version != "dev" {
		cli.Version = Version
	}
	os.Exit(cli.Execute())
}
