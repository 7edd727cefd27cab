// Package main is the entry point for the clibridge CLI.
package main

import (
	"os"

	"github.com/KafClaw/clibridge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
