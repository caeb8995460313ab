// Package main is the entry point for the gat CLI.
package main

import (
	"os"

	gatcli "github.com/karthik1codes/gat/internal/gat/cli"
)

func main() {
	if err := gatcli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
