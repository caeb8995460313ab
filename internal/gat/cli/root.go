// Package cli wires the gat core engine into a cobra command tree. The
// HTTP/auth surface is explicitly out of scope for the core (spec.md §1);
// this package instead gives operators a way to exercise the full vault
// lifecycle end-to-end from a terminal, the way the teacher's cmd/ entry
// points wrap an internal/apps package behind cobra.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/karthik1codes/gat/internal/gat/config"
	"github.com/karthik1codes/gat/internal/gat/telemetry"
)

// NewRootCommand builds the gat root command and its subcommands.
func NewRootCommand() *cobra.Command {
	tel := telemetry.NewService(slog.LevelInfo)
	cfg := config.Load()

	root := &cobra.Command{
		Use:   "gat",
		Short: "Gatekeeper: a multi-tenant searchable-encryption vault engine",
		Long: `gat drives the Gatekeeper SSE core directly: derive vault keys from a
password, encrypt and index documents, and search across exact, forward-
private, substring, phonetic/fuzzy, and TF-IDF-ranked modes.`,
		SilenceUsage: true,
	}

	root.AddCommand(newDemoCommand(cfg, tel))
	root.AddCommand(newVersionCommand())
	return root
}
