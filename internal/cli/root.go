package cli

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lsp-server",
	Short: "A language server built on a serialized request execution queue",
	Long: `lsp-server speaks the Language Server Protocol over stdio, tcp, or
websocket.

Incoming requests flow through a single execution queue that resolves each
request's language, handler, and workspace context in strict arrival order,
runs state-changing handlers one at a time, and executes read-only handlers
concurrently. Document text synced by the client is reconciled with the
registered workspaces so every handler observes up-to-date content.`,
	// Don't show usage when there's an error
	SilenceUsage: true,
	// Don't show errors (we'll handle them ourselves)
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	return rootCmd.Execute()
}
