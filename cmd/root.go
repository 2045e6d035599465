// Package cmd implements the mailgate command line interface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mailgate application.
var rootCmd = &cobra.Command{
	Use:   "mailgate",
	Short: "Mailbox synchronization gateway for assistant surfaces",
	Long: `mailgate bridges AI assistants to a user's mailbox over MCP
(Model Context Protocol). It manages OAuth credentials, decodes provider
messages into readable text, downloads attachments under bounded
concurrency, and composes outbound mail.`,
	SilenceUsage: true,
}

// version is set by main from the build.
var version = "dev"

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailgate version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
