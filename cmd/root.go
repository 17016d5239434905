package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Event-driven conversational interaction pipeline",
	Long: `Parley accepts user messages, asks a completion service for a reply and
publishes every step as an event. A dispatcher consumes those events and
escalates severe system errors to an alert channel.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
