package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatehouse",
	Short: "Gatehouse is the auth and session-security core for the site",
	Long: `Gatehouse handles two-factor admin authentication, anonymous guestbook
identity, CSRF protection and rate limiting for the content platform.
Configuration comes from GATEHOUSE_* environment variables.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
