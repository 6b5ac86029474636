package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Membership portal authentication",
	Long: `portal signs members in with their member number, keeps the session
state across invocations and records password reset requests.

By default the embedded backend stores members in a local SQLite database.
Set PORTAL_BACKEND_URL and PORTAL_BACKEND_ANON_KEY to talk to a hosted
Supabase project instead.`,
	SilenceUsage: true,
}

var (
	flagDSN    string
	flagOrigin string
	flagAudit  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDSN, "dsn", "", "SQLite DSN (default PORTAL_DATABASE_DSN)")
	rootCmd.PersistentFlags().StringVar(&flagOrigin, "origin", "", "public portal origin used in reset links (default PORTAL_ORIGIN)")
	rootCmd.PersistentFlags().BoolVar(&flagAudit, "audit", false, "write activity events as JSON lines to stderr")
}
