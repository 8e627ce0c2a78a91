// Command boswellctl is the core-only admin CLI: reindex,
// backup, restore. It never starts the janitor suite or any transport
// surface; each subcommand opens the store just long enough to do its one
// job. Grounded in shape (cobra root + subcommand files, persistent
// --config flag) on MycelicMemory/cmd/mycelicmemory/root.go, trimmed to the
// three operations the core owns.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitSuccess              = 0
	exitGenericFailure       = 1
	exitInvalidConfiguration = 2
	exitDataCorruptionFound  = 3
	exitVersionIncompatible  = 4
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "boswellctl",
	Short: "Administrative CLI for the Boswell claim store (reindex, backup, restore)",
	Long: `boswellctl is the core-only administrative surface for a Boswell
instance: it rebuilds the vector sidecar offline, and backs up or restores
the relational store and vector sidecar files. It never serves API traffic
and never starts the janitor suite.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (defaults to ./config.yaml, ~/.boswell/config.yaml, /etc/boswell/config.yaml)")
	rootCmd.AddCommand(reindexCmd, backupCmd, restoreCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "boswellctl:", err)
		os.Exit(exitGenericFailure)
	}
}

func exitWith(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}
