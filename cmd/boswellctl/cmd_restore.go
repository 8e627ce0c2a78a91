package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jdray42/boswell/internal/embedding"
	"github.com/jdray42/boswell/internal/store"
	"github.com/jdray42/boswell/internal/vector"
)

var restoreSrc string

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the relational store and vector sidecar from a backup directory",
	Long: `restore copies the database and vector index files from --src
(as produced by "boswellctl backup") into the configured paths, refusing
when the backup's recorded schema version doesn't match this binary's, or
when the restored files fail to open cleanly.`,
	Run: func(cmd *cobra.Command, args []string) {
		runRestore()
	},
}

func init() {
	restoreCmd.Flags().StringVar(&restoreSrc, "src", "", "backup source directory (required)")
	restoreCmd.MarkFlagRequired("src")
}

func runRestore() {
	cfg, err := loadConfig()
	if err != nil {
		exitWith(exitInvalidConfiguration, "loading configuration: %v", err)
	}

	manifestPath := filepath.Join(restoreSrc, "manifest.txt")
	manifest, err := os.ReadFile(manifestPath)
	if err != nil {
		exitWith(exitDataCorruptionFound, "reading backup manifest %s: %v", manifestPath, err)
	}
	backedUpVersion, ok := parseManifestSchemaVersion(string(manifest))
	if !ok {
		exitWith(exitDataCorruptionFound, "backup manifest %s is malformed", manifestPath)
	}
	if backedUpVersion != store.SchemaVersion {
		exitWith(exitVersionIncompatible, "backup schema version %d does not match this binary's schema version %d", backedUpVersion, store.SchemaVersion)
	}

	dbSrc := filepath.Join(restoreSrc, filepath.Base(cfg.Database.Path))
	vecSrc := filepath.Join(restoreSrc, filepath.Base(cfg.Vector.IndexPath))

	if err := copyFile(dbSrc, cfg.Database.Path); err != nil {
		exitWith(exitGenericFailure, "restoring database file: %v", err)
	}
	if err := copyFile(vecSrc, cfg.Vector.IndexPath); err != nil {
		exitWith(exitGenericFailure, "restoring vector index file: %v", err)
	}

	idx, err := vector.OpenFlat(cfg.Vector.IndexPath, cfg.Embedding.Dimension)
	if err != nil {
		exitWith(exitDataCorruptionFound, "restored vector index failed to open: %v", err)
	}
	defer idx.Close()

	st, err := store.Open(cfg.Database.Path, idx, embedding.NewOllama(cfg.Embedding), cfg.Embedding, cfg.Namespace)
	if err != nil {
		exitWith(exitDataCorruptionFound, "restored database failed to open: %v", err)
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		exitWith(exitDataCorruptionFound, "restored database failed a stats check: %v", err)
	}

	fmt.Printf("restored %d claims (schema v%d) from %s\n", stats.ClaimCount, stats.SchemaVersion, restoreSrc)
}

func parseManifestSchemaVersion(manifest string) (int, bool) {
	for _, line := range strings.Split(manifest, "\n") {
		if v, found := strings.CutPrefix(line, "schema_version="); found {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return 0, false
			}
			return n, true
		}
	}
	return 0, false
}
