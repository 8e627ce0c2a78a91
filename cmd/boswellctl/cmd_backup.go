package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdray42/boswell/internal/embedding"
	"github.com/jdray42/boswell/internal/store"
	"github.com/jdray42/boswell/internal/vector"
)

var backupDest string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Copy the relational store and vector sidecar to a backup directory",
	Long: `backup checkpoints the relational store's WAL, then copies both
persistent files (the relational store and the vector sidecar) to --dest,
alongside a manifest recording the schema version and row counts at backup
time.`,
	Run: func(cmd *cobra.Command, args []string) {
		runBackup()
	},
}

func init() {
	backupCmd.Flags().StringVar(&backupDest, "dest", "", "destination directory (required)")
	backupCmd.MarkFlagRequired("dest")
}

func runBackup() {
	cfg, err := loadConfig()
	if err != nil {
		exitWith(exitInvalidConfiguration, "loading configuration: %v", err)
	}

	if err := os.MkdirAll(backupDest, 0755); err != nil {
		exitWith(exitGenericFailure, "creating backup directory: %v", err)
	}

	idx, err := vector.OpenFlat(cfg.Vector.IndexPath, cfg.Embedding.Dimension)
	if err != nil {
		exitWith(exitGenericFailure, "opening vector index: %v", err)
	}
	defer idx.Close()

	st, err := store.Open(cfg.Database.Path, idx, embedding.NewOllama(cfg.Embedding), cfg.Embedding, cfg.Namespace)
	if err != nil {
		exitWith(exitGenericFailure, "opening claim store: %v", err)
	}
	defer st.Close()

	if err := st.Checkpoint(); err != nil {
		exitWith(exitGenericFailure, "checkpointing WAL before backup: %v", err)
	}

	stats, err := st.Stats()
	if err != nil {
		exitWith(exitGenericFailure, "reading store stats: %v", err)
	}

	if err := copyFile(cfg.Database.Path, filepath.Join(backupDest, filepath.Base(cfg.Database.Path))); err != nil {
		exitWith(exitGenericFailure, "copying database file: %v", err)
	}
	if err := copyFile(cfg.Vector.IndexPath, filepath.Join(backupDest, filepath.Base(cfg.Vector.IndexPath))); err != nil {
		exitWith(exitGenericFailure, "copying vector index file: %v", err)
	}

	manifest := fmt.Sprintf(
		"schema_version=%d\nclaim_count=%d\nprovenance_count=%d\nrelationship_count=%d\nbacked_up_at=%s\n",
		stats.SchemaVersion, stats.ClaimCount, stats.ProvenanceCount, stats.RelationshipCount,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err := os.WriteFile(filepath.Join(backupDest, "manifest.txt"), []byte(manifest), 0644); err != nil {
		exitWith(exitGenericFailure, "writing backup manifest: %v", err)
	}

	fmt.Printf("backed up %d claims (schema v%d) to %s\n", stats.ClaimCount, stats.SchemaVersion, backupDest)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
