package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/internal/embedding"
	"github.com/jdray42/boswell/internal/reindex"
	"github.com/jdray42/boswell/internal/store"
	"github.com/jdray42/boswell/internal/vector"
	"github.com/jdray42/boswell/pkg/config"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the vector sidecar offline from the relational store",
	Long: `reindex is a stop-the-world administrative operation:
it clears the vector sidecar and repopulates it from every non-forgotten
claim's already-stored embedding. It never re-embeds text; online
re-embedding during reindex is an explicit non-goal. Run this only while no
instance process is serving the same database and vector index files.`,
	Run: func(cmd *cobra.Command, args []string) {
		runReindex()
	},
}

func runReindex() {
	cfg, err := loadConfig()
	if err != nil {
		exitWith(exitInvalidConfiguration, "loading configuration: %v", err)
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

	gate := reindex.NewGate()
	rebuilder := reindex.New(gate, st, idx)

	if err := rebuilder.Run(context.Background()); err != nil {
		if claimerr.Is(err, claimerr.Corrupt) {
			exitWith(exitDataCorruptionFound, "reindex aborted, corruption detected: %v", err)
		}
		exitWith(exitGenericFailure, "reindex failed: %v", err)
	}
}

// loadConfig loads the configuration from configPath if set, otherwise
// falls back to config.Load()'s default search path.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Load()
	}
	return config.LoadFrom(configPath)
}
