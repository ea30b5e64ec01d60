package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/tessellate-ai/raggate/internal/chunk"
	"github.com/tessellate-ai/raggate/internal/config"
	"github.com/tessellate-ai/raggate/internal/embed"
	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
	"github.com/tessellate-ai/raggate/internal/index"
	"github.com/tessellate-ai/raggate/internal/logging"
	"github.com/tessellate-ai/raggate/internal/store"
)

func newReindexCmd() *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the indices for one organization offline",
		Long: `Re-derive chunks, embeddings, and lexical entries for every stored
document of an organization. The gateway must not be running against
the same data directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if orgID == "" {
				return gateerrors.InvalidInput("--org is required", nil)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runReindex(cmd.Context(), cfg, orgID)
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization to reindex")
	return cmd
}

func runReindex(ctx context.Context, cfg *config.Config, orgID string) error {
	lock := flock.New(filepath.Join(cfg.Paths.DataDir, "raggate.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire data dir lock: %w", err)
	}
	if !locked {
		return gateerrors.New(gateerrors.ErrCodeDataDirLocked,
			"data dir is in use by a running gateway: "+cfg.Paths.DataDir, nil)
	}
	defer lock.Unlock()

	logger, cleanup, err := logging.Setup(logging.DefaultConfig())
	if err != nil {
		return err
	}
	defer cleanup()

	docs, err := store.NewSQLiteDocumentStore(storePath(cfg.Stores.DocStoreURL))
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer docs.Close()

	embedder, err := embed.New(cfg, logger)
	if err != nil {
		return err
	}
	defer embedder.Close()

	vectors, err := store.NewHNSWVectorIndex(embedder.Dimensions(), storePath(cfg.Stores.VectorIndexURL))
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	defer vectors.Close()

	lexical, err := store.NewBleveLexicalIndex(storePath(cfg.Stores.LexicalIndexURL))
	if err != nil {
		return fmt.Errorf("open lexical index: %w", err)
	}
	defer lexical.Close()

	splitter := chunk.NewSplitter(cfg.Chunking.TokensPerChunk, cfg.Chunking.OverlapTokens)
	pipeline := index.NewPipeline(docs, vectors, lexical, embedder, splitter,
		cfg.Ingest.MaxConcurrent, logger)

	count, err := pipeline.ReindexOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	if err := pipeline.Refresh(ctx); err != nil {
		return err
	}

	fmt.Printf("reindexed %d documents for organization %s\n", count, orgID)
	return nil
}
