package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/tessellate-ai/raggate/internal/chunk"
	"github.com/tessellate-ai/raggate/internal/config"
	"github.com/tessellate-ai/raggate/internal/embed"
	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
	"github.com/tessellate-ai/raggate/internal/index"
	"github.com/tessellate-ai/raggate/internal/llm"
	"github.com/tessellate-ai/raggate/internal/logging"
	"github.com/tessellate-ai/raggate/internal/orchestrator"
	"github.com/tessellate-ai/raggate/internal/search"
	"github.com/tessellate-ai/raggate/internal/server"
	"github.com/tessellate-ai/raggate/internal/session"
	"github.com/tessellate-ai/raggate/internal/store"
	"github.com/tessellate-ai/raggate/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long: `Start the HTTP/WebSocket gateway: authentication, per-organization
document ingestion, hybrid retrieval, and answer generation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Bind address (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Bind port (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// One gateway per data dir; a second instance would corrupt the
	// vector snapshot.
	lock := flock.New(filepath.Join(cfg.Paths.DataDir, "raggate.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire data dir lock: %w", err)
	}
	if !locked {
		return gateerrors.New(gateerrors.ErrCodeDataDirLocked,
			"data dir is in use by another raggate instance: "+cfg.Paths.DataDir, nil)
	}
	defer lock.Unlock()

	logger, logCleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		FilePath:      cfg.Logging.FilePath,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: true,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCleanup()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores
	docs, err := store.NewSQLiteDocumentStore(storePath(cfg.Stores.DocStoreURL))
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer docs.Close()

	embedder, err := embed.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create embedding provider: %w", err)
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

	// Auth
	gate, err := buildGate(ctx, cfg, docs, logger)
	if err != nil {
		return err
	}

	// Pipelines
	splitter := chunk.NewSplitter(cfg.Chunking.TokensPerChunk, cfg.Chunking.OverlapTokens)
	pipeline := index.NewPipeline(docs, vectors, lexical, embedder, splitter,
		cfg.Ingest.MaxConcurrent, logger)
	engine := search.NewEngine(embedder, vectors, lexical, docs, logger)
	adapter := llm.NewAdapterFromConfig(cfg, logger)

	// Telemetry
	ring := telemetry.NewRing(cfg.Telemetry.AnalyticsBufferSize)
	sinks := orchestrator.MultiSink{ringSink{ring}}
	var persistSink *telemetry.SQLiteSink
	if cfg.Telemetry.AnalyticsPersist {
		persistSink, err = telemetry.NewSQLiteSink(docs.DB(), 0)
		if err != nil {
			return fmt.Errorf("create analytics sink: %w", err)
		}
		sinks = append(sinks, persistSink)
	}
	var metrics *telemetry.Metrics
	if cfg.Telemetry.MetricsEnabled {
		metrics = telemetry.NewMetrics(pipeline.InFlight)
		sinks = append(sinks, metricsSink{metrics})
	}

	orch := orchestrator.New(gate, engine, adapter, sinks,
		search.OptionsFromConfig(cfg),
		llm.Options{MaxTokens: cfg.LLM.MaxTokens, Temperature: cfg.LLM.Temperature},
		logger)

	// Optional drop-directory watcher
	if cfg.Ingest.WatchDir != "" {
		watcher, err := index.NewWatcher(cfg.Ingest.WatchDir,
			cfg.WatchDebounceDuration(), pipeline, logger)
		if err != nil {
			return fmt.Errorf("create ingest watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start ingest watcher: %w", err)
		}
		defer watcher.Stop()
	}

	srv := server.New(server.Deps{
		Config:       cfg,
		Logger:       logger,
		Gate:         gate,
		Orchestrator: orch,
		Pipeline:     pipeline,
		Docs:         docs,
		Lexical:      lexical,
		Ring:         ring,
		Sink:         persistSink,
		Metrics:      metrics,
	})

	err = srv.Run(ctx)

	// Persist the vector snapshot before letting the defers close stores.
	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if ferr := pipeline.Refresh(flushCtx); ferr != nil {
		logger.Warn("vector snapshot flush failed", slog.String("error", ferr.Error()))
	}
	cancel()
	return err
}

// buildGate loads the user directory and the configured session backend.
func buildGate(ctx context.Context, cfg *config.Config, docs *store.SQLiteDocumentStore, logger *slog.Logger) (*session.Gate, error) {
	users, err := session.LoadUserDirectory(cfg.Auth.UsersFile)
	if err != nil {
		return nil, fmt.Errorf("load users file: %w", err)
	}
	logger.Info("user directory loaded",
		slog.String("path", cfg.Auth.UsersFile),
		slog.Int("users", users.Len()))

	var sessions session.Store
	switch cfg.Sessions.Backend {
	case "", "sqlite":
		sessions, err = session.NewSQLiteStore(docs.DB())
		if err != nil {
			return nil, fmt.Errorf("create session store: %w", err)
		}
	case "redis":
		sessions, err = session.NewRedisStore(ctx, cfg.Sessions.Redis.Addr,
			cfg.Sessions.Redis.Password, cfg.Sessions.Redis.DB, cfg.SessionTTL())
		if err != nil {
			return nil, fmt.Errorf("connect redis session store: %w", err)
		}
	case "memory":
		sessions = session.NewMemoryStore()
	default:
		return nil, gateerrors.InvalidInput(
			"unknown session backend: "+cfg.Sessions.Backend, nil)
	}

	gate := session.NewGate(users, sessions, cfg.SessionTTL(), logger)
	if cfg.Auth.SSO.Enabled {
		verifier, err := session.NewSSOVerifier(cfg.Auth.SSO.Secret,
			cfg.Auth.SSO.Issuer, cfg.Auth.SSO.Audience)
		if err != nil {
			return nil, fmt.Errorf("configure sso: %w", err)
		}
		gate = gate.WithSSO(verifier)
		logger.Info("sso bearer exchange enabled", slog.String("issuer", cfg.Auth.SSO.Issuer))
	}
	return gate, nil
}

// storePath accepts a plain path or a file:// URL.
func storePath(raw string) string {
	return strings.TrimPrefix(raw, "file://")
}

// ringSink adapts the in-memory ring to the analytics sink interface.
type ringSink struct{ ring *telemetry.Ring }

func (s ringSink) Record(_ context.Context, ev telemetry.QueryEvent) error {
	s.ring.Add(ev)
	return nil
}

// metricsSink feeds query outcomes into Prometheus.
type metricsSink struct{ metrics *telemetry.Metrics }

func (s metricsSink) Record(_ context.Context, ev telemetry.QueryEvent) error {
	s.metrics.ObserveQuery(ev.Success, ev.RetrieveTime, ev.GenerateTime)
	return nil
}
