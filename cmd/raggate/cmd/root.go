// Package cmd provides the CLI commands for the raggate gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tessellate-ai/raggate/internal/config"
	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
	"github.com/tessellate-ai/raggate/pkg/version"
)

// Exit codes of the raggate binary.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitUsage      = 2
	ExitAuth       = 3
	ExitPermission = 4
)

var (
	configPath string
	dataDir    string
)

// NewRootCmd creates the root command for the raggate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "raggate",
		Short: "Multi-tenant RAG gateway",
		Long: `raggate is a retrieval-augmented generation gateway: it ingests
documents per organization, indexes them in a hybrid dense+lexical
store, and answers questions over HTTP and WebSocket with grounded
citations.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("raggate version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to raggate.yaml")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI and maps the failure to a process exit code:
// 0 success, 1 generic failure, 2 usage, 3 authentication, 4 permission.
func Execute() int {
	// A .env next to the binary seeds the environment before config load.
	_ = godotenv.Load()

	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "raggate: %v\n", err)
		return exitCodeFor(err)
	}
	return ExitOK
}

func exitCodeFor(err error) int {
	switch gateerrors.KindOf(err) {
	case gateerrors.KindInvalidInput:
		return ExitUsage
	case gateerrors.KindUnauthenticated:
		return ExitAuth
	case gateerrors.KindPermissionDenied, gateerrors.KindOrganizationForbidden:
		return ExitPermission
	default:
		return ExitError
	}
}

// loadConfig resolves configuration from the explicit --config file or the
// layered default lookup, then applies CLI overrides.
func loadConfig() (*config.Config, error) {
	// The flag rides through the env override so path derivation against
	// the data dir happens inside Load.
	if dataDir != "" {
		os.Setenv("RAGGATE_DATA_DIR", dataDir)
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return nil, gateerrors.InvalidInput("load configuration", err)
	}
	return cfg, nil
}
