package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tessellate-ai/raggate/internal/store"
)

type orgStats struct {
	OrganizationID string `json:"organization_id"`
	Documents      int    `json:"documents"`
	SizeBytes      int64  `json:"size_bytes"`
}

type statsReport struct {
	DataDir       string     `json:"data_dir"`
	Organizations []orgStats `json:"organizations"`
	TotalDocs     int        `json:"total_documents"`
}

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-organization document counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			docs, err := store.NewSQLiteDocumentStore(storePath(cfg.Stores.DocStoreURL))
			if err != nil {
				return fmt.Errorf("open document store: %w", err)
			}
			defer docs.Close()

			report := statsReport{DataDir: cfg.Paths.DataDir}
			orgs, err := docs.Organizations(cmd.Context())
			if err != nil {
				return err
			}
			for _, org := range orgs {
				metas, err := docs.List(cmd.Context(), org)
				if err != nil {
					return err
				}
				var size int64
				for _, m := range metas {
					size += m.SizeBytes
				}
				report.Organizations = append(report.Organizations, orgStats{
					OrganizationID: org,
					Documents:      len(metas),
					SizeBytes:      size,
				})
				report.TotalDocs += len(metas)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Printf("data dir: %s\n", report.DataDir)
			for _, o := range report.Organizations {
				fmt.Printf("  %-24s %5d documents  %8d bytes\n",
					o.OrganizationID, o.Documents, o.SizeBytes)
			}
			fmt.Printf("total: %d documents across %d organizations\n",
				report.TotalDocs, len(report.Organizations))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable output")
	return cmd
}
