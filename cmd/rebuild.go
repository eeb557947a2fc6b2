package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"woeplanet/reconciler/internal/hierarchy"
)

var (
	rebuildStagingDir string
	rebuildBatchSize  int
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-children",
	Short: "Recompute every record's children from the parent pointers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		log := NewLogger(cfg)

		s, err := OpenStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		stagingDir := cfg.Staging.Dir
		if rebuildStagingDir != "" {
			stagingDir = rebuildStagingDir
		}
		batchSize := cfg.Store.BatchSize
		if rebuildBatchSize > 0 {
			batchSize = rebuildBatchSize
		}

		r := hierarchy.New(s, hierarchy.Config{
			StagingDir: stagingDir,
			BatchSize:  batchSize,
			PageSize:   cfg.Store.PageSize,
		}, log)

		report, err := r.Rebuild(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("scanned %d, parents %d, updated %d, placeholders %d, retired skipped %d, failed %d\n",
			report.Scanned, report.Parents, report.Updated,
			report.Placeholders, report.SkippedRetired, report.Failed)
		return nil
	},
}

func init() {
	rebuildCmd.Flags().StringVar(&rebuildStagingDir, "staging-dir", "", "Directory for the staging database (default: config, then temp dir)")
	rebuildCmd.Flags().IntVar(&rebuildBatchSize, "batch-size", 0, "Updates per bulk write (default: config)")
	rootCmd.AddCommand(rebuildCmd)
}
