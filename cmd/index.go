package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"woeplanet/reconciler/internal/geoplanet"
)

var (
	indexStagingDir string
	indexBatchSize  int
)

var indexCmd = &cobra.Command{
	Use:   "index <archive.zip> [archive.zip ...]",
	Short: "Import GeoPlanet data archives into the canonical store",
	Args:  cobra.MinimumNArgs(1),
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
		if indexStagingDir != "" {
			stagingDir = indexStagingDir
		}
		batchSize := cfg.Store.BatchSize
		if indexBatchSize > 0 {
			batchSize = indexBatchSize
		}

		imp := geoplanet.NewImporter(s, geoplanet.Config{
			StagingDir: stagingDir,
			BatchSize:  batchSize,
		}, log)

		total := geoplanet.Summary{}
		for _, path := range args {
			sum, err := imp.Run(cmd.Context(), path)
			if sum != nil {
				total.Processed += sum.Processed
				total.Skipped += sum.Skipped
				total.Placeholders += sum.Placeholders
				total.Failed += sum.Failed
			}
			if err != nil {
				return fmt.Errorf("indexing %s: %w", path, err)
			}
		}

		fmt.Printf("processed %d, skipped %d, placeholders %d, failed %d\n",
			total.Processed, total.Skipped, total.Placeholders, total.Failed)
		return nil
	},
}

func init() {
	indexCmd.Flags().StringVar(&indexStagingDir, "staging-dir", "", "Directory for per-feed staging databases (default: config, then temp dir)")
	indexCmd.Flags().IntVar(&indexBatchSize, "batch-size", 0, "Updates per bulk write (default: config)")
	rootCmd.AddCommand(indexCmd)
}
