package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/labforge/sample-ingest/internal/classify"
)

var reclassifyVersion string

// reclassifyCmd represents the reclassify command
var reclassifyCmd = &cobra.Command{
	Use:   "reclassify",
	Short: "Re-run the filtered-positive rule over stored samples",
	Long: `Re-evaluate the filtered-positive rule for every sample in the canonical
store and rewrite the verdict of those whose verdict changed. By default the
current rule version is applied; --version selects a historical one.`,
	Example: `  sample-ingest reclassify
  sample-ingest reclassify --version v1`,
	Args: cobra.NoArgs,
	RunE: runReclassify,
}

func init() {
	rootCmd.AddCommand(reclassifyCmd)

	reclassifyCmd.Flags().StringVar(&reclassifyVersion, "version", string(classify.CurrentVersion), "Rule version to apply (v0, v1, v2)")
}

func runReclassify(cmd *cobra.Command, args []string) error {
	version, err := classify.ParseVersion(reclassifyVersion)
	if err != nil {
		return err
	}

	logger.Info().Str("version", string(version)).Msg("Starting reclassification")

	updated, err := canonicalStore().Reclassify(context.Background(), classify.New(version), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reclassification failed after %d updates: %w", updated, err)
	}

	logger.Info().Int64("updated", updated).Msg("Reclassification complete")
	return nil
}
