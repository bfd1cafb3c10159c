package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labforge/sample-ingest/internal/centres"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create store indexes and schemas",
	Long: `Prepare the canonical store and the warehouse for ingestion: create the
uniqueness and lookup indexes, the warehouse table, and mirror the built-in
centre configuration. Safe to run repeatedly.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	canonical := canonicalStore()
	if err := canonical.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("canonical indexes: %w", err)
	}
	logger.Info().Msg("Canonical indexes ready")

	var names []string
	for _, cfg := range centres.All() {
		names = append(names, cfg.Name)
	}
	if err := canonical.EnsureCentres(ctx, names); err != nil {
		return fmt.Errorf("centre mirror: %w", err)
	}
	logger.Info().Int("centres", len(names)).Msg("Centres mirrored")

	if err := warehouseStore().EnsureSchema(ctx); err != nil {
		return fmt.Errorf("warehouse schema: %w", err)
	}
	logger.Info().Msg("Warehouse schema ready")

	return nil
}
