package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/labforge/sample-ingest/internal/centres"
)

var centresOutput string

// centresCmd represents the centres command
var centresCmd = &cobra.Command{
	Use:   "centres",
	Short: "List the configured testing centres",
	Long: `List every built-in testing centre with its prefix, default lab id, and
the file name patterns it accepts.

Output can be formatted as a human-readable table (default) or JSON.`,
	Example: `  sample-ingest centres
  sample-ingest centres --output json`,
	Args: cobra.NoArgs,
	RunE: runCentres,
}

func init() {
	rootCmd.AddCommand(centresCmd)

	centresCmd.Flags().StringVar(&centresOutput, "output", "table", "Output format: table or json")
}

func runCentres(cmd *cobra.Command, args []string) error {
	switch strings.ToLower(centresOutput) {
	case "json":
		return outputCentresJSON()
	case "table":
		outputCentresTable()
		return nil
	default:
		return fmt.Errorf("invalid output format: %s (use 'table' or 'json')", centresOutput)
	}
}

func outputCentresTable() {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "KEY\tNAME\tPREFIX\tLAB ID\tBARCODE FIELD\tDEFAULTS LAB ID")
	fmt.Fprintln(w, "---\t----\t------\t------\t-------------\t---------------")

	for _, key := range centres.Keys() {
		cfg, err := centres.Get(key)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
			key, cfg.Name, cfg.Prefix, cfg.DefaultLabID, cfg.BarcodeField, cfg.AddLabID)
	}

	w.Flush()
}

func outputCentresJSON() error {
	type centreInfo struct {
		Key          string `json:"key"`
		Name         string `json:"name"`
		Prefix       string `json:"prefix"`
		DefaultLabID string `json:"default_lab_id"`
		BarcodeField string `json:"barcode_field"`
		AddLabID     bool   `json:"add_lab_id"`
		Ignored      int    `json:"ignored_file_names"`
	}

	var out []centreInfo
	for _, key := range centres.Keys() {
		cfg, err := centres.Get(key)
		if err != nil {
			continue
		}
		out = append(out, centreInfo{
			Key:          key,
			Name:         cfg.Name,
			Prefix:       cfg.Prefix,
			DefaultLabID: cfg.DefaultLabID,
			BarcodeField: cfg.BarcodeField,
			AddLabID:     cfg.AddLabID,
			Ignored:      len(cfg.FileNamesToIgnore),
		})
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
