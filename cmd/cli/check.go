package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/labforge/sample-ingest/internal/centres"
	"github.com/labforge/sample-ingest/internal/classify"
	"github.com/labforge/sample-ingest/internal/ingest"
	"github.com/labforge/sample-ingest/internal/parsers/csv"
)

var checkCentre string

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a local result file without writing anywhere",
	Long: `Run the row validation pipeline over a local CSV result file and print
what would be accepted and every error that would be reported. Nothing is
written to any store and the file is not archived.`,
	Example: `  sample-ingest check ./AP_sanger_report_200510_1400.csv --centre alderley
  sample-ingest check ./results.csv --centre test`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkCentre, "centre", "", "Centre key (required)")
	checkCmd.MarkFlagRequired("centre")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := centres.Get(checkCentre)
	if err != nil {
		return fmt.Errorf("invalid centre: %s\nValid centres: %s", checkCentre, strings.Join(centres.Keys(), ", "))
	}

	path := args[0]
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	name := filepath.Base(path)
	fileCtx := ingest.NewFileContext(cfg, name, nil)

	headers, rows, err := csv.Read(content)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if missing := ingest.MissingHeaders(headers, cfg); len(missing) > 0 {
		return fmt.Errorf("file is missing required headers: %v", missing)
	}

	classifier := classify.New(classify.CurrentVersion)
	accepted, filtered := 0, 0
	for _, row := range rows {
		record := ingest.ValidateRow(fileCtx, row.Values, row.Line)
		if record == nil {
			continue
		}
		accepted++
		if classifier.IsFilteredPositive(record) {
			filtered++
		}
	}

	fmt.Printf("File:               %s\n", name)
	fmt.Printf("Centre:             %s\n", cfg.Name)
	fmt.Printf("Rows:               %d\n", len(rows))
	fmt.Printf("Accepted:           %d\n", accepted)
	fmt.Printf("Filtered positive:  %d\n", filtered)
	fmt.Printf("Would archive to:   ")
	if fileCtx.Errors.HasFatal() {
		fmt.Println("errors")
	} else {
		fmt.Println("successes")
	}

	if report := fileCtx.Errors.Report(); len(report) > 0 {
		fmt.Println("\nReported errors:")
		for _, line := range report {
			fmt.Printf("  %s\n", line)
		}
	}
	return nil
}
