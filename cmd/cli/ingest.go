package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/labforge/sample-ingest/internal/centres"
	"github.com/labforge/sample-ingest/internal/classify"
	"github.com/labforge/sample-ingest/internal/ingest"
	"github.com/labforge/sample-ingest/internal/telemetry"
)

var (
	ingestAll         bool
	ingestParallel    int
	ingestMetricsAddr string
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <centre>",
	Short: "Process a centre's pending result files",
	Long: `Process every pending CSV result file of a testing centre: validate and
normalize each row, classify filtered positives, write the accepted samples to
the canonical store, the warehouse, and the LIMS, and archive the file with an
import record. Files already archived are skipped by content checksum.

Use --all to process all centres at once.`,
	Example: `  sample-ingest ingest alderley
  sample-ingest ingest --all
  sample-ingest ingest --all --parallel 4`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().BoolVar(&ingestAll, "all", false, "Process all centres")
	ingestCmd.Flags().IntVar(&ingestParallel, "parallel", 1, "Number of centres processed concurrently with --all")
	ingestCmd.Flags().StringVar(&ingestMetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address for the duration of the run (e.g. :9090)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if ingestMetricsAddr != "" {
		shutdown := serveMetrics(ingestMetricsAddr)
		defer shutdown()
	}

	var keys []string
	if ingestAll {
		keys = centres.Keys()
		logger.Info().Msgf("Processing all %d centres", len(keys))
	} else {
		if len(args) == 0 {
			return fmt.Errorf("either specify <centre> or use --all flag")
		}
		if _, err := centres.Get(args[0]); err != nil {
			return fmt.Errorf("invalid centre: %s\nValid centres: %s", args[0], strings.Join(centres.Keys(), ", "))
		}
		keys = []string{args[0]}
	}

	writer := &ingest.MultiStoreWriter{
		Canonical: canonicalStore(),
		Warehouse: warehouseStore(),
		LIMS:      limsStore(),
	}
	classifier := classify.New(classify.CurrentVersion)

	results := make([]*ingest.Summary, len(keys))
	errs := make([]error, len(keys))

	group, groupCtx := errgroup.WithContext(ctx)
	if ingestParallel < 1 {
		ingestParallel = 1
	}
	group.SetLimit(ingestParallel)

	for i, key := range keys {
		i, key := i, key
		group.Go(func() error {
			cfg2, err := centres.Get(key)
			if err != nil {
				errs[i] = err
				return nil
			}

			plateWriter := *writer
			plateWriter.LabwareClass = cfg2.BiomekLabwareClass

			centre := &ingest.Centre{
				Config:     cfg2,
				WorkingDir: cfg.WorkingDir(cfg2.Dir),
				BackupDir:  cfg.BackupDir(cfg2.Dir),
				Writer:     &plateWriter,
				Classifier: classifier,
			}
			results[i], errs[i] = centre.Process(groupCtx)
			return nil
		})
	}
	_ = group.Wait()

	displayIngestResults(keys, results, errs)

	for _, line := range telemetry.Summary() {
		logger.Info().Str("counter", line).Msg("Run counter")
	}

	for _, err := range errs {
		if err != nil {
			return fmt.Errorf("some centres failed")
		}
	}
	return nil
}

// serveMetrics exposes the default registry until the returned shutdown
// function is called.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics listener failed")
		}
	}()

	return func() {
		_ = server.Shutdown(context.Background())
	}
}

func displayIngestResults(keys []string, results []*ingest.Summary, errs []error) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CENTRE\tSTATUS\tFILES\tSKIPPED\tWITH ERRORS\tINSERTED")
	fmt.Fprintln(w, "------\t------\t-----\t-------\t-----------\t--------")

	for i, key := range keys {
		if errs[i] != nil || results[i] == nil {
			fmt.Fprintf(w, "%s\tFAILED\t-\t-\t-\t-\n", key)
			continue
		}
		r := results[i]
		fmt.Fprintf(w, "%s\tOK\t%d\t%d\t%d\t%d\n", key, r.FilesProcessed, r.FilesSkipped, r.FilesWithErrors, r.RecordsInserted)
	}

	w.Flush()
}
