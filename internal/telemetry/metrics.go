// Package telemetry exposes the pipeline's prometheus counters. Collectors
// register on the default registry; the CLI decides whether to serve them.
package telemetry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sample_ingest"

var (
	// FilesProcessed counts processed files per centre and outcome
	// (success, error, skipped).
	FilesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: namespace + "_files_processed_total",
		Help: "Number of centre files processed, by centre and outcome.",
	}, []string{"centre", "outcome"})

	// RowsAccepted counts rows that produced a normalized sample record
	RowsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: namespace + "_rows_accepted_total",
		Help: "Number of rows accepted into sample records, by centre.",
	}, []string{"centre"})

	// RowsRejected counts rows dropped by the validation pipeline
	RowsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: namespace + "_rows_rejected_total",
		Help: "Number of rows rejected by validation, by centre.",
	}, []string{"centre"})

	// SamplesInserted counts records written to the canonical store
	SamplesInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: namespace + "_samples_inserted_total",
		Help: "Number of sample records inserted into the canonical store, by centre.",
	}, []string{"centre"})

	// StoreFailures counts store-level write failures by store
	StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: namespace + "_store_failures_total",
		Help: "Number of store-level failures, by store.",
	}, []string{"store"})
)

// Summary gathers the pipeline's counters from the default registry and
// renders one line per non-zero series, sorted, for an end-of-run report.
func Summary() []string {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil
	}

	var lines []string
	for _, family := range families {
		if !strings.HasPrefix(family.GetName(), namespace+"_") {
			continue
		}
		for _, metric := range family.GetMetric() {
			value := metric.GetCounter().GetValue()
			if value == 0 {
				continue
			}
			var labels []string
			for _, pair := range metric.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", pair.GetName(), pair.GetValue()))
			}
			if len(labels) == 0 {
				lines = append(lines, fmt.Sprintf("%s %g", family.GetName(), value))
				continue
			}
			lines = append(lines, fmt.Sprintf("%s{%s} %g", family.GetName(), strings.Join(labels, ","), value))
		}
	}
	sort.Strings(lines)
	return lines
}
