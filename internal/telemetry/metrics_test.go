package telemetry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummary(t *testing.T) {
	FilesProcessed.WithLabelValues("Summary Test Centre", "success").Inc()
	RowsAccepted.WithLabelValues("Summary Test Centre").Add(3)

	lines := Summary()
	require.NotEmpty(t, lines)

	assert.Contains(t, lines, `sample_ingest_files_processed_total{centre="Summary Test Centre",outcome="success"} 1`)
	assert.Contains(t, lines, `sample_ingest_rows_accepted_total{centre="Summary Test Centre"} 3`)

	for _, line := range lines {
		assert.False(t, strings.HasSuffix(line, " 0"), "zero series are omitted: %s", line)
	}
}
