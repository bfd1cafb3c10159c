package warehouse

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labforge/sample-ingest/internal/types"
)

func sample(root, rnaID string) *types.SampleRecord {
	return &types.SampleRecord{
		SampleUUID:   uuid.New(),
		CanonicalID:  "canon-" + root,
		RootSampleID: root,
		RNAID:        rnaID,
		Result:       types.ResultNegative,
		PlateBarcode: "TS1",
		Coordinate:   "A1",
	}
}

func TestMarkCurrent(t *testing.T) {
	records := []*types.SampleRecord{
		sample("R1", "TS1_A1"),
		sample("R2", "TS1_A2"),
		sample("R3", "TS1_A1"),
	}

	current := markCurrent(records)
	assert.Equal(t, []bool{false, true, true}, current, "only the last record per RNA id stays current")
}

func TestUpsertArgs(t *testing.T) {
	record := sample("R1", "TS1_A1")
	cq := decimal.RequireFromString("21.4")
	target := "ORF1ab"
	record.Channels[0] = types.Channel{Target: &target, Cq: &cq}

	args := upsertArgs(record, true)
	require.Len(t, args, 34)

	assert.Equal(t, "canon-R1", args[0])
	assert.Equal(t, "A01", args[10], "coordinates are zero-padded in the warehouse")
	assert.Nil(t, args[3], "empty optional strings become NULL")

	cqArg, ok := args[21].(*string)
	require.True(t, ok)
	require.NotNil(t, cqArg)
	assert.Equal(t, "21.4", *cqArg)
	assert.Nil(t, args[24], "absent channel values stay NULL")

	assert.Equal(t, true, args[31])
}
