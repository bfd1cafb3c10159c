package lims

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/labforge/sample-ingest/internal/stores"
)

func TestWellState(t *testing.T) {
	assert.Equal(t, "pickable", wellState(true))
	assert.Equal(t, "empty", wellState(false))
}

func TestWellProperties(t *testing.T) {
	props := wellProperties(stores.WellUpdate{
		Index:        19,
		RootSampleID: "R1",
		RNAID:        "AP-rna-1_B07",
		LabID:        "AP",
		SampleUUID:   "uuid-1",
		Pickable:     true,
	})

	byName := make(map[string]string, len(props))
	for _, p := range props {
		byName[p.name] = p.value
	}

	assert.Equal(t, "R1", byName["root_sample_id"])
	assert.Equal(t, "AP-rna-1_B07", byName["rna_id"])
	assert.Equal(t, "AP", byName["lab_id"])
	assert.Equal(t, "uuid-1", byName["lh_sample_uuid"])
	assert.Equal(t, "pickable", byName["state"])
}

func TestRecognizedStates(t *testing.T) {
	for _, state := range []string{StatePending, StateStarted, StateCompleted, StateVoided} {
		_, ok := recognizedStates[state]
		assert.True(t, ok, state)
	}
	_, ok := recognizedStates["loading"]
	assert.False(t, ok)
}
