package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyFoldsOccupiedSynonyms(t *testing.T) {
	for _, raw := range []string{"occupied", "charging", "in_use", "in-progress", "in_progress", "busy", "  BUSY ", "Charging"} {
		assert.Equal(t, Occupied, Classify(raw), raw)
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]Class{
		"available":   Available,
		"AVAILABLE":   Available,
		" Available ": Available,
		"maintenance": Maintenance,
		"Reserved":    Reserved,
		"unavailable": Unknown,
		"faulted":     Unknown,
		"":            Unknown,
		"in progress": Unknown,
	}
	for raw, want := range cases {
		assert.Equal(t, want, Classify(raw), "raw=%q", raw)
	}
}

func TestHolding(t *testing.T) {
	assert.True(t, Holding("reserved"))
	assert.True(t, Holding("charging"))
	assert.False(t, Holding("available"))
	assert.False(t, Holding("maintenance"))
	assert.False(t, Holding("unavailable"))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "occupied", Occupied.String())
	assert.Equal(t, "unknown", Class(42).String())
	assert.True(t, Equal("Maintenance", "maintenance"))
}
