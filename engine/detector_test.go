package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/researchmesh/core"
)

func TestDetector_Stall(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		keys      []string
		tools     map[int]bool // tool activity before the i-th key
		want      DetectorState
	}{
		{name: "third repeat stalls", threshold: 2, keys: []string{"Search", "Search", "Search"}, want: StateStalled},
		{name: "two repeats run", threshold: 2, keys: []string{"Search", "Search"}, want: StateRunning},
		{name: "alternating", threshold: 2, keys: []string{"Search", "Analyst", "Search", "Analyst"}, want: StateRunning},
		{name: "tool activity resets", threshold: 2, keys: []string{"Search", "Search", "Search"}, tools: map[int]bool{2: true}, want: StateRunning},
		{name: "rejected stops", threshold: 2, keys: []string{stopKey, stopKey, stopKey}, want: StateStalled},
		{name: "disabled", threshold: 0, keys: []string{"Search", "Search", "Search", "Search"}, want: StateRunning},
		{name: "threshold one", threshold: 1, keys: []string{"Analyst", "Analyst"}, want: StateStalled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(tt.threshold)
			var state DetectorState
			for i, k := range tt.keys {
				if tt.tools[i] {
					d.ObserveToolActivity()
				}
				state = d.ObserveDecision(k)
			}
			assert.Equal(t, tt.want, state)
			assert.Equal(t, tt.want == StateStalled, d.Terminal())
			if tt.want == StateStalled {
				assert.Equal(t, core.StatusStalled, d.Status())
			}
		})
	}
}

func TestDetector_MalformedNeverStalls(t *testing.T) {
	d := NewDetector(2)
	for i := 0; i < 10; i++ {
		d.ObserveMalformed()
	}
	assert.Equal(t, StateRunning, d.State())

	assert.Equal(t, StateRunning, d.ObserveDecision("Analyst"))
	assert.Equal(t, StateRunning, d.ObserveDecision("Analyst"))
	d.ObserveMalformed()
	assert.Equal(t, 0, d.Repeats())
	assert.Equal(t, StateRunning, d.ObserveDecision("Analyst"))
	assert.Equal(t, StateRunning, d.ObserveDecision("Analyst"))
	assert.Equal(t, StateStalled, d.ObserveDecision("Analyst"))
}

func TestDetector_Stop(t *testing.T) {
	d := NewDetector(2)
	assert.False(t, d.ObserveStop(false))
	assert.Equal(t, StateRunning, d.State())

	assert.True(t, d.ObserveStop(true))
	assert.Equal(t, StateCompleted, d.State())
	assert.Equal(t, core.StatusCompleted, d.Status())

	// Terminal states are sticky.
	d.ForceStop(core.StatusResourceExhausted)
	assert.Equal(t, StateCompleted, d.State())
	assert.Equal(t, StateCompleted, d.ObserveDecision("Search"))
}

func TestDetector_Rounds(t *testing.T) {
	d := NewDetector(2)
	assert.Equal(t, StateRunning, d.CheckRounds(2, 3))
	assert.Equal(t, StateForceStopped, d.CheckRounds(3, 3))
	assert.Equal(t, core.StatusResourceExhausted, d.Status())
	assert.Equal(t, "force_stopped", d.State().String())
	assert.False(t, d.ObserveStop(true))
}
