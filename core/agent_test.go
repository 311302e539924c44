package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAgentID(t *testing.T) {
	tests := []struct {
		in   string
		want AgentID
		ok   bool
	}{
		{"Search", Search, true},
		{"  analyst ", Analyst, true},
		{`"DataAnalyst"`, DataAnalyst, true},
		{"SearchAgent", Search, true},
		{"DataAnalystAgent", DataAnalyst, true},
		{"Orchestrator", Orchestrator, true},
		{"User", "", false},
		{"Critic", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseAgentID(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNewRoster(t *testing.T) {
	r, err := NewRoster(Orchestrator, Search, Analyst)
	require.NoError(t, err)
	assert.True(t, r.Contains(Search))
	assert.False(t, r.Contains(DataAnalyst))
	assert.Equal(t, []AgentID{Search, Analyst}, r.Workers())

	_, err = NewRoster(Search, Analyst)
	assert.Error(t, err)

	_, err = NewRoster(Orchestrator, Search, Search)
	assert.Error(t, err)

	_, err = NewRoster(Orchestrator, User)
	assert.Error(t, err)
}

func TestRoster_MembersIsCopy(t *testing.T) {
	r := DefaultRoster()
	m := r.Members()
	m[0] = "mutated"
	assert.Equal(t, Orchestrator, r.Members()[0])
}
