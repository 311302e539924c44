package core

import (
	"fmt"
	"slices"
	"strings"
)

// AgentID identifies one member of the research team. The universe of
// identifiers is closed: only the constants below are valid speakers, plus
// the synthetic User speaker that authors the task description.
type AgentID string

const (
	// Orchestrator decides which agent acts next and when the task is done.
	Orchestrator AgentID = "Orchestrator"
	// Search issues web searches and summarizes findings.
	Search AgentID = "Search"
	// Analyst synthesizes information gathered by the other agents.
	Analyst AgentID = "Analyst"
	// DataAnalyst turns numeric findings into visualizations.
	DataAnalyst AgentID = "DataAnalyst"
	// User is the synthetic speaker of the task description. It is never
	// part of a Roster and can never be scheduled.
	User AgentID = "User"
)

// KnownAgents lists the closed set of schedulable identifiers in canonical order.
var KnownAgents = []AgentID{Orchestrator, Search, Analyst, DataAnalyst}

// aliases maps lower-cased alternative spellings onto canonical identifiers.
// The *Agent spellings are the names the agents historically answered to.
var aliases = map[string]AgentID{
	"orchestrator":      Orchestrator,
	"orchestratoragent": Orchestrator,
	"search":            Search,
	"searchagent":       Search,
	"websearch":         Search,
	"analyst":           Analyst,
	"analystagent":      Analyst,
	"dataanalyst":       DataAnalyst,
	"dataanalystagent":  DataAnalyst,
	"data_analyst":      DataAnalyst,
	"data analyst":      DataAnalyst,
}

// ParseAgentID resolves free-form text (typically model output) into a known
// AgentID. Matching is case-insensitive and tolerates surrounding whitespace
// and quotes. The second return value is false for anything outside the
// closed set, including User.
func ParseAgentID(s string) (AgentID, bool) {
	key := strings.ToLower(strings.Trim(strings.TrimSpace(s), `"'`+"`"))
	id, ok := aliases[key]
	return id, ok
}

// String implements fmt.Stringer.
func (id AgentID) String() string { return string(id) }

// IsWorker reports whether the identifier names an agent that can be
// dispatched for a turn (everyone but the Orchestrator and the User).
func (id AgentID) IsWorker() bool {
	return id == Search || id == Analyst || id == DataAnalyst
}

// Roster is the immutable set of agents configured for a process. It is built
// once at startup; all accessors return copies.
type Roster struct {
	members []AgentID
}

// NewRoster validates ids against the closed set and returns a Roster. The
// Orchestrator must be present; duplicates are rejected.
func NewRoster(ids ...AgentID) (Roster, error) {
	seen := make(map[AgentID]bool, len(ids))
	members := make([]AgentID, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(KnownAgents, id) {
			return Roster{}, fmt.Errorf("unknown agent %q", id)
		}
		if seen[id] {
			return Roster{}, fmt.Errorf("duplicate agent %q", id)
		}
		seen[id] = true
		members = append(members, id)
	}
	if !seen[Orchestrator] {
		return Roster{}, fmt.Errorf("roster requires the %s", Orchestrator)
	}
	return Roster{members: members}, nil
}

// DefaultRoster returns the full four-agent team.
func DefaultRoster() Roster {
	return Roster{members: slices.Clone(KnownAgents)}
}

// Contains reports whether id is a member.
func (r Roster) Contains(id AgentID) bool { return slices.Contains(r.members, id) }

// Members returns the configured agents in configuration order.
func (r Roster) Members() []AgentID { return slices.Clone(r.members) }

// Workers returns the members that can be dispatched for a turn.
func (r Roster) Workers() []AgentID {
	out := make([]AgentID, 0, len(r.members))
	for _, id := range r.members {
		if id.IsWorker() {
			out = append(out, id)
		}
	}
	return out
}
