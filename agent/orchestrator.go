package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/model"
)

// Orchestrator wraps the Orchestrator role's Runtime and turns its output
// into a core.Decision.
type Orchestrator struct {
	rt *Runtime
}

// NewOrchestrator creates the deciding agent. role must be the Orchestrator role.
func NewOrchestrator(role Role, llm model.Model, optFns ...func(o *RuntimeOptions)) (*Orchestrator, error) {
	if role.ID != core.Orchestrator {
		return nil, fmt.Errorf("orchestrator: unexpected role %s", role.ID)
	}
	rt, err := NewRuntime(role, llm, nil, optFns...)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{rt: rt}, nil
}

// Runtime returns the underlying runtime.
func (o *Orchestrator) Runtime() *Runtime { return o.rt }

// Decide asks the model who acts next. An error means the model call
// failed; output that cannot be understood yields a Decision with an empty
// NextSpeaker, which callers treat as malformed.
func (o *Orchestrator) Decide(ctx context.Context, tr *core.Transcript) (core.Decision, error) {
	c, err := o.rt.Act(ctx, tr)
	if err != nil {
		return core.Decision{}, err
	}
	if c.Kind != core.ContributionText {
		raw := c.ErrorDetail
		if c.ToolRequest != nil {
			raw = fmt.Sprintf("tool call %s: %s", c.ToolRequest.ToolName, c.ErrorDetail)
		}
		return core.Decision{Raw: raw}, nil
	}
	return ParseDecision(c.Text), nil
}

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

type decisionPayload struct {
	NextSpeaker string `json:"next_speaker"`
	Next        string `json:"next"`
	Speaker     string `json:"speaker"`
	Stop        bool   `json:"stop"`
	Reason      string `json:"reason"`
}

// ParseDecision extracts a Decision from free-form Orchestrator output.
//
// Accepted shapes, in order of preference: a JSON object (optionally inside
// a markdown fence, repaired when malformed) with next_speaker or stop; a
// bare agent name. A trailing TERMINATE always means stop.
func ParseDecision(text string) core.Decision {
	d := core.Decision{Raw: text}
	body, terminate := cutTerminate(strings.TrimSpace(text))

	if m := fencePattern.FindStringSubmatch(body); m != nil {
		body = strings.TrimSpace(m[1])
	}

	if start := strings.Index(body, "{"); start >= 0 {
		candidate := body[start:]
		if end := strings.LastIndex(candidate, "}"); end >= 0 {
			candidate = candidate[:end+1]
		}
		if p, ok := decodeDecision(candidate); ok {
			d.NextSpeaker = strings.TrimSpace(firstNonEmpty(p.NextSpeaker, p.Next, p.Speaker))
			d.Stop = p.Stop
			d.Reason = strings.TrimSpace(p.Reason)
		}
	} else if _, ok := core.ParseAgentID(body); ok {
		d.NextSpeaker = strings.TrimSpace(body)
	}

	if terminate {
		d.Stop = true
		if d.Reason == "" {
			d.Reason = terminateMarker
		}
	}
	if d.Stop {
		d.NextSpeaker = ""
	}
	return d
}

func decodeDecision(s string) (decisionPayload, bool) {
	var p decisionPayload
	if err := json.Unmarshal([]byte(s), &p); err == nil {
		return p, true
	}
	fixed, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return decisionPayload{}, false
	}
	if err := json.Unmarshal([]byte(fixed), &p); err != nil {
		return decisionPayload{}, false
	}
	return p, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
