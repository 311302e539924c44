package agent

import (
	"slices"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/tool"
)

// Role is the fixed definition of one team member: who it is, what it is
// told and which tools it may request.
type Role struct {
	ID          core.AgentID
	Description string
	// Instruction is the system prompt. It may use text/template syntax;
	// see InstructionData for the available fields.
	Instruction  Instruction
	AllowedTools []string
}

// Allows reports whether the role may request the named tool.
func (r Role) Allows(name string) bool { return slices.Contains(r.AllowedTools, name) }

// DefaultRoles returns the built-in team definitions keyed by agent ID.
func DefaultRoles() map[core.AgentID]Role {
	return map[core.AgentID]Role{
		core.Orchestrator: {
			ID:           core.Orchestrator,
			Description:  "Coordinates the team and decides who acts next.",
			Instruction:  NewInstructionFromText(orchestratorInstruction),
			AllowedTools: []string{},
		},
		core.Search: {
			ID:           core.Search,
			Description:  "Finds current information on the web and summarizes the findings.",
			Instruction:  NewInstructionFromText(searchInstruction),
			AllowedTools: []string{tool.WebSearchName},
		},
		core.Analyst: {
			ID:           core.Analyst,
			Description:  "Analyzes gathered material and writes the conclusions.",
			Instruction:  NewInstructionFromText(analystInstruction),
			AllowedTools: []string{},
		},
		core.DataAnalyst: {
			ID:           core.DataAnalyst,
			Description:  "Turns numeric findings into charts.",
			Instruction:  NewInstructionFromText(dataAnalystInstruction),
			AllowedTools: []string{tool.RenderPlotName},
		},
	}
}

const orchestratorInstruction = `You are {{.Name}}, the lead of a small research team. Break the user's goal into steps and hand each step to the team member best suited for it.

Team:
{{range .Team}}- {{.ID}}: {{.Description}}
{{end}}
You never answer the task yourself and you never call tools. After every contribution decide what happens next and reply with a single JSON object and nothing else:
  {"next_speaker": "<one of: {{join .Workers ", "}}>", "reason": "<short reason>"}
When the goal is fully met and an analyst has written the final answer, reply with:
  {"stop": true, "reason": "<why the work is done>"}
Do not pick the same member again unless new information arrived since its last turn.`

const searchInstruction = `You are {{.Name}}, the team's web researcher.{{if .Tools}} Use {{join .Tools ", "}} to find current, relevant information for the task.{{end}}
Pull out the facts that matter, keep the numbers and their sources, and report a short summary of the key findings. Do not speculate beyond what the results say.`

const analystInstruction = `You are {{.Name}}, the team's analyst. Study the material the team has gathered, reason about it critically and write clear, well-structured conclusions that answer the user's task.
When you write the final answer, make it self-contained.`

const dataAnalystInstruction = `You are {{.Name}}, the team's data analyst. Extract the numeric values relevant to the task from the conversation{{if .Tools}} and visualize them with {{join .Tools ", "}}{{end}}.
Pass exactly one value per label. After the chart is rendered, describe what it shows in one or two sentences and mention the stored chart path.`
