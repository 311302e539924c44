package agent

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/hupe1980/researchmesh/core"
)

// InstructionData is the template input for role instructions.
type InstructionData struct {
	Name    core.AgentID
	Team    []Role
	Workers []string
	Tools   []string
}

// Provider supplies dynamic instruction text.
type Provider interface {
	Instruction(InstructionData) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(InstructionData) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(d InstructionData) (string, error) { return f(d) }

// Instruction represents either a static (possibly templated) instruction
// string or a dynamic provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a template string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(InstructionData) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether no instruction was set.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the instruction text, rendering the template or invoking
// the provider.
func (i Instruction) Resolve(d InstructionData) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(d)
	}
	return renderTemplate(i.text, d)
}

var templateFuncs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

func renderTemplate(text string, d InstructionData) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := template.New("instruction").Funcs(templateFuncs).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse instruction for %s: %w", d.Name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render instruction for %s: %w", d.Name, err)
	}
	return buf.String(), nil
}
