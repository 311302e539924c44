// Package plot renders simple charts for the render_plot tool.
package plot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidSpec is wrapped by Spec.Validate failures.
var ErrInvalidSpec = errors.New("invalid plot spec")

// Kind is a chart type.
type Kind string

const (
	Bar     Kind = "bar"
	Line    Kind = "line"
	Scatter Kind = "scatter"
	Pie     Kind = "pie"
)

// Kinds lists the supported chart types.
var Kinds = []Kind{Bar, Line, Scatter, Pie}

// ParseKind resolves a chart type name, case-insensitively.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// Spec describes one chart: one data point per label.
type Spec struct {
	Kind   Kind      `json:"kind"`
	Data   []float64 `json:"data"`
	Labels []string  `json:"labels"`
	Title  string    `json:"title,omitempty"`
}

// Validate checks the spec is renderable.
func (s Spec) Validate() error {
	if _, ok := ParseKind(string(s.Kind)); !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSpec, s.Kind)
	}
	if len(s.Data) == 0 {
		return fmt.Errorf("%w: no data", ErrInvalidSpec)
	}
	if len(s.Labels) != len(s.Data) {
		return fmt.Errorf("%w: %d labels for %d data points", ErrInvalidSpec, len(s.Labels), len(s.Data))
	}
	for i, v := range s.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: data[%d] is not finite", ErrInvalidSpec, i)
		}
		if s.Kind == Pie && v < 0 {
			return fmt.Errorf("%w: pie data[%d] is negative", ErrInvalidSpec, i)
		}
	}
	return nil
}

// Artifact is a rendered chart.
type Artifact struct {
	Extension string // without dot, e.g. "xlsx"
	MIMEType  string
	Data      []byte
}

// Renderer turns a Spec into an Artifact.
type Renderer interface {
	Render(ctx context.Context, spec Spec) (Artifact, error)
}
