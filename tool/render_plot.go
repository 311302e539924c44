package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/plot"
)

// RenderPlotName is the registered name of the plotting tool.
const RenderPlotName = "render_plot"

// PlotResult is the payload of a successful render_plot call.
type PlotResult struct {
	Path   string    `json:"path"`
	Kind   plot.Kind `json:"kind"`
	Points int       `json:"points"`
	Title  string    `json:"title,omitempty"`
}

// Artifacts implements ArtifactProducer.
func (r PlotResult) Artifacts() []string { return []string{r.Path} }

// NewRenderPlot exposes a plot.Renderer as the render_plot tool. Rendered
// charts are saved in store under the run identifier carried by the context
// and the stored location is returned as the artifact path.
func NewRenderPlot(r plot.Renderer, store core.ArtifactStore) *FunctionTool {
	kinds := make([]string, len(plot.Kinds))
	for i, k := range plot.Kinds {
		kinds[i] = string(k)
	}

	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"kind": map[string]any{
				"type":        "string",
				"enum":        kinds,
				"description": "Chart type.",
			},
			"data": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "number"},
				"minItems":    1,
				"description": "One numeric value per label.",
			},
			"labels": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"minItems":    1,
				"description": "Category labels, same length as data.",
			},
			"title": map[string]any{
				"type":        "string",
				"description": "Optional chart title.",
			},
		},
		"required":             []string{"kind", "data", "labels"},
		"additionalProperties": false,
	}

	return NewFunctionTool(
		RenderPlotName,
		"Render a chart (bar, line, scatter or pie) from numeric data and labels. Returns the path of the stored chart artifact.",
		params,
		func(ctx context.Context, args map[string]any) (any, error) {
			spec, err := decodeSpec(args)
			if err != nil {
				return nil, &ToolError{Tool: RenderPlotName, Message: err.Error(), Code: ClassInvalidArguments, Err: err}
			}
			if err := spec.Validate(); err != nil {
				return nil, &ToolError{Tool: RenderPlotName, Message: err.Error(), Code: ClassInvalidArguments, Err: err}
			}

			art, err := r.Render(ctx, spec)
			if err != nil {
				if errors.Is(err, plot.ErrInvalidSpec) {
					return nil, &ToolError{Tool: RenderPlotName, Message: err.Error(), Code: ClassInvalidArguments, Err: err}
				}
				return nil, err
			}

			runID := core.RunIDFromContext(ctx)
			if runID == "" {
				runID = "default"
			}
			name := fmt.Sprintf("%s-%s.%s", spec.Kind, core.NewID()[:8], art.Extension)
			path, err := store.Save(runID, name, art.Data)
			if err != nil {
				return nil, fmt.Errorf("store chart: %w", err)
			}

			return PlotResult{Path: path, Kind: spec.Kind, Points: len(spec.Data), Title: spec.Title}, nil
		},
	)
}

func decodeSpec(args map[string]any) (plot.Spec, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return plot.Spec{}, err
	}
	var spec plot.Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return plot.Spec{}, fmt.Errorf("decode plot arguments: %w", err)
	}
	spec.Kind = plot.Kind(strings.ToLower(string(spec.Kind)))
	return spec, nil
}
