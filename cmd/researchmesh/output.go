package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/researchmesh/core"
)

type batchEntry struct {
	Task   string            `json:"task" yaml:"task"`
	Report *core.FinalReport `json:"report,omitempty" yaml:"report,omitempty"`
	Error  string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// view drops the transcript unless --transcript was given.
func (cli *CLI) view(r core.FinalReport) core.FinalReport {
	if !cli.transcript {
		r.Transcript = nil
	}
	return r
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func printStatus(w io.Writer, r core.FinalReport) {
	status := string(r.Status)
	switch r.Status {
	case core.StatusCompleted:
		status = green(status)
	case core.StatusStalled, core.StatusResourceExhausted:
		status = yellow(status)
	default:
		status = red(status)
	}
	fmt.Fprintf(w, "%s %s %s\n", status, gray(fmt.Sprintf("run=%s rounds=%d", r.RunID, r.Rounds)), r.Reason)
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "  %s %s\n", yellow("warning:"), warning)
	}
}
