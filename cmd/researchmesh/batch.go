package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newBatchCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <file>",
		Short: "Run one task per line of a file in parallel",
		Long: `Run every non-empty line of <file> as an independent task. Lines starting
with # are ignored. Use "-" to read tasks from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := readTasks(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				return fmt.Errorf("no tasks in %s", args[0])
			}

			cfg, err := cli.loadConfig()
			if err != nil {
				return err
			}

			mesh, stop, err := cli.newMesh(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer stop()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			results := mesh.RunAll(ctx, tasks)

			out := make([]batchEntry, len(results))
			for i, res := range results {
				entry := batchEntry{Task: res.Task}
				if res.Err != nil {
					entry.Error = res.Err.Error()
					fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", red("failed"), gray(res.Task))
				} else {
					view := cli.view(res.Report)
					entry.Report = &view
					printStatus(cmd.ErrOrStderr(), res.Report)
				}
				out[i] = entry
			}

			return writeOutput(cmd.OutOrStdout(), cli.format, out)
		},
	}
}

func readTasks(path string, stdin io.Reader) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open tasks: %w", err)
		}
		defer f.Close()
		r = f
	}

	var tasks []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tasks = append(tasks, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}

	return tasks, nil
}
