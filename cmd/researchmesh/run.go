package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "run <task...>",
		Short: "Run a single research task and print its report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			report, err := mesh.Run(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}

			printStatus(cmd.ErrOrStderr(), report)
			return writeOutput(cmd.OutOrStdout(), cli.format, cli.view(report))
		},
	}
}
