package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRolesCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "Print the team roster and each agent's tool allow-list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cli.loadConfig()
			if err != nil {
				return err
			}

			mesh, stop, err := cli.newMesh(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer stop()

			out := cmd.OutOrStdout()
			for _, r := range mesh.Roles() {
				tools := "none"
				if len(r.AllowedTools) > 0 {
					tools = strings.Join(r.AllowedTools, ", ")
				}
				fmt.Fprintf(out, "%s\n  %s\n  tools: %s\n", bold(r.ID), gray(r.Description), tools)
			}

			return nil
		},
	}
}
