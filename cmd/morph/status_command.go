package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"morph/internal/ipc"
)

const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				state := "stopped"
				color := ansiYellow
				if status.Running {
					state = "running"
					color = ansiGreen
				}
				if colorize {
					state = color + state + ansiReset
				}
				fmt.Fprintf(out, "Daemon:  %s (pid %d)\n", state, status.PID)
				fmt.Fprintf(out, "API:     %s\n", status.APIBind)
				fmt.Fprintf(out, "DB:      %s\n", status.DBPath)
				fmt.Fprintf(out, "Lock:    %s\n", status.LockPath)

				if len(status.TaskStats) > 0 {
					parts := make([]string, 0, len(status.TaskStats))
					for name, count := range status.TaskStats {
						parts = append(parts, fmt.Sprintf("%s %d", statusLabel(name), count))
					}
					sort.Strings(parts)
					fmt.Fprintf(out, "Tasks:   %s\n", strings.Join(parts, ", "))
				}
				return nil
			})
		},
	}
}
