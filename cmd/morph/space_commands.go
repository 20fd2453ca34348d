package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"morph/internal/ipc"
)

func newSpaceCommand(ctx *commandContext) *cobra.Command {
	spaceCmd := &cobra.Command{
		Use:   "space",
		Short: "Inspect the disk budget and usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SpaceStatus()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Budget:     %s total, %s reserved (enabled: %s)\n",
					humanBytes(resp.Budget.TotalBytes),
					humanBytes(resp.Budget.ReservedBytes),
					yesNo(resp.Budget.Enabled))
				fmt.Fprintf(out, "Used:       %s (%.1f%%)\n",
					humanBytes(resp.Snapshot.UsedBytes), resp.Snapshot.PercentUsed)
				fmt.Fprintf(out, "Available:  %s\n", humanBytes(resp.Snapshot.AvailableBytes))
				fmt.Fprintf(out, "Disk free:  %s\n", humanBytes(resp.Snapshot.FSFreeBytes))
				if resp.Snapshot.Stale {
					fmt.Fprintln(out, "Note: usage snapshot is stale; the last refresh failed")
				}
				return nil
			})
		},
	}

	spaceCmd.AddCommand(newSpaceCheckCommand(ctx))
	spaceCmd.AddCommand(newSpaceConfigCommand(ctx))
	return spaceCmd
}

func newSpaceCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check <bytes>",
		Short: "Ask whether the given number of additional bytes would fit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			required, err := parseBytes(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SpaceCheck(required)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				result := resp.Result
				if result.HasEnoughSpace {
					fmt.Fprintf(out, "OK: %s fits (%s available)\n",
						humanBytes(result.RequiredBytes), humanBytes(result.AvailableBytes))
					return nil
				}
				fmt.Fprintf(out, "Insufficient: need %s, only %s available\n",
					humanBytes(result.RequiredBytes), humanBytes(result.AvailableBytes))
				if result.Message != "" {
					fmt.Fprintf(out, "Detail: %s\n", result.Message)
				}
				return nil
			})
		},
	}
}

func newSpaceConfigCommand(ctx *commandContext) *cobra.Command {
	var (
		totalFlag    string
		reservedFlag string
		disabled     bool
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Replace the disk budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if totalFlag == "" {
				return fmt.Errorf("--total is required")
			}
			total, err := parseBytes(totalFlag)
			if err != nil {
				return fmt.Errorf("--total: %w", err)
			}
			var reserved int64
			if reservedFlag != "" {
				reserved, err = parseBytes(reservedFlag)
				if err != nil {
					return fmt.Errorf("--reserved: %w", err)
				}
			}

			budget, err := putSpaceConfig(ctx, total, reserved, !disabled)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Budget set: %s total, %s reserved (enabled: %s)\n",
				humanBytes(budget.TotalBytes), humanBytes(budget.ReservedBytes), yesNo(budget.Enabled))
			return nil
		},
	}

	cmd.Flags().StringVar(&totalFlag, "total", "", "Total byte budget, e.g. 500GiB")
	cmd.Flags().StringVar(&reservedFlag, "reserved", "", "Bytes held back from the budget")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Disable space enforcement")
	return cmd
}
