package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"morph/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			}

			if err := config.WriteSample(target); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Edit the paths and converter command before starting morphd.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Source dir:     %s\n", cfg.Paths.SourceDir)
			fmt.Fprintf(out, "Output dir:     %s\n", cfg.Paths.OutputDir)
			fmt.Fprintf(out, "Temp dir:       %s\n", cfg.Paths.TempDir)
			fmt.Fprintf(out, "Log dir:        %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "API bind:       %s\n", cfg.Paths.APIBind)
			fmt.Fprintf(out, "Socket:         %s\n", cfg.Paths.SocketPath)
			fmt.Fprintf(out, "Converter:      %s\n", cfg.Converter.Command)
			fmt.Fprintf(out, "Concurrency:    %d\n", cfg.Converter.MaxConcurrent)
			fmt.Fprintf(out, "Space budget:   %s total, %s reserved (enabled: %s)\n",
				humanBytes(cfg.MaxTotalBytes()), humanBytes(cfg.ReservedBytes()), yesNo(cfg.Space.Enabled))
			return nil
		},
	}
}
