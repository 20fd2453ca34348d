package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"morph/internal/ipc"
	"morph/internal/logging"
	"morph/internal/stream"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var groups []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live conversion events",
		Long: "Watch subscribes to the daemon event stream and prints events as they\n" +
			"arrive. Without --group it receives the firehose; pass --group task:<id>\n" +
			"or --group user:<id> to narrow the subscription.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			base, err := ctx.apiBaseURL()
			if err != nil {
				return err
			}
			wsURL := "ws" + strings.TrimPrefix(base, "http") + "/api/events"

			out := cmd.OutOrStdout()
			client, err := stream.NewClient(stream.ClientOptions{
				URL: wsURL,
				Resync: func(context.Context) error {
					return ctx.withClient(func(ipcClient *ipc.Client) error {
						resp, err := ipcClient.TaskList(true)
						if err != nil {
							return err
						}
						fmt.Fprintf(out, "-- connected, %d active task(s) --\n", len(resp.Tasks))
						for _, t := range resp.Tasks {
							fmt.Fprintf(out, "   %s  %s  %s %d%%\n",
								t.ID, t.Name, statusLabel(t.Status), t.Progress)
						}
						return nil
					})
				},
				ReconnectInterval:    time.Duration(cfg.Stream.ReconnectInterval) * time.Second,
				ReconnectMaxInterval: time.Duration(cfg.Stream.ReconnectMaxInterval) * time.Second,
				ReconnectMaxAttempts: cfg.Stream.ReconnectMaxAttempts,
				Logger:               logging.NewNop(),
			})
			if err != nil {
				return err
			}
			for _, group := range groups {
				if err := client.Join(group); err != nil {
					return err
				}
			}

			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- client.Run(runCtx) }()

			for event := range client.Events() {
				printEvent(out, event)
			}

			err = <-done
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringArrayVar(&groups, "group", nil, "Group to subscribe to (repeatable), e.g. task:<id>")
	return cmd
}

func printEvent(out io.Writer, event stream.Envelope) {
	timestamp := event.Timestamp.Local().Format("15:04:05")
	line := fmt.Sprintf("%s  %-22s", timestamp, event.Type)
	if event.TaskID != "" {
		line += "  " + event.TaskID
	}
	if len(event.Payload) > 0 {
		line += "  " + string(event.Payload)
	}
	fmt.Fprintln(out, line)
}
