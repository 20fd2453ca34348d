package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"morph/internal/api"
	"morph/internal/ipc"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and manage conversion tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	taskCmd.AddCommand(newTaskListCommand(ctx))
	taskCmd.AddCommand(newTaskShowCommand(ctx))
	taskCmd.AddCommand(newTaskAddCommand(ctx))
	taskCmd.AddCommand(newTaskStopCommand(ctx))
	taskCmd.AddCommand(newTaskRemoveCommand(ctx))
	return taskCmd
}

func newTaskListCommand(ctx *commandContext) *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversion tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TaskList(activeOnly)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Tasks) == 0 {
					fmt.Fprintln(out, "No tasks.")
					return nil
				}

				rows := make([][]string, 0, len(resp.Tasks))
				for _, t := range resp.Tasks {
					rows = append(rows, []string{
						t.ID,
						t.Name,
						statusLabel(t.Status),
						fmt.Sprintf("%d%%", t.Progress),
						humanBytes(t.SourceSize),
						t.Speed,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Name", "Status", "Progress", "Source", "Speed"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only show pending and converting tasks")
	return cmd
}

func newTaskShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show the full detail of one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TaskDescribe(args[0])
				if err != nil {
					return err
				}
				printTaskDetail(cmd, resp.Task)
				return nil
			})
		},
	}
}

func printTaskDetail(cmd *cobra.Command, t ipc.TaskSnapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:          %s\n", t.ID)
	fmt.Fprintf(out, "Name:        %s\n", t.Name)
	if t.OwnerID != "" {
		fmt.Fprintf(out, "Owner:       %s\n", t.OwnerID)
	}
	fmt.Fprintf(out, "Status:      %s\n", statusLabel(t.Status))
	fmt.Fprintf(out, "Progress:    %d%%\n", t.Progress)
	if t.Speed != "" {
		fmt.Fprintf(out, "Speed:       %s\n", t.Speed)
	}
	if t.ETA != "" {
		fmt.Fprintf(out, "ETA:         %s\n", t.ETA)
	}
	fmt.Fprintf(out, "Source:      %s (%s)\n", t.SourcePath, humanBytes(t.SourceSize))
	if t.Parameters.Format != "" || t.Parameters.Codec != "" || t.Parameters.Quality != "" {
		fmt.Fprintf(out, "Parameters:  format=%s codec=%s quality=%s\n",
			t.Parameters.Format, t.Parameters.Codec, t.Parameters.Quality)
	}
	if t.OutputPath != "" {
		fmt.Fprintf(out, "Output:      %s\n", t.OutputPath)
	}
	if t.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:       %s\n", t.ErrorMessage)
	}
	if t.RetryCount > 0 {
		fmt.Fprintf(out, "Retries:     %d of %d\n", t.RetryCount, t.MaxRetries)
	}
	if t.CreatedAt != "" {
		fmt.Fprintf(out, "Created:     %s\n", t.CreatedAt)
	}
	if t.StartedAt != "" {
		fmt.Fprintf(out, "Started:     %s\n", t.StartedAt)
	}
	if t.CompletedAt != "" {
		fmt.Fprintf(out, "Completed:   %s\n", t.CompletedAt)
	}
}

func newTaskAddCommand(ctx *commandContext) *cobra.Command {
	var (
		name       string
		owner      string
		format     string
		codec      string
		quality    string
		sizeFlag   string
		maxRetries int
	)

	cmd := &cobra.Command{
		Use:   "add <source-path>",
		Short: "Submit a file for conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourcePath := args[0]

			var sourceSize int64
			if sizeFlag != "" {
				parsed, err := parseBytes(sizeFlag)
				if err != nil {
					return err
				}
				sourceSize = parsed
			} else {
				info, err := os.Stat(sourcePath)
				if err != nil {
					return fmt.Errorf("inspect source %q (pass --size when the file is remote): %w", sourcePath, err)
				}
				sourceSize = info.Size()
			}
			if name == "" {
				name = filepath.Base(sourcePath)
			}

			req := api.StartTaskRequest{
				Name:       name,
				OwnerID:    owner,
				SourcePath: sourcePath,
				SourceSize: sourceSize,
				Parameters: api.TaskParams{Format: format, Codec: codec, Quality: quality},
				MaxRetries: maxRetries,
			}
			resp, err := postTask(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created task %s for %s (%s)\n",
				resp.TaskID, name, humanBytes(sourceSize))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the file name)")
	cmd.Flags().StringVar(&owner, "owner", "", "Owning user id")
	cmd.Flags().StringVar(&format, "format", "", "Target container format")
	cmd.Flags().StringVar(&codec, "codec", "", "Target video codec")
	cmd.Flags().StringVar(&quality, "quality", "", "Quality preset")
	cmd.Flags().StringVar(&sizeFlag, "size", "", "Source size when the file is not readable locally, e.g. 700MiB")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Override the retry limit for this task")
	return cmd
}

// postTask submits the task over the HTTP API; creation is not exposed on the
// control socket.
func postTask(ctx *commandContext, req api.StartTaskRequest) (*api.StartTaskResponse, error) {
	base, err := ctx.apiBaseURL()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(base+"/api/tasks", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("submit task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var failure api.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&failure); decodeErr == nil && failure.Error.Message != "" {
			return nil, fmt.Errorf("submit task: %s", failure.Error.Message)
		}
		return nil, fmt.Errorf("submit task: unexpected status %s", resp.Status)
	}

	var created api.StartTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &created, nil
}

func newTaskStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <task-id>",
		Short: "Cancel a pending or converting task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TaskStop(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s is now %s\n",
					resp.Task.ID, statusLabel(resp.Task.Status))
				return nil
			})
		},
	}
}

func newTaskRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <task-id>",
		Aliases: []string{"remove"},
		Short:   "Delete a task record",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TaskRemove(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n",
					yesNo(resp.Removed))
				return nil
			})
		},
	}
}
