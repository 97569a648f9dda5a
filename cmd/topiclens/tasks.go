package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/topiclens/topiclens/internal/client"
)

func newTasksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and control background tasks",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:           "list",
			Short:         "List known tasks",
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          listTasks,
		},
		&cobra.Command{
			Use:           "progress [task-id]",
			Short:         "Show one task's progress",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          taskProgress,
		},
		&cobra.Command{
			Use:           "cancel [task-id]",
			Short:         "Request cooperative cancellation of a task",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          cancelTask,
		},
		&cobra.Command{
			Use:           "reap [task-id]",
			Short:         "Discard a finished task's record and results",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          reapTask,
		},
	)
	return cmd
}

func listTasks(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		list, err := c.ListTasks(ctx)
		if err != nil {
			return err
		}
		if formatter.jsonMode {
			return formatter.Print(list)
		}
		if len(list) == 0 {
			fmt.Println("No tasks")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tSTATE\tPROGRESS\tMESSAGE")
		for _, p := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n", p.TaskID, p.Kind, p.State, p.Current, p.Total, p.Message)
		}
		return w.Flush()
	})
}

func taskProgress(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		p, err := c.TaskProgress(ctx, args[0])
		if err != nil {
			return err
		}
		return formatter.Print(p)
	})
}

func cancelTask(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if err := c.CancelTask(ctx, args[0]); err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("Cancel requested for task %s", args[0]))
	})
}

func reapTask(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if err := c.ReapTask(ctx, args[0]); err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("Reaped task %s", args[0]))
	})
}

func newDecodeCommand() *cobra.Command {
	var connID int64
	var kind, input string
	var rawBase64 bool
	cmd := &cobra.Command{
		Use:           "decode",
		Short:         "Render raw bytes with a named decoder",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newOutputFormatter(cmd)
			data := []byte(input)
			if rawBase64 {
				decoded, err := base64.StdEncoding.DecodeString(input)
				if err != nil {
					return fmt.Errorf("invalid base64 input: %w", err)
				}
				data = decoded
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				text, err := c.Decode(ctx, connID, kind, data)
				if err != nil {
					return err
				}
				return formatter.Print(text)
			})
		},
	}
	cmd.Flags().Int64Var(&connID, "connection", 0, "Connection ID (only needed for schema-based decoders)")
	cmd.Flags().StringVar(&kind, "kind", "string", "Decoder kind (string, hex, json, int64, avro, ...)")
	cmd.Flags().StringVar(&input, "data", "", "Input bytes (UTF-8, or base64 with --base64)")
	cmd.Flags().BoolVar(&rawBase64, "base64", false, "Treat --data as base64-encoded bytes")
	return cmd
}
