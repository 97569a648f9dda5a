package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/topiclens/topiclens/internal/client"
	"github.com/topiclens/topiclens/internal/version"
)

func newDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Inspect and control the background daemon",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:           "status",
			Short:         "Show daemon status",
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          daemonStatus,
		},
		&cobra.Command{
			Use:           "stop",
			Short:         "Stop the daemon",
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          daemonStop,
		},
	)
	return cmd
}

func daemonStatus(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		info, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if warning := version.CheckVersionMismatch(info.Version); warning != "" {
			fmt.Fprintln(os.Stderr, warning)
		}
		if formatter.jsonMode {
			return formatter.Print(info)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Version:\t%s\n", version.FormatVersion(info.Version))
		fmt.Fprintf(w, "PID:\t%d\n", info.PID)
		fmt.Fprintf(w, "Started:\t%s\n", info.StartedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "Connections:\t%d\n", info.Connections)
		fmt.Fprintf(w, "Tasks:\t%d\n", info.Tasks)
		return w.Flush()
	})
}

func daemonStop(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if err := c.Shutdown(ctx); err != nil {
			return err
		}
		return formatter.Success("Daemon shutting down")
	})
}
