package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/topiclens/topiclens/internal/client"
	"github.com/topiclens/topiclens/internal/protocol"
)

func newGroupsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Browse consumer groups and manage committed offsets",
	}

	var connID int64
	cmd.PersistentFlags().Int64Var(&connID, "connection", 0, "Connection ID (required)")
	cmd.MarkPersistentFlagRequired("connection")

	var commits []string
	commitCmd := &cobra.Command{
		Use:           "commit [group-id]",
		Short:         "Commit new offsets for a group (group must be empty)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return commitGroupOffsets(cmd, connID, args[0], commits)
		},
	}
	commitCmd.Flags().StringSliceVar(&commits, "offset", nil, "Offset to commit as topic:partition:offset (repeatable)")
	commitCmd.MarkFlagRequired("offset")

	cmd.AddCommand(
		&cobra.Command{
			Use:           "list",
			Short:         "List consumer groups",
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return listGroups(cmd, connID)
			},
		},
		&cobra.Command{
			Use:           "describe [group-id]",
			Short:         "Show members and assignments of a group",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return describeGroup(cmd, connID, args[0])
			},
		},
		&cobra.Command{
			Use:           "offsets [group-id]",
			Short:         "Show committed offsets and lag per partition",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return groupOffsets(cmd, connID, args[0])
			},
		},
		commitCmd,
	)
	return cmd
}

func listGroups(cmd *cobra.Command, connID int64) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		groups, err := c.ListGroups(ctx, connID)
		if err != nil {
			return err
		}
		if formatter.jsonMode {
			return formatter.Print(groups)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "GROUP\tSTATE\tPROTOCOL TYPE\tCOORDINATOR")
		for _, g := range groups {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", g.GroupID, g.State, g.ProtocolType, g.Coordinator)
		}
		return w.Flush()
	})
}

func describeGroup(cmd *cobra.Command, connID int64, groupID string) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		detail, err := c.DescribeGroup(ctx, connID, groupID)
		if err != nil {
			return err
		}
		if formatter.jsonMode {
			return formatter.Print(detail)
		}

		fmt.Printf("Group:    %s\nState:    %s\nProtocol: %s/%s\n\n",
			detail.GroupID, detail.State, detail.ProtocolType, detail.Protocol)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MEMBER\tCLIENT\tHOST\tASSIGNED")
		for _, m := range detail.Members {
			assigned := make([]string, len(m.Assigned))
			for i, tp := range m.Assigned {
				assigned[i] = fmt.Sprintf("%s/%d", tp.Topic, tp.Partition)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.MemberID, m.ClientID, m.ClientHost, strings.Join(assigned, " "))
		}
		return w.Flush()
	})
}

func groupOffsets(cmd *cobra.Command, connID int64, groupID string) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		offsets, err := c.GroupOffsets(ctx, connID, groupID)
		if err != nil {
			return err
		}
		if formatter.jsonMode {
			return formatter.Print(offsets)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TOPIC\tPARTITION\tCOMMITTED\tEND\tLAG")
		for _, o := range offsets {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", o.Topic, o.Partition, o.Committed, o.End, o.Lag)
		}
		return w.Flush()
	})
}

func commitGroupOffsets(cmd *cobra.Command, connID int64, groupID string, specs []string) error {
	formatter := newOutputFormatter(cmd)
	offsets := make([]protocol.CommitOffset, 0, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) != 3 {
			return fmt.Errorf("invalid --offset entry %q (want topic:partition:offset)", spec)
		}
		partition, err := strconv.ParseInt(parts[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid partition in %q", spec)
		}
		offset, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid offset in %q", spec)
		}
		offsets = append(offsets, protocol.CommitOffset{
			Topic:     parts[0],
			Partition: int32(partition),
			Offset:    offset,
		})
	}

	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		err := c.CommitOffsets(ctx, protocol.CommitOffsetsRequest{
			ConnectionID: connID,
			GroupID:      groupID,
			Offsets:      offsets,
		})
		if err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("Committed %d offset(s) for group %s", len(offsets), groupID))
	})
}
