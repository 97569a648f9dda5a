package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/topiclens/topiclens/internal/client"
)

func newZKCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zk",
		Short: "Browse and edit ZooKeeper znodes",
	}

	var connID int64
	cmd.PersistentFlags().Int64Var(&connID, "connection", 0, "Connection ID (required)")
	cmd.MarkPersistentFlagRequired("connection")

	var setVersion int32
	setCmd := &cobra.Command{
		Use:           "set [path] [data]",
		Short:         "Write znode data",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newOutputFormatter(cmd)
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.ZKSet(ctx, connID, args[0], []byte(args[1]), setVersion); err != nil {
					return err
				}
				return formatter.Success(fmt.Sprintf("Updated %s", args[0]))
			})
		},
	}
	setCmd.Flags().Int32Var(&setVersion, "expect-version", -1, "Expected data version (-1 skips the check)")

	var ephemeral, sequential bool
	createCmd := &cobra.Command{
		Use:           "create [path] [data]",
		Short:         "Create a znode",
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newOutputFormatter(cmd)
			var data []byte
			if len(args) == 2 {
				data = []byte(args[1])
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				created, err := c.ZKCreate(ctx, connID, args[0], data, ephemeral, sequential)
				if err != nil {
					return err
				}
				return formatter.Success(fmt.Sprintf("Created %s", created))
			})
		},
	}
	createCmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "Create an ephemeral node")
	createCmd.Flags().BoolVar(&sequential, "sequential", false, "Create a sequential node")

	var deleteVersion int32
	deleteCmd := &cobra.Command{
		Use:           "delete [path]",
		Short:         "Delete a znode",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newOutputFormatter(cmd)
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.ZKDelete(ctx, connID, args[0], deleteVersion); err != nil {
					return err
				}
				return formatter.Success(fmt.Sprintf("Deleted %s", args[0]))
			})
		},
	}
	deleteCmd.Flags().Int32Var(&deleteVersion, "expect-version", -1, "Expected data version (-1 skips the check)")

	cmd.AddCommand(
		&cobra.Command{
			Use:           "ls [path]",
			Short:         "List children of a znode",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return zkChildren(cmd, connID, args[0])
			},
		},
		&cobra.Command{
			Use:           "get [path]",
			Short:         "Show a znode's data, stat and ACLs",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return zkGet(cmd, connID, args[0])
			},
		},
		setCmd,
		createCmd,
		deleteCmd,
	)
	return cmd
}

func zkChildren(cmd *cobra.Command, connID int64, path string) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		children, err := c.ZKChildren(ctx, connID, path)
		if err != nil {
			return err
		}
		if formatter.jsonMode {
			return formatter.Print(children)
		}
		for _, child := range children {
			fmt.Println(child)
		}
		return nil
	})
}

func zkGet(cmd *cobra.Command, connID int64, path string) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		node, err := c.ZKGet(ctx, connID, path)
		if err != nil {
			return err
		}
		if formatter.jsonMode {
			return formatter.Print(node)
		}

		fmt.Printf("Path: %s\n", node.Path)
		if len(node.Data) > 0 {
			fmt.Printf("Data:\n%s\n", node.Data)
		}
		fmt.Printf("Version: %d  Children: %d  Ephemeral owner: %#x\n",
			node.Stat.Version, node.Stat.NumChildren, node.Stat.EphemeralOwner)
		for _, acl := range node.ACLs {
			fmt.Fprintf(os.Stdout, "ACL: %s:%s %v\n", acl.Scheme, acl.ID, acl.Permissions)
		}
		return nil
	})
}
