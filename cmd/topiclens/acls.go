package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/topiclens/topiclens/internal/client"
	"github.com/topiclens/topiclens/internal/kafka"
)

func newACLsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acls",
		Short: "Browse and manage cluster ACLs",
	}

	var connID int64
	cmd.PersistentFlags().Int64Var(&connID, "connection", 0, "Connection ID (required)")
	cmd.MarkPersistentFlagRequired("connection")

	createFlags := &aclFlags{}
	createCmd := &cobra.Command{
		Use:           "create",
		Short:         "Create an ACL binding",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeACL(cmd, connID, createFlags, true)
		},
	}
	createFlags.register(createCmd)

	deleteFlags := &aclFlags{}
	deleteCmd := &cobra.Command{
		Use:           "delete",
		Short:         "Delete matching ACL bindings",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeACL(cmd, connID, deleteFlags, false)
		},
	}
	deleteFlags.register(deleteCmd)

	cmd.AddCommand(
		&cobra.Command{
			Use:           "list",
			Short:         "List ACL bindings",
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return listACLs(cmd, connID)
			},
		},
		createCmd,
		deleteCmd,
	)
	return cmd
}

type aclFlags struct {
	resourceType string
	resourceName string
	patternType  string
	principal    string
	host         string
	operation    string
	permission   string
}

func (f *aclFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.resourceType, "resource-type", "topic", "Resource type: topic, group, cluster or transactional_id")
	cmd.Flags().StringVar(&f.resourceName, "resource-name", "", "Resource name")
	cmd.Flags().StringVar(&f.patternType, "pattern", "literal", "Resource pattern: literal or prefixed")
	cmd.Flags().StringVar(&f.principal, "principal", "", "Principal, e.g. User:alice (required)")
	cmd.Flags().StringVar(&f.host, "host", "*", "Host the rule applies to")
	cmd.Flags().StringVar(&f.operation, "operation", "", "Operation: read, write, create, delete, alter, describe, all, ... (required)")
	cmd.Flags().StringVar(&f.permission, "permission", "allow", "Permission: allow or deny")
	cmd.MarkFlagRequired("principal")
	cmd.MarkFlagRequired("operation")
}

func (f *aclFlags) toACL() kafka.ACL {
	return kafka.ACL{
		ResourceType: f.resourceType,
		ResourceName: f.resourceName,
		PatternType:  f.patternType,
		Principal:    f.principal,
		Host:         f.host,
		Operation:    f.operation,
		Permission:   f.permission,
	}
}

func listACLs(cmd *cobra.Command, connID int64) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		acls, err := c.ListACLs(ctx, connID)
		if err != nil {
			return err
		}
		if formatter.jsonMode {
			return formatter.Print(acls)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RESOURCE\tNAME\tPATTERN\tPRINCIPAL\tHOST\tOPERATION\tPERMISSION")
		for _, a := range acls {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				a.ResourceType, a.ResourceName, a.PatternType, a.Principal, a.Host, a.Operation, a.Permission)
		}
		return w.Flush()
	})
}

func writeACL(cmd *cobra.Command, connID int64, flags *aclFlags, create bool) error {
	formatter := newOutputFormatter(cmd)
	acl := flags.toACL()
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if create {
			if err := c.CreateACL(ctx, connID, acl); err != nil {
				return err
			}
			return formatter.Success("ACL created")
		}
		if err := c.DeleteACL(ctx, connID, acl); err != nil {
			return err
		}
		return formatter.Success("ACL(s) deleted")
	})
}
