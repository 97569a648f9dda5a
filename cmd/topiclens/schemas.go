package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/topiclens/topiclens/internal/client"
)

func newSchemasCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "Browse and manage schema registry subjects",
	}

	var connID int64
	cmd.PersistentFlags().Int64Var(&connID, "connection", 0, "Connection ID (required)")
	cmd.MarkPersistentFlagRequired("connection")

	var getVersion int
	getCmd := &cobra.Command{
		Use:           "get [subject]",
		Short:         "Show a schema version of a subject",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getSchema(cmd, connID, args[0], getVersion)
		},
	}
	getCmd.Flags().IntVar(&getVersion, "schema-version", 0, "Version to fetch (0 means latest)")

	cmd.AddCommand(
		&cobra.Command{
			Use:           "subjects",
			Short:         "List registered subjects",
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return listSubjects(cmd, connID)
			},
		},
		&cobra.Command{
			Use:           "versions [subject]",
			Short:         "List versions of a subject",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return subjectVersions(cmd, connID, args[0])
			},
		},
		getCmd,
		&cobra.Command{
			Use:           "register [subject] [schema-file]",
			Short:         "Register a new Avro schema version",
			Args:          cobra.ExactArgs(2),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return registerSchema(cmd, connID, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:           "check [subject] [schema-file]",
			Short:         "Check a schema for compatibility with the latest version",
			Args:          cobra.ExactArgs(2),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return checkCompatibility(cmd, connID, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:           "delete-subject [subject]",
			Short:         "Soft-delete a subject and all its versions",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return deleteSubject(cmd, connID, args[0])
			},
		},
	)
	return cmd
}

func listSubjects(cmd *cobra.Command, connID int64) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		subjects, err := c.ListSubjects(ctx, connID)
		if err != nil {
			return err
		}
		if formatter.jsonMode {
			return formatter.Print(subjects)
		}
		for _, subject := range subjects {
			fmt.Println(subject)
		}
		return nil
	})
}

func subjectVersions(cmd *cobra.Command, connID int64, subject string) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		versions, err := c.SubjectVersions(ctx, connID, subject)
		if err != nil {
			return err
		}
		if formatter.jsonMode {
			return formatter.Print(versions)
		}
		for _, v := range versions {
			fmt.Println(v)
		}
		return nil
	})
}

func getSchema(cmd *cobra.Command, connID int64, subject string, version int) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		schema, err := c.GetSchema(ctx, connID, subject, version)
		if err != nil {
			return err
		}
		if formatter.jsonMode {
			return formatter.Print(schema)
		}
		fmt.Printf("Subject: %s\nVersion: %d\nID:      %d\nType:    %s\n\n%s\n",
			schema.Subject, schema.Version, schema.ID, schema.Type, schema.Schema)
		return nil
	})
}

func registerSchema(cmd *cobra.Command, connID int64, subject, schemaFile string) error {
	formatter := newOutputFormatter(cmd)
	schema, err := os.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		registered, err := c.RegisterSchema(ctx, connID, subject, string(schema))
		if err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("Registered %s version %d (id %d)",
			registered.Subject, registered.Version, registered.ID))
	})
}

func checkCompatibility(cmd *cobra.Command, connID int64, subject, schemaFile string) error {
	formatter := newOutputFormatter(cmd)
	schema, err := os.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		result, err := c.CheckCompatibility(ctx, connID, subject, string(schema))
		if err != nil {
			return err
		}
		if formatter.jsonMode {
			return formatter.Print(result)
		}
		if result.Compatible {
			fmt.Println("Compatible")
			return nil
		}
		fmt.Println("NOT compatible")
		for _, msg := range result.Messages {
			fmt.Printf("  %s\n", msg)
		}
		return nil
	})
}

func deleteSubject(cmd *cobra.Command, connID int64, subject string) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		versions, err := c.DeleteSubject(ctx, connID, subject)
		if err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("Deleted subject %s (%d version(s))", subject, len(versions)))
	})
}
