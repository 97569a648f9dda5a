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
	"github.com/topiclens/topiclens/internal/cluster"
	"github.com/topiclens/topiclens/internal/config/secret"
	"github.com/topiclens/topiclens/internal/kafka"
)

type connectionFlags struct {
	name           string
	bootstrap      []string
	security       string
	mechanism      string
	username       string
	password       string
	tlsSkipVerify  bool
	zkHosts        []string
	zkChroot       string
	schemaRegistry string
	srUsername     string
	srPassword     string
}

func (f *connectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Connection name")
	cmd.Flags().StringSliceVar(&f.bootstrap, "bootstrap", nil, "Bootstrap servers (host:port, repeatable)")
	cmd.Flags().StringVar(&f.security, "security", string(kafka.SecurityPlaintext), "Security mode: PLAINTEXT, SSL, SASL_PLAINTEXT or SASL_SSL")
	cmd.Flags().StringVar(&f.mechanism, "sasl-mechanism", "", "SASL mechanism: PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512")
	cmd.Flags().StringVar(&f.username, "sasl-username", "", "SASL username")
	cmd.Flags().StringVar(&f.password, "sasl-password", "", "SASL password")
	cmd.Flags().BoolVar(&f.tlsSkipVerify, "tls-skip-verify", false, "Skip TLS certificate verification")
	cmd.Flags().StringSliceVar(&f.zkHosts, "zk", nil, "ZooKeeper hosts (host:port, repeatable)")
	cmd.Flags().StringVar(&f.zkChroot, "zk-chroot", "", "ZooKeeper chroot path")
	cmd.Flags().StringVar(&f.schemaRegistry, "schema-registry", "", "Schema registry endpoint URL")
	cmd.Flags().StringVar(&f.srUsername, "schema-registry-username", "", "Schema registry basic auth username")
	cmd.Flags().StringVar(&f.srPassword, "schema-registry-password", "", "Schema registry basic auth password")
}

// toConnection builds a ServerConnection, encoding credentials before they
// leave the process.
func (f *connectionFlags) toConnection() (cluster.ServerConnection, error) {
	conn := cluster.ServerConnection{
		Name:               f.name,
		BootstrapServers:   f.bootstrap,
		Security:           kafka.SecurityMode(strings.ToUpper(f.security)),
		SASLMechanism:      kafka.SASLMechanism(f.mechanism),
		SASLUsername:       f.username,
		TLSSkipVerify:      f.tlsSkipVerify,
		ZKHosts:            f.zkHosts,
		ZKChroot:           f.zkChroot,
		SchemaRegistryURL:  f.schemaRegistry,
		SchemaRegistryUser: f.srUsername,
	}
	if f.password != "" {
		enc, err := secret.Encrypt(f.password)
		if err != nil {
			return conn, fmt.Errorf("encode SASL password: %w", err)
		}
		conn.SASLPasswordEnc = enc
	}
	if f.srPassword != "" {
		enc, err := secret.Encrypt(f.srPassword)
		if err != nil {
			return conn, fmt.Errorf("encode schema registry password: %w", err)
		}
		conn.SchemaRegistryPassEnc = enc
	}
	return conn, nil
}

func newConnectionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connections",
		Aliases: []string{"conn"},
		Short:   "Manage configured server connections",
	}

	addFlags := &connectionFlags{}
	addCmd := &cobra.Command{
		Use:           "add",
		Short:         "Add a server connection",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return addConnection(cmd, addFlags)
		},
	}
	addFlags.register(addCmd)

	updateFlags := &connectionFlags{}
	updateCmd := &cobra.Command{
		Use:           "update [connection-id]",
		Short:         "Update a server connection (must be disconnected)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateConnection(cmd, args, updateFlags)
		},
	}
	updateFlags.register(updateCmd)

	cmd.AddCommand(
		&cobra.Command{
			Use:           "list",
			Short:         "List connections and their states",
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          listConnections,
		},
		addCmd,
		updateCmd,
		&cobra.Command{
			Use:           "remove [connection-id]",
			Short:         "Remove a server connection",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          removeConnection,
		},
		&cobra.Command{
			Use:           "connect [connection-id]",
			Short:         "Open the connection to the cluster",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          connectConnection,
		},
		&cobra.Command{
			Use:           "disconnect [connection-id]",
			Short:         "Close the connection to the cluster",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          disconnectConnection,
		},
	)
	return cmd
}

func parseConnectionID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid connection id %q", arg)
	}
	return id, nil
}

func listConnections(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		list, err := c.ListConnections(ctx)
		if err != nil {
			return err
		}
		if formatter.jsonMode {
			return formatter.Print(list)
		}
		if len(list) == 0 {
			fmt.Println("No connections configured")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATE\tREASON")
		for _, s := range list {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.ID, s.Name, s.State, s.Reason)
		}
		return w.Flush()
	})
}

func addConnection(cmd *cobra.Command, flags *connectionFlags) error {
	formatter := newOutputFormatter(cmd)
	conn, err := flags.toConnection()
	if err != nil {
		return err
	}
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		id, err := c.CreateConnection(ctx, conn)
		if err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("Created connection %d (%s)", id, conn.Name))
	})
}

func updateConnection(cmd *cobra.Command, args []string, flags *connectionFlags) error {
	formatter := newOutputFormatter(cmd)
	id, err := parseConnectionID(args[0])
	if err != nil {
		return err
	}
	conn, err := flags.toConnection()
	if err != nil {
		return err
	}
	conn.ID = id
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if err := c.UpdateConnection(ctx, conn); err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("Updated connection %d", id))
	})
}

func removeConnection(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	id, err := parseConnectionID(args[0])
	if err != nil {
		return err
	}
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if err := c.DeleteConnection(ctx, id); err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("Removed connection %d", id))
	})
}

func connectConnection(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	id, err := parseConnectionID(args[0])
	if err != nil {
		return err
	}
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if err := c.Connect(ctx, id); err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("Connection %d connected", id))
	})
}

func disconnectConnection(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	id, err := parseConnectionID(args[0])
	if err != nil {
		return err
	}
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if err := c.Disconnect(ctx, id); err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("Connection %d disconnected", id))
	})
}
