package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/topiclens/topiclens/internal/client"
	"github.com/topiclens/topiclens/internal/version"
)

const requestTimeout = 30 * time.Second

var rootCmd *cobra.Command

// OutputFormatter renders results as JSON or human-readable text depending
// on the global --json flag.
type OutputFormatter struct {
	jsonMode bool
}

func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

// Print outputs data in the appropriate format. In text mode strings print
// as-is and everything else falls back to indented JSON.
func (f *OutputFormatter) Print(data any) error {
	if s, isString := data.(string); isString && !f.jsonMode {
		fmt.Println(s)
		return nil
	}
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(jsonBytes))
	return nil
}

// Success outputs a confirmation message.
func (f *OutputFormatter) Success(message string) error {
	if f.jsonMode {
		return f.Print(map[string]any{"success": true, "message": message})
	}
	fmt.Println(message)
	return nil
}

func instanceFlag(cmd *cobra.Command) string {
	name, _ := cmd.Flags().GetString("instance")
	return name
}

// withClient runs fn with a connected daemon client and a bounded context.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	c, err := client.New(instanceFlag(cmd))
	if err != nil {
		return fmt.Errorf("is the daemon running? start it with 'topiclensd' (%w)", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	return fn(ctx, c)
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "topiclens",
		Short: "Topiclens - inspect and manage Kafka clusters, ZooKeeper and schema registries",
		Long: `Topiclens talks to a local topiclensd daemon that holds the live cluster
connections. Configure server connections once, then browse topics,
consumer groups, ACLs, znodes and schemas from the command line.`,
	}
	rootCmd.Version = version.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("instance", "", "Daemon instance name (defaults to \"default\")")

	rootCmd.AddCommand(
		newDaemonCommand(),
		newConnectionsCommand(),
		newTopicsCommand(),
		newBrokersCommand(),
		newProduceCommand(),
		newConsumeCommand(),
		newGroupsCommand(),
		newACLsCommand(),
		newZKCommand(),
		newSchemasCommand(),
		newTasksCommand(),
		newDecodeCommand(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
