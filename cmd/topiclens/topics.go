package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/topiclens/topiclens/internal/client"
	"github.com/topiclens/topiclens/internal/kafka"
	"github.com/topiclens/topiclens/internal/protocol"
	"github.com/topiclens/topiclens/internal/tasks"
)

func newTopicsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Browse and manage topics",
	}

	var connID int64
	cmd.PersistentFlags().Int64Var(&connID, "connection", 0, "Connection ID (required)")
	cmd.MarkPersistentFlagRequired("connection")

	var partitions int32
	var replication int16
	var configs []string
	createCmd := &cobra.Command{
		Use:           "create [topic]",
		Short:         "Create a topic",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return createTopic(cmd, connID, args[0], partitions, replication, configs)
		},
	}
	createCmd.Flags().Int32Var(&partitions, "partitions", 1, "Partition count")
	createCmd.Flags().Int16Var(&replication, "replication", 1, "Replication factor")
	createCmd.Flags().StringSliceVar(&configs, "config", nil, "Topic config entries (key=value, repeatable)")

	cmd.AddCommand(
		&cobra.Command{
			Use:           "list",
			Short:         "List topics",
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return listTopics(cmd, connID)
			},
		},
		&cobra.Command{
			Use:           "describe [topic]",
			Short:         "Show partitions, leaders and configs of a topic",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return describeTopic(cmd, connID, args[0])
			},
		},
		createCmd,
		&cobra.Command{
			Use:           "delete [topic]",
			Short:         "Delete a topic",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return deleteTopic(cmd, connID, args[0])
			},
		},
	)
	return cmd
}

func newBrokersCommand() *cobra.Command {
	var connID int64
	cmd := &cobra.Command{
		Use:           "brokers",
		Short:         "List cluster brokers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listBrokers(cmd, connID)
		},
	}
	cmd.Flags().Int64Var(&connID, "connection", 0, "Connection ID (required)")
	cmd.MarkFlagRequired("connection")
	return cmd
}

func listTopics(cmd *cobra.Command, connID int64) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		topics, err := c.ListTopics(ctx, connID)
		if err != nil {
			return err
		}
		if formatter.jsonMode {
			return formatter.Print(topics)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPARTITIONS\tREPLICATION\tINTERNAL")
		for _, t := range topics {
			fmt.Fprintf(w, "%s\t%d\t%d\t%v\n", t.Name, t.Partitions, t.ReplicationFactor, t.Internal)
		}
		return w.Flush()
	})
}

func describeTopic(cmd *cobra.Command, connID int64, topic string) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		detail, err := c.DescribeTopic(ctx, connID, topic)
		if err != nil {
			return err
		}
		if formatter.jsonMode {
			return formatter.Print(detail)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PARTITION\tLEADER\tREPLICAS\tISR")
		for _, p := range detail.Partitions {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", p.Partition, p.Leader, joinInt32(p.Replicas), joinInt32(p.ISR))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if len(detail.Configs) > 0 {
			fmt.Println("\nConfigs:")
			for key, value := range detail.Configs {
				fmt.Printf("  %s = %s\n", key, value)
			}
		}
		return nil
	})
}

func createTopic(cmd *cobra.Command, connID int64, topic string, partitions int32, replication int16, configPairs []string) error {
	formatter := newOutputFormatter(cmd)
	configs, err := parseConfigPairs(configPairs)
	if err != nil {
		return err
	}
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		err := c.CreateTopic(ctx, protocol.CreateTopicRequest{
			ConnectionID: connID,
			Topic:        topic,
			Partitions:   partitions,
			Replication:  replication,
			Configs:      configs,
		})
		if err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("Created topic %s", topic))
	})
}

func deleteTopic(cmd *cobra.Command, connID int64, topic string) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if err := c.DeleteTopic(ctx, connID, topic); err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("Deleted topic %s", topic))
	})
}

func listBrokers(cmd *cobra.Command, connID int64) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		brokers, err := c.ListBrokers(ctx, connID)
		if err != nil {
			return err
		}
		if formatter.jsonMode {
			return formatter.Print(brokers)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tHOST\tPORT\tRACK\tCONTROLLER")
		for _, b := range brokers {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%v\n", b.NodeID, b.Host, b.Port, b.Rack, b.Controller)
		}
		return w.Flush()
	})
}

func newProduceCommand() *cobra.Command {
	var connID int64
	var topic, key, value string
	cmd := &cobra.Command{
		Use:           "produce",
		Short:         "Publish one message to a topic",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newOutputFormatter(cmd)
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				err := c.Produce(ctx, protocol.ProduceRequest{
					ConnectionID: connID,
					Topic:        topic,
					Key:          []byte(key),
					Value:        []byte(value),
				})
				if err != nil {
					return err
				}
				return formatter.Success(fmt.Sprintf("Produced to %s", topic))
			})
		},
	}
	cmd.Flags().Int64Var(&connID, "connection", 0, "Connection ID (required)")
	cmd.Flags().StringVar(&topic, "topic", "", "Topic name (required)")
	cmd.Flags().StringVar(&key, "key", "", "Message key")
	cmd.Flags().StringVar(&value, "value", "", "Message value")
	cmd.MarkFlagRequired("connection")
	cmd.MarkFlagRequired("topic")
	return cmd
}

func newConsumeCommand() *cobra.Command {
	var connID int64
	var topic, keyKind, valueKind, from string
	var partition int32
	var maxCount int
	cmd := &cobra.Command{
		Use:           "consume",
		Short:         "Read messages from a topic (runs as a background task)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := parseOffset(from)
			if err != nil {
				return err
			}
			return consumeTopic(cmd, protocol.ConsumeRequest{
				ConnectionID: connID,
				Topic:        topic,
				Partition:    partition,
				Offset:       offset,
				MaxCount:     maxCount,
				KeyKind:      keyKind,
				ValueKind:    valueKind,
			})
		},
	}
	cmd.Flags().Int64Var(&connID, "connection", 0, "Connection ID (required)")
	cmd.Flags().StringVar(&topic, "topic", "", "Topic name (required)")
	cmd.Flags().Int32Var(&partition, "partition", -1, "Partition to read (-1 for all)")
	cmd.Flags().StringVar(&from, "from", "start", "Start position: start, end or an absolute offset")
	cmd.Flags().IntVar(&maxCount, "max", 100, "Maximum messages to fetch")
	cmd.Flags().StringVar(&keyKind, "key-decoder", "", "Decoder for keys (string, hex, json, int64, avro, ...)")
	cmd.Flags().StringVar(&valueKind, "value-decoder", "", "Decoder for values")
	cmd.MarkFlagRequired("connection")
	cmd.MarkFlagRequired("topic")
	return cmd
}

func parseOffset(from string) (int64, error) {
	switch strings.ToLower(from) {
	case "start", "beginning":
		return kafka.OffsetStart, nil
	case "end", "latest":
		return kafka.OffsetEnd, nil
	}
	var offset int64
	if _, err := fmt.Sscanf(from, "%d", &offset); err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid --from value %q (want start, end or an offset)", from)
	}
	return offset, nil
}

// consumeTopic submits the consume task, polls it to completion and prints
// the buffered messages.
func consumeTopic(cmd *cobra.Command, req protocol.ConsumeRequest) error {
	formatter := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		taskID, err := c.Consume(ctx, req)
		if err != nil {
			return err
		}

		for {
			p, err := c.TaskProgress(ctx, taskID)
			if err != nil {
				return err
			}
			if p.State.Terminal() {
				if p.State == tasks.StateFailed {
					return fmt.Errorf("consume failed: %s", p.Error)
				}
				break
			}
			select {
			case <-ctx.Done():
				c.CancelTask(context.Background(), taskID)
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}

		msgs, err := c.ConsumeResults(ctx, taskID)
		if err != nil {
			return err
		}
		if formatter.jsonMode {
			return formatter.Print(msgs)
		}
		for _, m := range msgs {
			fmt.Printf("[%d@%d] %s  key=%s\n%s\n", m.Partition, m.Offset,
				m.Timestamp.Local().Format(time.RFC3339), m.Key, m.Value)
		}
		fmt.Printf("%d message(s)\n", len(msgs))
		return nil
	})
}

func parseConfigPairs(pairs []string) (map[string]*string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	configs := make(map[string]*string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --config entry %q (want key=value)", pair)
		}
		v := value
		configs[key] = &v
	}
	return configs, nil
}

func joinInt32(ids []int32) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}
