package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

// client is the franz-go backed implementation of Client.
type client struct {
	opts []kgo.Opt // base connection options, reused for consume clients
	kgo  *kgo.Client
	adm  *kadm.Client
}

// Dial connects to a cluster and verifies it is reachable. The returned
// Client must be closed by the caller.
func Dial(ctx context.Context, cfg Config) (Client, error) {
	opts, err := baseOpts(cfg)
	if err != nil {
		return nil, err
	}

	kc, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}
	if err := kc.Ping(ctx); err != nil {
		kc.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return &client{
		opts: opts,
		kgo:  kc,
		adm:  kadm.NewClient(kc),
	}, nil
}

func baseOpts(cfg Config) ([]kgo.Opt, error) {
	if len(cfg.BootstrapServers) == 0 {
		return nil, fmt.Errorf("kafka: no bootstrap servers")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.BootstrapServers...),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.Security == SecuritySSL || cfg.Security == SecuritySASLSSL {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}))
	}

	if cfg.Security == SecuritySASLPlaintext || cfg.Security == SecuritySASLSSL {
		switch cfg.Mechanism {
		case SASLPlain, "":
			opts = append(opts, kgo.SASL(plain.Auth{
				User: cfg.Username,
				Pass: cfg.Password,
			}.AsMechanism()))
		case SASLScramSha256:
			opts = append(opts, kgo.SASL(scram.Auth{
				User: cfg.Username,
				Pass: cfg.Password,
			}.AsSha256Mechanism()))
		case SASLScramSha512:
			opts = append(opts, kgo.SASL(scram.Auth{
				User: cfg.Username,
				Pass: cfg.Password,
			}.AsSha512Mechanism()))
		default:
			return nil, fmt.Errorf("kafka: unsupported SASL mechanism %q", cfg.Mechanism)
		}
	}

	return opts, nil
}

func (c *client) Close() {
	c.kgo.Close()
}

func (c *client) ListTopics(ctx context.Context) ([]TopicInfo, error) {
	details, err := c.adm.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("kafka: list topics: %w", err)
	}

	topics := make([]TopicInfo, 0, len(details))
	for _, d := range details.Sorted() {
		if d.Err != nil {
			continue
		}
		rf := 0
		for _, p := range d.Partitions {
			rf = len(p.Replicas)
			break
		}
		topics = append(topics, TopicInfo{
			Name:              d.Topic,
			Partitions:        len(d.Partitions),
			ReplicationFactor: rf,
			Internal:          d.IsInternal,
		})
	}
	return topics, nil
}

func (c *client) DescribeTopic(ctx context.Context, name string) (TopicDetail, error) {
	details, err := c.adm.ListTopics(ctx, name)
	if err != nil {
		return TopicDetail{}, fmt.Errorf("kafka: describe topic %s: %w", name, err)
	}
	d, ok := details[name]
	if !ok {
		return TopicDetail{}, fmt.Errorf("kafka: topic %s not found", name)
	}
	if d.Err != nil {
		return TopicDetail{}, fmt.Errorf("kafka: describe topic %s: %w", name, d.Err)
	}

	detail := TopicDetail{Name: d.Topic, Internal: d.IsInternal}
	for _, p := range d.Partitions.Sorted() {
		detail.Partitions = append(detail.Partitions, PartitionInfo{
			Partition: p.Partition,
			Leader:    p.Leader,
			Replicas:  p.Replicas,
			ISR:       p.ISR,
		})
	}

	configs, err := c.adm.DescribeTopicConfigs(ctx, name)
	if err != nil {
		return TopicDetail{}, fmt.Errorf("kafka: describe configs of %s: %w", name, err)
	}
	for _, rc := range configs {
		if rc.Err != nil {
			continue
		}
		detail.Configs = make(map[string]string, len(rc.Configs))
		for _, cfg := range rc.Configs {
			detail.Configs[cfg.Key] = cfg.MaybeValue()
		}
	}
	return detail, nil
}

func (c *client) CreateTopic(ctx context.Context, name string, partitions int32, replication int16, configs map[string]*string) error {
	resp, err := c.adm.CreateTopics(ctx, partitions, replication, configs, name)
	if err != nil {
		return fmt.Errorf("kafka: create topic %s: %w", name, err)
	}
	for _, r := range resp.Sorted() {
		if r.Err != nil {
			return fmt.Errorf("kafka: create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (c *client) DeleteTopic(ctx context.Context, name string) error {
	resp, err := c.adm.DeleteTopics(ctx, name)
	if err != nil {
		return fmt.Errorf("kafka: delete topic %s: %w", name, err)
	}
	for _, r := range resp.Sorted() {
		if r.Err != nil {
			return fmt.Errorf("kafka: delete topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (c *client) ListBrokers(ctx context.Context) ([]BrokerInfo, error) {
	meta, err := c.adm.Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("kafka: metadata: %w", err)
	}

	brokers := make([]BrokerInfo, 0, len(meta.Brokers))
	for _, b := range meta.Brokers {
		info := BrokerInfo{
			NodeID:     b.NodeID,
			Host:       b.Host,
			Port:       b.Port,
			Controller: b.NodeID == meta.Controller,
		}
		if b.Rack != nil {
			info.Rack = *b.Rack
		}
		brokers = append(brokers, info)
	}
	sort.Slice(brokers, func(i, j int) bool { return brokers[i].NodeID < brokers[j].NodeID })
	return brokers, nil
}

func (c *client) Produce(ctx context.Context, topic string, key, value []byte, headers []Header) (int32, int64, error) {
	rec := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	for _, h := range headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: h.Key, Value: h.Value})
	}

	produced, err := c.kgo.ProduceSync(ctx, rec).First()
	if err != nil {
		return 0, 0, fmt.Errorf("kafka: produce to %s: %w", topic, err)
	}
	return produced.Partition, produced.Offset, nil
}

// Consume uses a dedicated consumer client so admin traffic and an in-flight
// consume never share a session. Cancellation is checked between polls.
func (c *client) Consume(ctx context.Context, opts ConsumeOptions, fn func(Message) bool) error {
	start := kgo.NewOffset()
	switch {
	case opts.Offset == OffsetEnd:
		start = start.AtEnd()
	case opts.Offset == OffsetStart:
		start = start.AtStart()
	case opts.Offset >= 0:
		start = start.At(opts.Offset)
	default:
		return fmt.Errorf("kafka: invalid start offset %d", opts.Offset)
	}

	consumeOpts := append([]kgo.Opt{}, c.opts...)
	if opts.Partition >= 0 {
		consumeOpts = append(consumeOpts, kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			opts.Topic: {opts.Partition: start},
		}))
	} else {
		consumeOpts = append(consumeOpts,
			kgo.ConsumeTopics(opts.Topic),
			kgo.ConsumeResetOffset(start),
		)
	}

	consumer, err := kgo.NewClient(consumeOpts...)
	if err != nil {
		return fmt.Errorf("kafka: create consumer: %w", err)
	}
	defer consumer.Close()

	seen := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fetches := consumer.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			return fmt.Errorf("kafka: consume %s: %w", opts.Topic, errs[0].Err)
		}

		iter := fetches.RecordIter()
		for !iter.Done() {
			rec := iter.Next()
			msg := Message{
				Topic:     rec.Topic,
				Partition: rec.Partition,
				Offset:    rec.Offset,
				Timestamp: rec.Timestamp,
				Key:       rec.Key,
				Value:     rec.Value,
			}
			for _, h := range rec.Headers {
				msg.Headers = append(msg.Headers, Header{Key: h.Key, Value: h.Value})
			}

			if !fn(msg) {
				return nil
			}
			seen++
			if opts.MaxCount > 0 && seen >= opts.MaxCount {
				return nil
			}
		}
	}
}

func (c *client) ListGroups(ctx context.Context) ([]GroupInfo, error) {
	listed, err := c.adm.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("kafka: list groups: %w", err)
	}

	groups := make([]GroupInfo, 0, len(listed))
	for _, g := range listed.Sorted() {
		groups = append(groups, GroupInfo{
			GroupID:      g.Group,
			State:        g.State,
			ProtocolType: g.ProtocolType,
			Coordinator:  g.Coordinator,
		})
	}
	return groups, nil
}

func (c *client) DescribeGroup(ctx context.Context, group string) (GroupDetail, error) {
	described, err := c.adm.DescribeGroups(ctx, group)
	if err != nil {
		return GroupDetail{}, fmt.Errorf("kafka: describe group %s: %w", group, err)
	}
	g, ok := described[group]
	if !ok {
		return GroupDetail{}, fmt.Errorf("kafka: group %s not found", group)
	}
	if g.Err != nil {
		return GroupDetail{}, fmt.Errorf("kafka: describe group %s: %w", group, g.Err)
	}

	detail := GroupDetail{
		GroupID:      g.Group,
		State:        g.State,
		ProtocolType: g.ProtocolType,
		Protocol:     g.Protocol,
	}
	for _, m := range g.Members {
		member := MemberInfo{
			MemberID:   m.MemberID,
			ClientID:   m.ClientID,
			ClientHost: m.ClientHost,
		}
		if assignment, ok := m.Assigned.AsConsumer(); ok {
			for _, t := range assignment.Topics {
				for _, p := range t.Partitions {
					member.Assigned = append(member.Assigned, TopicPartition{Topic: t.Topic, Partition: p})
				}
			}
		}
		detail.Members = append(detail.Members, member)
	}
	return detail, nil
}

func (c *client) GroupOffsets(ctx context.Context, group string) ([]OffsetInfo, error) {
	committed, err := c.adm.FetchOffsets(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("kafka: fetch offsets for %s: %w", group, err)
	}

	topicSet := make(map[string]struct{})
	committed.Each(func(o kadm.OffsetResponse) {
		topicSet[o.Topic] = struct{}{}
	})
	topics := make([]string, 0, len(topicSet))
	for t := range topicSet {
		topics = append(topics, t)
	}

	var ends kadm.ListedOffsets
	if len(topics) > 0 {
		ends, err = c.adm.ListEndOffsets(ctx, topics...)
		if err != nil {
			return nil, fmt.Errorf("kafka: list end offsets: %w", err)
		}
	}

	var offsets []OffsetInfo
	committed.Each(func(o kadm.OffsetResponse) {
		if o.Err != nil {
			return
		}
		info := OffsetInfo{
			Topic:     o.Topic,
			Partition: o.Partition,
			Committed: o.At,
		}
		if end, ok := ends.Lookup(o.Topic, o.Partition); ok {
			info.End = end.Offset
			if lag := end.Offset - o.At; lag > 0 {
				info.Lag = lag
			}
		}
		offsets = append(offsets, info)
	})

	sort.Slice(offsets, func(i, j int) bool {
		if offsets[i].Topic != offsets[j].Topic {
			return offsets[i].Topic < offsets[j].Topic
		}
		return offsets[i].Partition < offsets[j].Partition
	})
	return offsets, nil
}

func (c *client) CommitOffsets(ctx context.Context, group string, offsets []OffsetInfo) error {
	commit := make(kadm.Offsets)
	for _, o := range offsets {
		commit.Add(kadm.Offset{
			Topic:       o.Topic,
			Partition:   o.Partition,
			At:          o.Committed,
			LeaderEpoch: -1,
		})
	}

	resp, err := c.adm.CommitOffsets(ctx, group, commit)
	if err != nil {
		return fmt.Errorf("kafka: commit offsets for %s: %w", group, err)
	}
	if err := resp.Error(); err != nil {
		return fmt.Errorf("kafka: commit offsets for %s: %w", group, err)
	}
	return nil
}
