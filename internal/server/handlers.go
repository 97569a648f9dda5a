package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/topiclens/topiclens/internal/cluster"
	"github.com/topiclens/topiclens/internal/decode"
	"github.com/topiclens/topiclens/internal/eventbus"
	"github.com/topiclens/topiclens/internal/kafka"
	"github.com/topiclens/topiclens/internal/protocol"
	"github.com/topiclens/topiclens/internal/tasks"
)

func ok(id string, data any) protocol.Response {
	return protocol.Response{ID: id, Success: true, Data: data}
}

func fail(id string, err error) protocol.Response {
	return protocol.Response{ID: id, Success: false, Error: err.Error()}
}

func unmarshal[T any](req protocol.Request) (T, error) {
	var v T
	if len(req.Data) == 0 {
		return v, fmt.Errorf("server: request %s carries no data", req.Type)
	}
	if err := json.Unmarshal(req.Data, &v); err != nil {
		return v, fmt.Errorf("server: decode %s request: %w", req.Type, err)
	}
	return v, nil
}

func (g *Gateway) dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	switch req.Type {
	case protocol.RequestDaemonStatus:
		return g.handleStatus(req)
	case protocol.RequestShutdown:
		if g.onShutdown != nil {
			go g.onShutdown()
		}
		return ok(req.ID, nil)

	case protocol.RequestListConnections:
		return g.handleListConnections(req)
	case protocol.RequestCreateConnection:
		return g.handleCreateConnection(ctx, req)
	case protocol.RequestUpdateConnection:
		return g.handleUpdateConnection(ctx, req)
	case protocol.RequestDeleteConnection:
		return g.handleDeleteConnection(ctx, req)
	case protocol.RequestConnect:
		return g.handleConnect(ctx, req)
	case protocol.RequestDisconnect:
		return g.handleDisconnect(ctx, req)

	case protocol.RequestListTopics:
		return g.withKafka(ctx, req, func(ctx context.Context, kc kafka.Client, _ protocol.ConnectionRequest) (any, error) {
			return kc.ListTopics(ctx)
		})
	case protocol.RequestDescribeTopic:
		return g.handleDescribeTopic(ctx, req)
	case protocol.RequestCreateTopic:
		return g.handleCreateTopic(ctx, req)
	case protocol.RequestDeleteTopic:
		return g.handleDeleteTopic(ctx, req)
	case protocol.RequestListBrokers:
		return g.withKafka(ctx, req, func(ctx context.Context, kc kafka.Client, _ protocol.ConnectionRequest) (any, error) {
			return kc.ListBrokers(ctx)
		})
	case protocol.RequestProduce:
		return g.handleProduce(ctx, req)
	case protocol.RequestConsume:
		return g.handleConsume(req)
	case protocol.RequestConsumeResults:
		return g.handleConsumeResults(req)

	case protocol.RequestListGroups:
		return g.withKafka(ctx, req, func(ctx context.Context, kc kafka.Client, _ protocol.ConnectionRequest) (any, error) {
			return kc.ListGroups(ctx)
		})
	case protocol.RequestDescribeGroup:
		return g.handleDescribeGroup(ctx, req)
	case protocol.RequestGroupOffsets:
		return g.handleGroupOffsets(ctx, req)
	case protocol.RequestCommitOffsets:
		return g.handleCommitOffsets(ctx, req)

	case protocol.RequestListACLs:
		return g.withKafka(ctx, req, func(ctx context.Context, kc kafka.Client, _ protocol.ConnectionRequest) (any, error) {
			return kc.ListACLs(ctx)
		})
	case protocol.RequestCreateACL, protocol.RequestDeleteACL:
		return g.handleACLWrite(ctx, req)

	case protocol.RequestZKChildren, protocol.RequestZKGet, protocol.RequestZKSet,
		protocol.RequestZKCreate, protocol.RequestZKDelete:
		return g.handleZK(ctx, req)

	case protocol.RequestListSubjects, protocol.RequestSubjectVersions,
		protocol.RequestGetSchema, protocol.RequestRegisterSchema,
		protocol.RequestCheckCompatibility, protocol.RequestDeleteSubject:
		return g.handleSchema(ctx, req)

	case protocol.RequestDecode:
		return g.handleDecode(ctx, req)

	case protocol.RequestTaskProgress:
		return g.handleTaskProgress(req)
	case protocol.RequestTaskCancel:
		return g.handleTaskCancel(req)
	case protocol.RequestTaskList:
		g.pruneResults()
		return ok(req.ID, g.tasks.List())
	case protocol.RequestTaskReap:
		return g.handleTaskReap(req)
	}

	return fail(req.ID, fmt.Errorf("server: unknown request type %q", req.Type))
}

func (g *Gateway) handleStatus(req protocol.Request) protocol.Response {
	return ok(req.ID, protocol.StatusInfo{
		Version:     g.version,
		PID:         os.Getpid(),
		StartedAt:   g.startedAt,
		Connections: len(g.registry.List()),
		Tasks:       len(g.tasks.List()),
	})
}

// --- connections -----------------------------------------------------------

func (g *Gateway) handleListConnections(req protocol.Request) protocol.Response {
	return ok(req.ID, g.registry.List())
}

func (g *Gateway) handleCreateConnection(ctx context.Context, req protocol.Request) protocol.Response {
	conn, err := unmarshal[cluster.ServerConnection](req)
	if err != nil {
		return fail(req.ID, err)
	}

	id, err := g.store.CreateConnection(ctx, conn)
	if err != nil {
		return fail(req.ID, err)
	}
	conn.ID = id
	if err := g.registry.Add(ctx, conn); err != nil {
		return fail(req.ID, err)
	}
	return ok(req.ID, protocol.ConnectionRequest{ConnectionID: id})
}

func (g *Gateway) handleUpdateConnection(ctx context.Context, req protocol.Request) protocol.Response {
	conn, err := unmarshal[cluster.ServerConnection](req)
	if err != nil {
		return fail(req.ID, err)
	}

	// Registry first: it refuses edits of live connections before the
	// store is touched.
	if err := g.registry.Update(conn); err != nil {
		return fail(req.ID, err)
	}
	if err := g.store.UpdateConnection(ctx, conn); err != nil {
		return fail(req.ID, err)
	}
	return ok(req.ID, nil)
}

func (g *Gateway) handleDeleteConnection(ctx context.Context, req protocol.Request) protocol.Response {
	cr, err := unmarshal[protocol.ConnectionRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}

	if err := g.store.DeleteConnection(ctx, cr.ConnectionID); err != nil {
		return fail(req.ID, err)
	}
	if err := g.registry.Remove(ctx, cr.ConnectionID); err != nil && !cluster.IsNotFound(err) {
		return fail(req.ID, err)
	}
	return ok(req.ID, nil)
}

func (g *Gateway) handleConnect(ctx context.Context, req protocol.Request) protocol.Response {
	cr, err := unmarshal[protocol.ConnectionRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}
	if err := g.registry.Connect(ctx, cr.ConnectionID); err != nil {
		return fail(req.ID, err)
	}
	return ok(req.ID, nil)
}

func (g *Gateway) handleDisconnect(ctx context.Context, req protocol.Request) protocol.Response {
	cr, err := unmarshal[protocol.ConnectionRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}
	if err := g.registry.Disconnect(ctx, cr.ConnectionID); err != nil {
		return fail(req.ID, err)
	}
	return ok(req.ID, nil)
}

// --- topics / brokers / messages -------------------------------------------

// withKafka handles the requests that only need the connection ID and the
// Kafka client.
func (g *Gateway) withKafka(ctx context.Context, req protocol.Request, fn func(context.Context, kafka.Client, protocol.ConnectionRequest) (any, error)) protocol.Response {
	cr, err := unmarshal[protocol.ConnectionRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}
	bundle, err := g.registry.Handle(cr.ConnectionID)
	if err != nil {
		return fail(req.ID, err)
	}
	data, err := fn(ctx, bundle.Kafka, cr)
	if err != nil {
		return fail(req.ID, err)
	}
	return ok(req.ID, data)
}

func (g *Gateway) handleDescribeTopic(ctx context.Context, req protocol.Request) protocol.Response {
	tr, err := unmarshal[protocol.TopicRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}
	bundle, err := g.registry.Handle(tr.ConnectionID)
	if err != nil {
		return fail(req.ID, err)
	}
	detail, err := bundle.Kafka.DescribeTopic(ctx, tr.Topic)
	if err != nil {
		return fail(req.ID, err)
	}
	return ok(req.ID, detail)
}

func (g *Gateway) handleCreateTopic(ctx context.Context, req protocol.Request) protocol.Response {
	tr, err := unmarshal[protocol.CreateTopicRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}
	bundle, err := g.registry.Handle(tr.ConnectionID)
	if err != nil {
		return fail(req.ID, err)
	}
	if err := bundle.Kafka.CreateTopic(ctx, tr.Topic, tr.Partitions, tr.Replication, tr.Configs); err != nil {
		return fail(req.ID, err)
	}

	eventbus.Publish(ctx, g.bus, eventbus.Topics.Changed, eventbus.SourceGateway, eventbus.TopicChangeEvent{
		ConnectionID: tr.ConnectionID,
		Topic:        tr.Topic,
		Change:       eventbus.ChangeCreated,
	})
	return ok(req.ID, nil)
}

func (g *Gateway) handleDeleteTopic(ctx context.Context, req protocol.Request) protocol.Response {
	tr, err := unmarshal[protocol.TopicRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}
	bundle, err := g.registry.Handle(tr.ConnectionID)
	if err != nil {
		return fail(req.ID, err)
	}
	if err := bundle.Kafka.DeleteTopic(ctx, tr.Topic); err != nil {
		return fail(req.ID, err)
	}

	eventbus.Publish(ctx, g.bus, eventbus.Topics.Changed, eventbus.SourceGateway, eventbus.TopicChangeEvent{
		ConnectionID: tr.ConnectionID,
		Topic:        tr.Topic,
		Change:       eventbus.ChangeDeleted,
	})
	return ok(req.ID, nil)
}

func (g *Gateway) handleProduce(ctx context.Context, req protocol.Request) protocol.Response {
	pr, err := unmarshal[protocol.ProduceRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}
	bundle, err := g.registry.Handle(pr.ConnectionID)
	if err != nil {
		return fail(req.ID, err)
	}

	partition, offset, err := bundle.Kafka.Produce(ctx, pr.Topic, pr.Key, pr.Value, nil)
	if err != nil {
		return fail(req.ID, err)
	}
	return ok(req.ID, map[string]any{"partition": partition, "offset": offset})
}

func (g *Gateway) handleConsume(req protocol.Request) protocol.Response {
	cr, err := unmarshal[protocol.ConsumeRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}

	keyKind := decode.Kind(cr.KeyKind)
	if keyKind == "" {
		keyKind = decode.KindString
	}
	valueKind := decode.Kind(cr.ValueKind)
	if valueKind == "" {
		valueKind = decode.KindString
	}
	maxCount := cr.MaxCount
	if maxCount <= 0 || maxCount > consumeResultCap {
		maxCount = consumeResultCap
	}

	buf := &resultBuffer{}
	taskID := g.tasks.Submit(tasks.Spec{
		ConnectionID: cr.ConnectionID,
		Kind:         "consume",
		Exclusive:    true,
		Op: func(ctx context.Context, report tasks.Report) error {
			bundle, err := g.registry.Handle(cr.ConnectionID)
			if err != nil {
				return err
			}

			var lookup decode.SchemaLookup
			if bundle.SchemaRegistry != nil {
				lookup = bundle.SchemaRegistry
			}
			decoders := decode.NewRegistry(lookup)

			return bundle.Kafka.Consume(ctx, kafka.ConsumeOptions{
				Topic:     cr.Topic,
				Partition: cr.Partition,
				Offset:    cr.Offset,
				MaxCount:  maxCount,
			}, func(m kafka.Message) bool {
				buf.add(protocol.ConsumedMessage{
					Partition: m.Partition,
					Offset:    m.Offset,
					Timestamp: m.Timestamp,
					Key:       g.render(ctx, decoders, keyKind, m.Key),
					Value:     g.render(ctx, decoders, valueKind, m.Value),
				})
				report(buf.len(), maxCount, cr.Topic)
				return true
			})
		},
	})

	g.registerResults(taskID, buf)
	return ok(req.ID, protocol.TaskSubmitted{TaskID: taskID})
}

// render decodes bytes for display; decode failures (schema kinds) become
// inline placeholders rather than failing the whole consume.
func (g *Gateway) render(ctx context.Context, decoders *decode.Registry, kind decode.Kind, data []byte) string {
	if len(data) == 0 && kind != decode.KindNoKey {
		return ""
	}
	text, err := decoders.Decode(ctx, kind, data)
	if err != nil {
		return fmt.Sprintf("<decode error: %v>", err)
	}
	return text
}

func (g *Gateway) handleConsumeResults(req protocol.Request) protocol.Response {
	tr, err := unmarshal[protocol.TaskRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}
	buf, okBuf := g.resultsFor(tr.TaskID)
	if !okBuf {
		return fail(req.ID, &tasks.NotFoundError{ID: tr.TaskID})
	}
	return ok(req.ID, buf.snapshot())
}

// --- consumer groups -------------------------------------------------------

func (g *Gateway) handleDescribeGroup(ctx context.Context, req protocol.Request) protocol.Response {
	gr, err := unmarshal[protocol.GroupRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}
	bundle, err := g.registry.Handle(gr.ConnectionID)
	if err != nil {
		return fail(req.ID, err)
	}
	detail, err := bundle.Kafka.DescribeGroup(ctx, gr.GroupID)
	if err != nil {
		return fail(req.ID, err)
	}
	return ok(req.ID, detail)
}

func (g *Gateway) handleGroupOffsets(ctx context.Context, req protocol.Request) protocol.Response {
	gr, err := unmarshal[protocol.GroupRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}
	bundle, err := g.registry.Handle(gr.ConnectionID)
	if err != nil {
		return fail(req.ID, err)
	}
	offsets, err := bundle.Kafka.GroupOffsets(ctx, gr.GroupID)
	if err != nil {
		return fail(req.ID, err)
	}
	return ok(req.ID, offsets)
}

func (g *Gateway) handleCommitOffsets(ctx context.Context, req protocol.Request) protocol.Response {
	cr, err := unmarshal[protocol.CommitOffsetsRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}
	bundle, err := g.registry.Handle(cr.ConnectionID)
	if err != nil {
		return fail(req.ID, err)
	}

	offsets := make([]kafka.OffsetInfo, 0, len(cr.Offsets))
	for _, o := range cr.Offsets {
		offsets = append(offsets, kafka.OffsetInfo{
			Topic:     o.Topic,
			Partition: o.Partition,
			Committed: o.Offset,
		})
	}
	if err := bundle.Kafka.CommitOffsets(ctx, cr.GroupID, offsets); err != nil {
		return fail(req.ID, err)
	}

	eventbus.Publish(ctx, g.bus, eventbus.Groups.Changed, eventbus.SourceGateway, eventbus.GroupChangeEvent{
		ConnectionID: cr.ConnectionID,
		GroupID:      cr.GroupID,
		Change:       eventbus.ChangeUpdated,
	})
	return ok(req.ID, nil)
}

// --- ACLs ------------------------------------------------------------------

func (g *Gateway) handleACLWrite(ctx context.Context, req protocol.Request) protocol.Response {
	var payload struct {
		ConnectionID int64     `json:"connection_id"`
		ACL          kafka.ACL `json:"acl"`
	}
	if err := json.Unmarshal(req.Data, &payload); err != nil {
		return fail(req.ID, fmt.Errorf("server: decode %s request: %w", req.Type, err))
	}
	bundle, err := g.registry.Handle(payload.ConnectionID)
	if err != nil {
		return fail(req.ID, err)
	}

	if req.Type == protocol.RequestCreateACL {
		err = bundle.Kafka.CreateACL(ctx, payload.ACL)
	} else {
		err = bundle.Kafka.DeleteACL(ctx, payload.ACL)
	}
	if err != nil {
		return fail(req.ID, err)
	}
	return ok(req.ID, nil)
}

// --- ZooKeeper -------------------------------------------------------------

func (g *Gateway) handleZK(ctx context.Context, req protocol.Request) protocol.Response {
	zr, err := unmarshal[protocol.ZKRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}
	bundle, err := g.registry.Handle(zr.ConnectionID)
	if err != nil {
		return fail(req.ID, err)
	}
	if bundle.Coordination == nil {
		return fail(req.ID, fmt.Errorf("server: connection %d has no coordination service configured", zr.ConnectionID))
	}
	zc := bundle.Coordination

	publishChange := func(change eventbus.ChangeKind) {
		eventbus.Publish(ctx, g.bus, eventbus.Coordination.Changed, eventbus.SourceGateway, eventbus.CoordinationChangeEvent{
			ConnectionID: zr.ConnectionID,
			Path:         zr.Path,
			Change:       change,
		})
	}

	switch req.Type {
	case protocol.RequestZKChildren:
		children, err := zc.Children(zr.Path)
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, children)
	case protocol.RequestZKGet:
		node, err := zc.GetNode(zr.Path)
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, node)
	case protocol.RequestZKSet:
		stat, err := zc.SetNode(zr.Path, zr.Data, zr.Version)
		if err != nil {
			return fail(req.ID, err)
		}
		publishChange(eventbus.ChangeUpdated)
		return ok(req.ID, stat)
	case protocol.RequestZKCreate:
		created, err := zc.CreateNode(zr.Path, zr.Data, zr.Ephemeral, zr.Sequential)
		if err != nil {
			return fail(req.ID, err)
		}
		publishChange(eventbus.ChangeCreated)
		return ok(req.ID, map[string]string{"path": created})
	case protocol.RequestZKDelete:
		if err := zc.DeleteNode(zr.Path, zr.Version); err != nil {
			return fail(req.ID, err)
		}
		publishChange(eventbus.ChangeDeleted)
		return ok(req.ID, nil)
	}
	return fail(req.ID, fmt.Errorf("server: unknown zk request %q", req.Type))
}

// --- schema registry -------------------------------------------------------

func (g *Gateway) handleSchema(ctx context.Context, req protocol.Request) protocol.Response {
	sr, err := unmarshal[protocol.SchemaRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}
	bundle, err := g.registry.Handle(sr.ConnectionID)
	if err != nil {
		return fail(req.ID, err)
	}
	if bundle.SchemaRegistry == nil {
		return fail(req.ID, fmt.Errorf("server: connection %d has no schema registry configured", sr.ConnectionID))
	}
	reg := bundle.SchemaRegistry

	switch req.Type {
	case protocol.RequestListSubjects:
		subjects, err := reg.Subjects(ctx)
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, subjects)
	case protocol.RequestSubjectVersions:
		versions, err := reg.Versions(ctx, sr.Subject)
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, versions)
	case protocol.RequestGetSchema:
		schema, err := reg.SchemaByVersion(ctx, sr.Subject, sr.Version)
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, schema)
	case protocol.RequestRegisterSchema:
		registered, err := reg.Register(ctx, sr.Subject, sr.Schema)
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, registered)
	case protocol.RequestCheckCompatibility:
		compatible, messages, err := reg.CheckCompatibility(ctx, sr.Subject, sr.Version, sr.Schema)
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, map[string]any{"compatible": compatible, "messages": messages})
	case protocol.RequestDeleteSubject:
		versions, err := reg.DeleteSubject(ctx, sr.Subject)
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, versions)
	}
	return fail(req.ID, fmt.Errorf("server: unknown schema request %q", req.Type))
}

// --- decoding --------------------------------------------------------------

func (g *Gateway) handleDecode(ctx context.Context, req protocol.Request) protocol.Response {
	dr, err := unmarshal[protocol.DecodeRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}

	var lookup decode.SchemaLookup
	if dr.ConnectionID != 0 {
		bundle, err := g.registry.Handle(dr.ConnectionID)
		if err != nil {
			return fail(req.ID, err)
		}
		if bundle.SchemaRegistry != nil {
			lookup = bundle.SchemaRegistry
		}
	}

	text, err := decode.NewRegistry(lookup).Decode(ctx, decode.Kind(dr.Kind), dr.Data)
	if err != nil {
		return fail(req.ID, err)
	}
	return ok(req.ID, map[string]string{"text": text})
}

// --- tasks -----------------------------------------------------------------

func (g *Gateway) handleTaskProgress(req protocol.Request) protocol.Response {
	tr, err := unmarshal[protocol.TaskRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}
	p, err := g.tasks.Progress(tr.TaskID)
	if err != nil {
		return fail(req.ID, err)
	}
	return ok(req.ID, p)
}

func (g *Gateway) handleTaskCancel(req protocol.Request) protocol.Response {
	tr, err := unmarshal[protocol.TaskRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}
	if err := g.tasks.Cancel(tr.TaskID); err != nil {
		return fail(req.ID, err)
	}
	return ok(req.ID, nil)
}

func (g *Gateway) handleTaskReap(req protocol.Request) protocol.Response {
	tr, err := unmarshal[protocol.TaskRequest](req)
	if err != nil {
		return fail(req.ID, err)
	}
	if err := g.tasks.Reap(tr.TaskID); err != nil {
		return fail(req.ID, err)
	}
	g.dropResults(tr.TaskID)
	return ok(req.ID, nil)
}
