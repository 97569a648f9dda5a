// Package schemareg adapts the Confluent-style schema registry API for
// subject browsing, schema registration and compatibility checks. It also
// backs the Avro message decoder's schema lookup, with a small in-process
// cache since schema IDs are immutable once registered.
package schemareg

import (
	"context"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/sr"
)

// Config describes one registry endpoint.
type Config struct {
	Endpoint string
	Username string // optional basic auth
	Password string
}

// SubjectSchema is one registered schema version.
type SubjectSchema struct {
	Subject string `json:"subject"`
	Version int    `json:"version"`
	ID      int    `json:"id"`
	Type    string `json:"type"`
	Schema  string `json:"schema"`
}

// Client is the schema registry capability surface.
type Client interface {
	Subjects(ctx context.Context) ([]string, error)
	Versions(ctx context.Context, subject string) ([]int, error)
	// SchemaByVersion resolves one version of a subject; version <= 0 means
	// the latest.
	SchemaByVersion(ctx context.Context, subject string, version int) (SubjectSchema, error)
	Register(ctx context.Context, subject, schema string) (SubjectSchema, error)
	CheckCompatibility(ctx context.Context, subject string, version int, schema string) (bool, []string, error)
	DeleteSubject(ctx context.Context, subject string) ([]int, error)

	// SchemaTextByID satisfies the message decoder's schema lookup.
	SchemaTextByID(ctx context.Context, id int) (string, error)
}

type client struct {
	sr *sr.Client

	mu   sync.RWMutex
	byID map[int]string
}

// New builds a registry client. The endpoint is probed lazily: registry
// errors surface on the first call, matching the underlying client.
func New(cfg Config) (Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("schemareg: no endpoint configured")
	}

	opts := []sr.ClientOpt{sr.URLs(cfg.Endpoint)}
	if cfg.Username != "" {
		opts = append(opts, sr.BasicAuth(cfg.Username, cfg.Password))
	}

	cl, err := sr.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("schemareg: create client: %w", err)
	}
	return &client{sr: cl, byID: make(map[int]string)}, nil
}

func (c *client) Subjects(ctx context.Context) ([]string, error) {
	subjects, err := c.sr.Subjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("schemareg: list subjects: %w", err)
	}
	return subjects, nil
}

func (c *client) Versions(ctx context.Context, subject string) ([]int, error) {
	versions, err := c.sr.SubjectVersions(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("schemareg: versions of %s: %w", subject, err)
	}
	return versions, nil
}

func (c *client) SchemaByVersion(ctx context.Context, subject string, version int) (SubjectSchema, error) {
	if version <= 0 {
		version = -1 // registry convention for latest
	}
	ss, err := c.sr.SchemaByVersion(ctx, subject, version)
	if err != nil {
		return SubjectSchema{}, fmt.Errorf("schemareg: %s version %d: %w", subject, version, err)
	}
	return mapSubjectSchema(ss), nil
}

func (c *client) Register(ctx context.Context, subject, schema string) (SubjectSchema, error) {
	ss, err := c.sr.CreateSchema(ctx, subject, sr.Schema{
		Schema: schema,
		Type:   sr.TypeAvro,
	})
	if err != nil {
		return SubjectSchema{}, fmt.Errorf("schemareg: register %s: %w", subject, err)
	}
	return mapSubjectSchema(ss), nil
}

func (c *client) CheckCompatibility(ctx context.Context, subject string, version int, schema string) (bool, []string, error) {
	if version <= 0 {
		version = -1
	}
	res, err := c.sr.CheckCompatibility(ctx, subject, version, sr.Schema{
		Schema: schema,
		Type:   sr.TypeAvro,
	})
	if err != nil {
		return false, nil, fmt.Errorf("schemareg: compatibility of %s: %w", subject, err)
	}
	return res.Is, res.Messages, nil
}

func (c *client) DeleteSubject(ctx context.Context, subject string) ([]int, error) {
	versions, err := c.sr.DeleteSubject(ctx, subject, sr.SoftDelete)
	if err != nil {
		return nil, fmt.Errorf("schemareg: delete %s: %w", subject, err)
	}
	return versions, nil
}

func (c *client) SchemaTextByID(ctx context.Context, id int) (string, error) {
	c.mu.RLock()
	text, ok := c.byID[id]
	c.mu.RUnlock()
	if ok {
		return text, nil
	}

	schema, err := c.sr.SchemaByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("schemareg: schema %d: %w", id, err)
	}

	c.mu.Lock()
	c.byID[id] = schema.Schema
	c.mu.Unlock()
	return schema.Schema, nil
}

func mapSubjectSchema(ss sr.SubjectSchema) SubjectSchema {
	return SubjectSchema{
		Subject: ss.Subject,
		Version: ss.Version,
		ID:      ss.ID,
		Type:    ss.Type.String(),
		Schema:  ss.Schema.Schema,
	}
}
