package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// Display enums for ACL fields. These are the lowercase forms the IPC surface
// uses; mapping to kadm/kmsg constants happens here.
const (
	ResourceTopic           = "topic"
	ResourceGroup           = "group"
	ResourceCluster         = "cluster"
	ResourceTransactionalID = "transactional_id"

	PatternLiteral  = "literal"
	PatternPrefixed = "prefixed"

	PermissionAllow = "allow"
	PermissionDeny  = "deny"
)

var aclOperations = map[string]kadm.ACLOperation{
	"all":              kadm.OpAll,
	"read":             kadm.OpRead,
	"write":            kadm.OpWrite,
	"create":           kadm.OpCreate,
	"delete":           kadm.OpDelete,
	"alter":            kadm.OpAlter,
	"describe":         kadm.OpDescribe,
	"cluster_action":   kadm.OpClusterAction,
	"describe_configs": kadm.OpDescribeConfigs,
	"alter_configs":    kadm.OpAlterConfigs,
	"idempotent_write": kadm.OpIdempotentWrite,
}

func aclOperation(s string) (kadm.ACLOperation, error) {
	op, ok := aclOperations[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("kafka: unknown ACL operation %q", s)
	}
	return op, nil
}

// aclBuilder translates one ACL binding into a kadm filter/builder. Used for
// both create and delete, which want an exact match.
func aclBuilder(acl ACL) (*kadm.ACLBuilder, error) {
	b := kadm.NewACLs()

	switch strings.ToLower(acl.ResourceType) {
	case ResourceTopic:
		b = b.Topics(acl.ResourceName)
	case ResourceGroup:
		b = b.Groups(acl.ResourceName)
	case ResourceCluster:
		b = b.Clusters()
	case ResourceTransactionalID:
		b = b.TransactionalIDs(acl.ResourceName)
	default:
		return nil, fmt.Errorf("kafka: unknown ACL resource type %q", acl.ResourceType)
	}

	switch strings.ToLower(acl.PatternType) {
	case PatternLiteral, "":
		b = b.ResourcePatternType(kadm.ACLPatternLiteral)
	case PatternPrefixed:
		b = b.ResourcePatternType(kadm.ACLPatternPrefixed)
	default:
		return nil, fmt.Errorf("kafka: unknown ACL pattern type %q", acl.PatternType)
	}

	op, err := aclOperation(acl.Operation)
	if err != nil {
		return nil, err
	}
	b = b.Operations(op)

	host := acl.Host
	if host == "" {
		host = "*"
	}
	switch strings.ToLower(acl.Permission) {
	case PermissionAllow:
		b = b.Allow(acl.Principal).AllowHosts(host)
	case PermissionDeny:
		b = b.Deny(acl.Principal).DenyHosts(host)
	default:
		return nil, fmt.Errorf("kafka: unknown ACL permission %q", acl.Permission)
	}

	return b, nil
}

func describedACL(d kadm.DescribedACL) ACL {
	acl := ACL{
		ResourceType: strings.ToLower(d.Type.String()),
		ResourceName: d.Name,
		PatternType:  strings.ToLower(d.Pattern.String()),
		Principal:    d.Principal,
		Host:         d.Host,
		Operation:    strings.ToLower(d.Operation.String()),
		Permission:   PermissionDeny,
	}
	if d.Permission == kmsg.ACLPermissionTypeAllow {
		acl.Permission = PermissionAllow
	}
	return acl
}

func (c *client) ListACLs(ctx context.Context) ([]ACL, error) {
	// Match everything: any resource, any pattern, any operation, both
	// permission sides with any principal and host.
	b := kadm.NewACLs().
		AnyResource().
		ResourcePatternType(kadm.ACLPatternAny).
		Operations(kadm.OpAny).
		Allow().AllowHosts().
		Deny().DenyHosts()

	results, err := c.adm.DescribeACLs(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("kafka: list ACLs: %w", err)
	}

	var acls []ACL
	for _, r := range results {
		if r.Err != nil {
			return nil, fmt.Errorf("kafka: list ACLs: %w", r.Err)
		}
		for _, d := range r.Described {
			acls = append(acls, describedACL(d))
		}
	}
	return acls, nil
}

func (c *client) CreateACL(ctx context.Context, acl ACL) error {
	b, err := aclBuilder(acl)
	if err != nil {
		return err
	}

	results, err := c.adm.CreateACLs(ctx, b)
	if err != nil {
		return fmt.Errorf("kafka: create ACL: %w", err)
	}
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("kafka: create ACL: %w", r.Err)
		}
	}
	return nil
}

func (c *client) DeleteACL(ctx context.Context, acl ACL) error {
	b, err := aclBuilder(acl)
	if err != nil {
		return err
	}

	results, err := c.adm.DeleteACLs(ctx, b)
	if err != nil {
		return fmt.Errorf("kafka: delete ACL: %w", err)
	}
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("kafka: delete ACL: %w", r.Err)
		}
	}
	return nil
}
