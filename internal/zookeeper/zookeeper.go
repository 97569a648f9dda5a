// Package zookeeper adapts go-zookeeper to the coordination-service browsing
// surface: walking the znode tree, reading and writing node data, and
// rendering stat/ACL metadata.
package zookeeper

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

// ErrUnreachable reports that no ZooKeeper session could be established
// within the dial timeout.
var ErrUnreachable = errors.New("zookeeper: ensemble unreachable")

// ErrNodeNotFound reports that a znode does not exist.
var ErrNodeNotFound = errors.New("zookeeper: node not found")

// DefaultSessionTimeout mirrors the client library default.
const DefaultSessionTimeout = 10 * time.Second

// Config describes one ensemble.
type Config struct {
	Hosts          []string
	Chroot         string // optional path prefix, e.g. "/kafka"
	SessionTimeout time.Duration
}

// Stat is the znode metadata in display form. Times are Unix milliseconds.
type Stat struct {
	Czxid          int64 `json:"czxid"`
	Mzxid          int64 `json:"mzxid"`
	Pzxid          int64 `json:"pzxid"`
	Ctime          int64 `json:"ctime"`
	Mtime          int64 `json:"mtime"`
	Version        int32 `json:"version"`
	Cversion       int32 `json:"cversion"`
	Aversion       int32 `json:"aversion"`
	EphemeralOwner int64 `json:"ephemeral_owner"`
	DataLength     int32 `json:"data_length"`
	NumChildren    int32 `json:"num_children"`
}

// ACL is one znode ACL entry with its permission bits spelled out.
type ACL struct {
	Scheme      string   `json:"scheme"`
	ID          string   `json:"id"`
	Permissions []string `json:"permissions"`
}

// Node is a fully described znode.
type Node struct {
	Path     string   `json:"path"`
	Data     []byte   `json:"data"`
	Children []string `json:"children"`
	ACLs     []ACL    `json:"acls"`
	Stat     Stat     `json:"stat"`
}

// Client is the coordination-service capability surface.
type Client interface {
	Children(path string) ([]string, error)
	GetNode(path string) (Node, error)
	SetNode(path string, data []byte, version int32) (Stat, error)
	CreateNode(path string, data []byte, ephemeral, sequential bool) (string, error)
	DeleteNode(path string, version int32) error
	Exists(path string) (bool, error)
	Close()
}

type conn struct {
	zk     *zk.Conn
	chroot string
}

// Dial connects to the ensemble and waits for a live session. The zk library
// carries its own session management; operations after Dial block on the
// session rather than a context.
func Dial(cfg Config) (Client, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("zookeeper: no hosts configured")
	}
	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}

	zc, events, err := zk.Connect(cfg.Hosts, timeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zookeeper: connect: %w", err)
	}

	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				return &conn{zk: zc, chroot: normalizeChroot(cfg.Chroot)}, nil
			}
		case <-deadline:
			zc.Close()
			return nil, fmt.Errorf("%w: no session within %s", ErrUnreachable, timeout)
		}
	}
}

func normalizeChroot(chroot string) string {
	chroot = strings.TrimRight(chroot, "/")
	if chroot != "" && !strings.HasPrefix(chroot, "/") {
		chroot = "/" + chroot
	}
	return chroot
}

// resolve applies the chroot prefix to a display path.
func (c *conn) resolve(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if c.chroot == "" {
		return path
	}
	if path == "/" {
		return c.chroot
	}
	return c.chroot + path
}

func (c *conn) Close() {
	c.zk.Close()
}

func (c *conn) Children(path string) ([]string, error) {
	children, _, err := c.zk.Children(c.resolve(path))
	if err != nil {
		return nil, wrapZKErr("children", path, err)
	}
	return children, nil
}

func (c *conn) GetNode(path string) (Node, error) {
	full := c.resolve(path)

	data, stat, err := c.zk.Get(full)
	if err != nil {
		return Node{}, wrapZKErr("get", path, err)
	}
	children, _, err := c.zk.Children(full)
	if err != nil {
		return Node{}, wrapZKErr("children", path, err)
	}
	acls, _, err := c.zk.GetACL(full)
	if err != nil {
		return Node{}, wrapZKErr("acl", path, err)
	}

	return Node{
		Path:     path,
		Data:     data,
		Children: children,
		ACLs:     mapACLs(acls),
		Stat:     mapStat(stat),
	}, nil
}

func (c *conn) SetNode(path string, data []byte, version int32) (Stat, error) {
	stat, err := c.zk.Set(c.resolve(path), data, version)
	if err != nil {
		return Stat{}, wrapZKErr("set", path, err)
	}
	return mapStat(stat), nil
}

func (c *conn) CreateNode(path string, data []byte, ephemeral, sequential bool) (string, error) {
	var flags int32
	if ephemeral {
		flags |= zk.FlagEphemeral
	}
	if sequential {
		flags |= zk.FlagSequence
	}

	created, err := c.zk.Create(c.resolve(path), data, flags, zk.WorldACL(zk.PermAll))
	if err != nil {
		return "", wrapZKErr("create", path, err)
	}
	return strings.TrimPrefix(created, c.chroot), nil
}

func (c *conn) DeleteNode(path string, version int32) error {
	if err := c.zk.Delete(c.resolve(path), version); err != nil {
		return wrapZKErr("delete", path, err)
	}
	return nil
}

func (c *conn) Exists(path string) (bool, error) {
	ok, _, err := c.zk.Exists(c.resolve(path))
	if err != nil {
		return false, wrapZKErr("exists", path, err)
	}
	return ok, nil
}

func wrapZKErr(op, path string, err error) error {
	if errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, path)
	}
	return fmt.Errorf("zookeeper: %s %s: %w", op, path, err)
}

func mapStat(s *zk.Stat) Stat {
	if s == nil {
		return Stat{}
	}
	return Stat{
		Czxid:          s.Czxid,
		Mzxid:          s.Mzxid,
		Pzxid:          s.Pzxid,
		Ctime:          s.Ctime,
		Mtime:          s.Mtime,
		Version:        s.Version,
		Cversion:       s.Cversion,
		Aversion:       s.Aversion,
		EphemeralOwner: s.EphemeralOwner,
		DataLength:     s.DataLength,
		NumChildren:    s.NumChildren,
	}
}

var permNames = []struct {
	bit  int32
	name string
}{
	{zk.PermRead, "read"},
	{zk.PermWrite, "write"},
	{zk.PermCreate, "create"},
	{zk.PermDelete, "delete"},
	{zk.PermAdmin, "admin"},
}

func mapACLs(acls []zk.ACL) []ACL {
	out := make([]ACL, 0, len(acls))
	for _, a := range acls {
		entry := ACL{Scheme: a.Scheme, ID: a.ID}
		for _, p := range permNames {
			if a.Perms&p.bit != 0 {
				entry.Permissions = append(entry.Permissions, p.name)
			}
		}
		out = append(out, entry)
	}
	return out
}
