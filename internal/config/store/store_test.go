package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/topiclens/topiclens/internal/cluster"
	"github.com/topiclens/topiclens/internal/config/secret"
	"github.com/topiclens/topiclens/internal/kafka"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{DBPath: filepath.Join(t.TempDir(), "config.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConnectionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	enc, err := secret.Encrypt("swordfish")
	if err != nil {
		t.Fatal(err)
	}

	conn := cluster.ServerConnection{
		Name:              "staging",
		BootstrapServers:  []string{"b1:9092", "b2:9092"},
		Security:          kafka.SecuritySASLSSL,
		SASLMechanism:     kafka.SASLScramSha256,
		SASLUsername:      "svc-topiclens",
		SASLPasswordEnc:   enc,
		TLSSkipVerify:     true,
		ZKHosts:           []string{"zk1:2181"},
		ZKChroot:          "/kafka",
		SchemaRegistryURL: "http://sr:8081",
	}

	id, err := s.CreateConnection(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Fatal("expected non-zero ID")
	}

	got, err := s.GetConnection(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != conn.Name || got.Security != conn.Security || !got.TLSSkipVerify {
		t.Fatalf("unexpected connection: %+v", got)
	}
	if len(got.BootstrapServers) != 2 || got.BootstrapServers[1] != "b2:9092" {
		t.Fatalf("bootstrap servers: %v", got.BootstrapServers)
	}
	if got.ZKChroot != "/kafka" || len(got.ZKHosts) != 1 {
		t.Fatalf("zookeeper fields: %+v", got)
	}

	// Ciphertext round-trips through the store untouched.
	password, err := secret.Decrypt(got.SASLPasswordEnc)
	if err != nil || password != "swordfish" {
		t.Fatalf("stored credential: %q, %v", password, err)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("created_at not populated")
	}
}

func TestConnectionUpdateAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateConnection(ctx, cluster.ServerConnection{
		Name:             "local",
		BootstrapServers: []string{"localhost:9092"},
		Security:         kafka.SecurityPlaintext,
	})
	if err != nil {
		t.Fatal(err)
	}

	conn, _ := s.GetConnection(ctx, id)
	conn.Name = "local-renamed"
	conn.BootstrapServers = []string{"localhost:9095"}
	if err := s.UpdateConnection(ctx, conn); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetConnection(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "local-renamed" || got.BootstrapServers[0] != "localhost:9095" {
		t.Fatalf("update not applied: %+v", got)
	}

	if err := s.DeleteConnection(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetConnection(ctx, id); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if err := s.DeleteConnection(ctx, id); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError on double delete, got %v", err)
	}
	if err := s.UpdateConnection(ctx, conn); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError updating deleted row, got %v", err)
	}
}

func TestListConnections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		if _, err := s.CreateConnection(ctx, cluster.ServerConnection{
			Name:             name,
			BootstrapServers: []string{name + ":9092"},
			Security:         kafka.SecurityPlaintext,
		}); err != nil {
			t.Fatal(err)
		}
	}

	conns, err := s.ListConnections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(conns) != 3 {
		t.Fatalf("expected 3 connections, got %d", len(conns))
	}
	for i := 1; i < len(conns); i++ {
		if conns[i].ID <= conns[i-1].ID {
			t.Fatal("connections not ordered by ID")
		}
	}
}

func TestSettings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSettings(ctx, map[string]string{
		"log_level":        "debug",
		"consume_max_rows": "500",
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSettings(ctx, map[string]string{"log_level": "info"}); err != nil {
		t.Fatal(err)
	}

	all, err := s.LoadSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if all["log_level"] != "info" || all["consume_max_rows"] != "500" {
		t.Fatalf("unexpected settings: %v", all)
	}

	one, err := s.LoadSettings(ctx, "log_level")
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 1 || one["log_level"] != "info" {
		t.Fatalf("filtered settings: %v", one)
	}
}
