package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/topiclens/topiclens/internal/cluster"
	"github.com/topiclens/topiclens/internal/kafka"
)

const sqliteTimeFormat = "2006-01-02 15:04:05"

const connectionColumns = `id, name, bootstrap_servers, security, sasl_mechanism,
	sasl_username, sasl_password_enc, tls_skip_verify, zk_hosts, zk_chroot,
	schema_registry_url, schema_registry_user, schema_registry_pass_enc,
	created_at, updated_at`

// CreateConnection inserts a profile and returns its assigned ID. Password
// fields must already carry codec ciphertext.
func (s *Store) CreateConnection(ctx context.Context, conn cluster.ServerConnection) (int64, error) {
	if s.readOnly {
		return 0, fmt.Errorf("config: create connection: store opened read-only")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO server_connections (
			name, bootstrap_servers, security, sasl_mechanism, sasl_username,
			sasl_password_enc, tls_skip_verify, zk_hosts, zk_chroot,
			schema_registry_url, schema_registry_user, schema_registry_pass_enc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.Name,
		strings.Join(conn.BootstrapServers, ","),
		string(conn.Security),
		string(conn.SASLMechanism),
		conn.SASLUsername,
		conn.SASLPasswordEnc,
		boolToInt(conn.TLSSkipVerify),
		strings.Join(conn.ZKHosts, ","),
		conn.ZKChroot,
		conn.SchemaRegistryURL,
		conn.SchemaRegistryUser,
		conn.SchemaRegistryPassEnc,
	)
	if err != nil {
		return 0, fmt.Errorf("config: create connection %q: %w", conn.Name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("config: create connection %q: %w", conn.Name, err)
	}
	return id, nil
}

// GetConnection loads one profile by ID.
func (s *Store) GetConnection(ctx context.Context, id int64) (cluster.ServerConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM server_connections WHERE id = ?`, id)

	conn, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return cluster.ServerConnection{}, NotFoundError{Entity: "server connection", Key: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return cluster.ServerConnection{}, fmt.Errorf("config: get connection %d: %w", id, err)
	}
	return conn, nil
}

// ListConnections returns every stored profile ordered by ID.
func (s *Store) ListConnections(ctx context.Context) ([]cluster.ServerConnection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM server_connections ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("config: list connections: %w", err)
	}
	defer rows.Close()

	var conns []cluster.ServerConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("config: scan connection row: %w", err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate connection rows: %w", err)
	}
	return conns, nil
}

// UpdateConnection replaces a stored profile.
func (s *Store) UpdateConnection(ctx context.Context, conn cluster.ServerConnection) error {
	if s.readOnly {
		return fmt.Errorf("config: update connection: store opened read-only")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE server_connections SET
			name = ?, bootstrap_servers = ?, security = ?, sasl_mechanism = ?,
			sasl_username = ?, sasl_password_enc = ?, tls_skip_verify = ?,
			zk_hosts = ?, zk_chroot = ?, schema_registry_url = ?,
			schema_registry_user = ?, schema_registry_pass_enc = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		conn.Name,
		strings.Join(conn.BootstrapServers, ","),
		string(conn.Security),
		string(conn.SASLMechanism),
		conn.SASLUsername,
		conn.SASLPasswordEnc,
		boolToInt(conn.TLSSkipVerify),
		strings.Join(conn.ZKHosts, ","),
		conn.ZKChroot,
		conn.SchemaRegistryURL,
		conn.SchemaRegistryUser,
		conn.SchemaRegistryPassEnc,
		conn.ID,
	)
	if err != nil {
		return fmt.Errorf("config: update connection %d: %w", conn.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("config: update connection %d: %w", conn.ID, err)
	}
	if affected == 0 {
		return NotFoundError{Entity: "server connection", Key: strconv.FormatInt(conn.ID, 10)}
	}
	return nil
}

// DeleteConnection removes a stored profile.
func (s *Store) DeleteConnection(ctx context.Context, id int64) error {
	if s.readOnly {
		return fmt.Errorf("config: delete connection: store opened read-only")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM server_connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("config: delete connection %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("config: delete connection %d: %w", id, err)
	}
	if affected == 0 {
		return NotFoundError{Entity: "server connection", Key: strconv.FormatInt(id, 10)}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (cluster.ServerConnection, error) {
	var (
		conn                 cluster.ServerConnection
		bootstrap, zkHosts   string
		security, mechanism  string
		tlsSkipVerify        int
		createdAt, updatedAt string
	)

	err := row.Scan(
		&conn.ID,
		&conn.Name,
		&bootstrap,
		&security,
		&mechanism,
		&conn.SASLUsername,
		&conn.SASLPasswordEnc,
		&tlsSkipVerify,
		&zkHosts,
		&conn.ZKChroot,
		&conn.SchemaRegistryURL,
		&conn.SchemaRegistryUser,
		&conn.SchemaRegistryPassEnc,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return cluster.ServerConnection{}, err
	}

	conn.BootstrapServers = splitHosts(bootstrap)
	conn.ZKHosts = splitHosts(zkHosts)
	conn.Security = kafka.SecurityMode(security)
	conn.SASLMechanism = kafka.SASLMechanism(mechanism)
	conn.TLSSkipVerify = tlsSkipVerify != 0
	conn.CreatedAt = parseSQLiteTime(createdAt)
	conn.UpdatedAt = parseSQLiteTime(updatedAt)
	return conn, nil
}

func splitHosts(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	hosts := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			hosts = append(hosts, p)
		}
	}
	return hosts
}

func parseSQLiteTime(s string) time.Time {
	t, err := time.Parse(sqliteTimeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
