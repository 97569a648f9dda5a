// Package cluster owns the connection registry: the authoritative mapping
// from configured server connections to live client handle bundles, with a
// per-connection state machine gating every remote operation.
package cluster

import (
	"time"

	"github.com/topiclens/topiclens/internal/kafka"
)

// ServerConnection is one configured cluster profile. Password fields hold
// the credential codec's hex ciphertext; plaintext only exists inside the
// dial path.
type ServerConnection struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`

	BootstrapServers []string            `json:"bootstrap_servers"`
	Security         kafka.SecurityMode  `json:"security"`
	SASLMechanism    kafka.SASLMechanism `json:"sasl_mechanism,omitempty"`
	SASLUsername     string              `json:"sasl_username,omitempty"`
	// SASLPasswordEnc holds the obfuscated credential; plaintext never
	// crosses the IPC boundary or the store.
	SASLPasswordEnc string `json:"sasl_password_enc,omitempty"`
	TLSSkipVerify   bool   `json:"tls_skip_verify,omitempty"`

	ZKHosts  []string `json:"zk_hosts,omitempty"`
	ZKChroot string   `json:"zk_chroot,omitempty"`

	SchemaRegistryURL     string `json:"schema_registry_url,omitempty"`
	SchemaRegistryUser    string `json:"schema_registry_user,omitempty"`
	SchemaRegistryPassEnc string `json:"schema_registry_pass_enc,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

// Status is the registry's view of one connection.
type Status struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Reason      string    `json:"reason,omitempty"` // failure reason when State == StateFailed
	ConnectedAt time.Time `json:"connected_at,omitzero"`
}
