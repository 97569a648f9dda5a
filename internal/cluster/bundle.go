package cluster

import (
	"context"
	"fmt"

	"github.com/topiclens/topiclens/internal/config/secret"
	"github.com/topiclens/topiclens/internal/kafka"
	"github.com/topiclens/topiclens/internal/schemareg"
	"github.com/topiclens/topiclens/internal/zookeeper"
)

// Bundle is the set of live clients for one connected cluster. It is created
// and closed as a unit: a connection is never half-connected.
type Bundle struct {
	Kafka          kafka.Client
	Coordination   zookeeper.Client // nil when no ZooKeeper hosts are configured
	SchemaRegistry schemareg.Client // nil when no registry endpoint is configured
}

// Close releases every client in the bundle.
func (b *Bundle) Close() {
	if b == nil {
		return
	}
	if b.Kafka != nil {
		b.Kafka.Close()
	}
	if b.Coordination != nil {
		b.Coordination.Close()
	}
}

// Dialer turns a connection profile into a live bundle. The registry only
// ever talks to this interface; tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, conn ServerConnection) (*Bundle, error)
}

// LiveDialer dials real clusters.
type LiveDialer struct {
	ClientID string
}

// Dial decrypts credentials, connects the Kafka client, and attaches the
// optional ZooKeeper and schema registry clients. Any failure closes
// whatever was already opened.
func (d *LiveDialer) Dial(ctx context.Context, conn ServerConnection) (*Bundle, error) {
	cfg := kafka.Config{
		BootstrapServers: conn.BootstrapServers,
		Security:         conn.Security,
		Mechanism:        conn.SASLMechanism,
		Username:         conn.SASLUsername,
		TLSSkipVerify:    conn.TLSSkipVerify,
		ClientID:         d.ClientID,
	}
	if conn.SASLPasswordEnc != "" {
		password, err := secret.Decrypt(conn.SASLPasswordEnc)
		if err != nil {
			// A garbled credential must never reach the broker.
			return nil, fmt.Errorf("%w: stored SASL credential: %v", ErrAuthenticationFailed, err)
		}
		cfg.Password = password
	}

	kc, err := kafka.Dial(ctx, cfg)
	if err != nil {
		return nil, classifyDialError(err)
	}

	bundle := &Bundle{Kafka: kc}

	if len(conn.ZKHosts) > 0 {
		zc, err := zookeeper.Dial(zookeeper.Config{
			Hosts:  conn.ZKHosts,
			Chroot: conn.ZKChroot,
		})
		if err != nil {
			bundle.Close()
			return nil, classifyDialError(err)
		}
		bundle.Coordination = zc
	}

	if conn.SchemaRegistryURL != "" {
		srCfg := schemareg.Config{
			Endpoint: conn.SchemaRegistryURL,
			Username: conn.SchemaRegistryUser,
		}
		if conn.SchemaRegistryPassEnc != "" {
			password, err := secret.Decrypt(conn.SchemaRegistryPassEnc)
			if err != nil {
				bundle.Close()
				return nil, fmt.Errorf("%w: stored registry credential: %v", ErrAuthenticationFailed, err)
			}
			srCfg.Password = password
		}
		sc, err := schemareg.New(srCfg)
		if err != nil {
			bundle.Close()
			return nil, err
		}
		bundle.SchemaRegistry = sc
	}

	return bundle, nil
}
