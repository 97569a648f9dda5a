// Package daemon wires the config store, connection registry, task manager
// and IPC surfaces into one long-running process per instance.
package daemon

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/topiclens/topiclens/internal/cluster"
	"github.com/topiclens/topiclens/internal/config"
	configstore "github.com/topiclens/topiclens/internal/config/store"
	"github.com/topiclens/topiclens/internal/eventbus"
	"github.com/topiclens/topiclens/internal/server"
	"github.com/topiclens/topiclens/internal/tasks"
	"github.com/topiclens/topiclens/internal/version"
)

const shutdownTimeout = 10 * time.Second

// eventsAddrKey is the settings row advertising the websocket event stream
// address to UI processes.
const eventsAddrKey = "events_addr"

// Options configures a Daemon.
type Options struct {
	InstanceName string
	// EventsAddr is the bind address for the websocket event stream.
	// Defaults to an ephemeral loopback port.
	EventsAddr string
}

// Daemon is the long-running service process.
type Daemon struct {
	instanceName string
	paths        config.InstancePaths

	store    *configstore.Store
	bus      *eventbus.Bus
	registry *cluster.Registry
	tasks    *tasks.Manager
	gateway  *server.Gateway
	events   *server.EventServer

	ctx    context.Context
	cancel context.CancelFunc

	shutdownOnce sync.Once
	done         chan struct{}
}

// New builds a daemon for the given instance. The config store is opened and
// stored connections are loaded into the registry; nothing listens yet.
func New(opts Options) (*Daemon, error) {
	paths, err := config.EnsureInstanceDirs(opts.InstanceName)
	if err != nil {
		return nil, fmt.Errorf("daemon: prepare instance directories: %w", err)
	}

	st, err := configstore.Open(configstore.Options{InstanceName: opts.InstanceName})
	if err != nil {
		return nil, fmt.Errorf("daemon: open config store: %w", err)
	}

	bus := eventbus.New()
	registry := cluster.NewRegistry(&cluster.LiveDialer{ClientID: "topiclens"}, bus)
	manager := tasks.NewManager(bus)

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		instanceName: opts.InstanceName,
		paths:        paths,
		store:        st,
		bus:          bus,
		registry:     registry,
		tasks:        manager,
		events:       server.NewEventServer(bus, eventsAddr(opts.EventsAddr)),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	d.gateway = server.NewGateway(server.Deps{
		SocketPath: paths.Socket,
		Registry:   registry,
		Store:      st,
		Tasks:      manager,
		Bus:        bus,
		Version:    version.String(),
		OnShutdown: d.Shutdown,
	})

	if err := d.loadConnections(ctx); err != nil {
		cancel()
		st.Close()
		return nil, err
	}
	return d, nil
}

func eventsAddr(addr string) string {
	if addr == "" {
		return "127.0.0.1:0"
	}
	return addr
}

// loadConnections seeds the registry with every stored server connection.
// All start disconnected; connecting is always an explicit client action.
func (d *Daemon) loadConnections(ctx context.Context) error {
	conns, err := d.store.ListConnections(ctx)
	if err != nil {
		return fmt.Errorf("daemon: load stored connections: %w", err)
	}
	for _, conn := range conns {
		if err := d.registry.Add(ctx, conn); err != nil {
			return fmt.Errorf("daemon: register connection %q: %w", conn.Name, err)
		}
	}
	log.Printf("[Daemon] loaded %d stored connection(s)", len(conns))
	return nil
}

// Start brings up the IPC socket and event stream, then blocks until
// Shutdown is called or the context given here is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	if err := writePIDFile(d.paths.Lock, os.Getpid()); err != nil {
		return fmt.Errorf("daemon: write lock file: %w", err)
	}
	defer os.Remove(d.paths.Lock)

	if err := d.gateway.Start(d.ctx); err != nil {
		return err
	}

	addr, err := d.events.Start(d.ctx)
	if err != nil {
		d.Shutdown()
		return err
	}
	if err := d.store.SaveSettings(d.ctx, map[string]string{eventsAddrKey: addr}); err != nil {
		log.Printf("[Daemon] persist events address: %v", err)
	}

	log.Printf("[Daemon] instance %q ready (pid %d)", instanceLabel(d.instanceName), os.Getpid())

	select {
	case <-ctx.Done():
		d.Shutdown()
	case <-d.ctx.Done():
	}
	<-d.done
	return nil
}

// Shutdown stops accepting requests, cancels running tasks, disconnects
// every cluster and closes the store. Safe to call more than once.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		log.Printf("[Daemon] shutting down")
		d.cancel()

		shutdownCtx, release := context.WithTimeout(context.Background(), shutdownTimeout)
		defer release()

		if err := d.gateway.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Daemon] gateway shutdown: %v", err)
		}
		d.events.Shutdown()
		if err := d.tasks.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Daemon] task manager shutdown: %v", err)
		}
		d.registry.Shutdown()
		d.bus.Shutdown()
		if err := d.store.Close(); err != nil {
			log.Printf("[Daemon] close store: %v", err)
		}
		close(d.done)
	})
}

func instanceLabel(name string) string {
	if name == "" {
		return config.DefaultInstance
	}
	return name
}

// IsRunning reports whether a daemon already serves the named instance.
// A live socket wins; otherwise the lock file's PID is probed, and stale
// lock files are cleaned up on the way.
func IsRunning(instanceName string) bool {
	paths := config.GetInstancePaths(instanceName)

	if conn, err := net.Dial("unix", paths.Socket); err == nil {
		conn.Close()
		return true
	}

	data, err := os.ReadFile(paths.Lock)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		os.Remove(paths.Lock)
		return false
	}
	if !isProcessAlive(pid) {
		os.Remove(paths.Lock)
		return false
	}
	return true
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func writePIDFile(path string, pid int) error {
	if path == "" {
		return fmt.Errorf("daemon: lock file path is empty")
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600)
}
