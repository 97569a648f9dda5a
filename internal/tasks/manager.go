// Package tasks runs long cluster operations in the background. Submission
// always succeeds and hands back a task ID; every outcome, including
// submission-time refusals like a busy consume slot, is reported through the
// task's progress record rather than an error from Submit.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/topiclens/topiclens/internal/eventbus"
)

// DefaultRetention is how long finished task records stay visible before the
// reaper removes them.
const DefaultRetention = 5 * time.Minute

// State is the task lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether a state is final.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

var (
	// ErrBusy reports that the connection's consume slot is already held.
	ErrBusy = errors.New("tasks: resource busy")

	// ErrCancelled is the failure recorded when a task is cancelled.
	ErrCancelled = errors.New("tasks: cancelled")

	// ErrStillRunning reports a reap attempt on an unfinished task.
	ErrStillRunning = errors.New("tasks: still running")
)

// NotFoundError reports an unknown (or already reaped) task ID.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tasks: task %s not found", e.ID)
}

// IsNotFound reports whether err is a task NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Progress is the externally visible record of one task.
type Progress struct {
	TaskID       string    `json:"task_id"`
	ConnectionID int64     `json:"connection_id,omitempty"`
	Kind         string    `json:"kind"`
	State        State     `json:"state"`
	Current      int       `json:"current"`
	Total        int       `json:"total"`
	Message      string    `json:"message,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
}

// Report lets an operation publish incremental progress.
type Report func(current, total int, message string)

// Operation is the body of a task. It must honor ctx cancellation between
// units of work; the manager never forcibly stops it.
type Operation func(ctx context.Context, report Report) error

// Spec describes a task at submission time.
type Spec struct {
	ConnectionID int64
	Kind         string // display label, e.g. "consume" or "delete-topic"
	Exclusive    bool   // holds the connection's single consume slot
	Op           Operation
}

type task struct {
	progress Progress
	cancel   context.CancelFunc
	holdSlot bool
	done     chan struct{}
}

// Manager owns all task records and their worker goroutines.
type Manager struct {
	bus       *eventbus.Bus
	retention time.Duration

	mu    sync.Mutex
	tasks map[string]*task
	slots map[int64]string // connection ID -> task holding its consume slot
	wg    sync.WaitGroup
}

// Option customises a Manager.
type Option func(*Manager)

// WithRetention overrides how long finished records are kept.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// NewManager creates a task manager. bus may be nil (progress events are
// dropped).
func NewManager(bus *eventbus.Bus, opts ...Option) *Manager {
	m := &Manager{
		bus:       bus,
		retention: DefaultRetention,
		tasks:     make(map[string]*task),
		slots:     make(map[int64]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit registers and starts a task, returning its ID. It never fails: a
// refused submission (busy consume slot) produces a task that is already
// failed, so callers observe every outcome the same way.
func (m *Manager) Submit(spec Spec) string {
	id := uuid.NewString()

	t := &task{
		progress: Progress{
			TaskID:       id,
			ConnectionID: spec.ConnectionID,
			Kind:         spec.Kind,
			State:        StatePending,
			StartedAt:    time.Now().UTC(),
		},
		done: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	m.mu.Lock()
	m.reapExpiredLocked()
	m.tasks[id] = t

	if spec.Exclusive {
		if holder, busy := m.slots[spec.ConnectionID]; busy {
			t.progress.State = StateFailed
			t.progress.Error = fmt.Sprintf("%v: connection %d already consumed by task %s", ErrBusy, spec.ConnectionID, holder)
			t.progress.FinishedAt = time.Now().UTC()
			close(t.done)
			m.mu.Unlock()
			cancel()
			m.publish(t.progress)
			return id
		}
		m.slots[spec.ConnectionID] = id
		t.holdSlot = true
	}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, id, t, spec)
	return id
}

func (m *Manager) run(ctx context.Context, id string, t *task, spec Spec) {
	defer m.wg.Done()
	defer close(t.done)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[TaskManager] task %s panicked: %v", id, r)
			m.finish(t, StateFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	// Cancel can land between Submit and here; honor it without invoking
	// the operation at all.
	if ctx.Err() != nil {
		m.finish(t, StateCancelled, ErrCancelled.Error())
		return
	}

	m.mu.Lock()
	t.progress.State = StateRunning
	snapshot := t.progress
	m.mu.Unlock()
	m.publish(snapshot)

	report := func(current, total int, message string) {
		m.mu.Lock()
		if t.progress.State.Terminal() {
			m.mu.Unlock()
			return
		}
		t.progress.Current = current
		t.progress.Total = total
		t.progress.Message = message
		snapshot := t.progress
		m.mu.Unlock()
		m.publish(snapshot)
	}

	err := spec.Op(ctx, report)
	switch {
	case err == nil:
		m.finish(t, StateSucceeded, "")
	case errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled):
		m.finish(t, StateCancelled, ErrCancelled.Error())
	default:
		m.finish(t, StateFailed, err.Error())
	}
}

func (m *Manager) finish(t *task, state State, errMsg string) {
	m.mu.Lock()
	if t.progress.State.Terminal() {
		m.mu.Unlock()
		return
	}
	t.progress.State = state
	t.progress.Error = errMsg
	t.progress.FinishedAt = time.Now().UTC()
	if t.holdSlot {
		if m.slots[t.progress.ConnectionID] == t.progress.TaskID {
			delete(m.slots, t.progress.ConnectionID)
		}
		t.holdSlot = false
	}
	snapshot := t.progress
	m.mu.Unlock()

	m.publish(snapshot)
}

// Progress returns the current record of one task.
func (m *Manager) Progress(id string) (Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return Progress{}, &NotFoundError{ID: id}
	}
	return t.progress, nil
}

// Cancel requests cooperative cancellation. Cancelling a finished task is a
// no-op success; the record keeps its original outcome.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	finished := t.progress.State.Terminal()
	m.mu.Unlock()

	if !finished {
		t.cancel()
	}
	return nil
}

// List returns all retained records, oldest first.
func (m *Manager) List() []Progress {
	m.mu.Lock()
	m.reapExpiredLocked()
	records := make([]Progress, 0, len(m.tasks))
	for _, t := range m.tasks {
		records = append(records, t.progress)
	}
	m.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].TaskID < records[j].TaskID
		}
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records
}

// Reap removes a finished record immediately.
func (m *Manager) Reap(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	if !t.progress.State.Terminal() {
		return ErrStillRunning
	}
	delete(m.tasks, id)
	return nil
}

// Shutdown cancels every running task and waits for workers to drain, or
// returns the context error if they do not.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, t := range m.tasks {
		if !t.progress.State.Terminal() {
			t.cancel()
		}
	}
	m.mu.Unlock()

	return eventbus.WaitForWorkers(ctx, &m.wg)
}

// Wait blocks until the task finishes or ctx expires. Test helper surface,
// but also used by synchronous IPC callers.
func (m *Manager) Wait(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return &NotFoundError{ID: id}
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) reapExpiredLocked() {
	if m.retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-m.retention)
	for id, t := range m.tasks {
		if t.progress.State.Terminal() && !t.progress.FinishedAt.IsZero() && t.progress.FinishedAt.Before(cutoff) {
			delete(m.tasks, id)
		}
	}
}

func (m *Manager) publish(p Progress) {
	eventbus.Publish(context.Background(), m.bus, eventbus.Tasks.Progress, eventbus.SourceTaskManager, eventbus.TaskProgressEvent{
		TaskID:       p.TaskID,
		ConnectionID: p.ConnectionID,
		Current:      p.Current,
		Total:        p.Total,
		Message:      p.Message,
		Complete:     p.State.Terminal(),
		Error:        p.Error,
	})
}
