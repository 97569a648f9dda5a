package tasks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/topiclens/topiclens/internal/eventbus"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSubmitRunsToSuccess(t *testing.T) {
	m := NewManager(nil)
	id := m.Submit(Spec{
		ConnectionID: 1,
		Kind:         "create-topic",
		Op: func(ctx context.Context, report Report) error {
			report(1, 3, "creating")
			report(3, 3, "done")
			return nil
		},
	})

	if err := m.Wait(waitCtx(t), id); err != nil {
		t.Fatal(err)
	}

	p, err := m.Progress(id)
	if err != nil {
		t.Fatal(err)
	}
	if p.State != StateSucceeded || p.Current != 3 || p.Total != 3 {
		t.Fatalf("unexpected progress: %+v", p)
	}
	if p.FinishedAt.IsZero() {
		t.Fatal("finished_at not set")
	}
}

func TestOperationErrorFailsTask(t *testing.T) {
	m := NewManager(nil)
	id := m.Submit(Spec{
		Kind: "delete-topic",
		Op: func(ctx context.Context, report Report) error {
			return errors.New("unknown topic")
		},
	})

	if err := m.Wait(waitCtx(t), id); err != nil {
		t.Fatal(err)
	}
	p, _ := m.Progress(id)
	if p.State != StateFailed || p.Error != "unknown topic" {
		t.Fatalf("unexpected progress: %+v", p)
	}
}

func TestCancelRunningTask(t *testing.T) {
	m := NewManager(nil)
	started := make(chan struct{})
	id := m.Submit(Spec{
		Kind: "consume",
		Op: func(ctx context.Context, report Report) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})

	<-started
	if err := m.Cancel(id); err != nil {
		t.Fatal(err)
	}
	if err := m.Wait(waitCtx(t), id); err != nil {
		t.Fatal(err)
	}

	p, _ := m.Progress(id)
	if p.State != StateCancelled {
		t.Fatalf("expected cancelled, got %+v", p)
	}

	// Cancelling a finished task is a no-op; the outcome is unchanged.
	if err := m.Cancel(id); err != nil {
		t.Fatal(err)
	}
	p, _ = m.Progress(id)
	if p.State != StateCancelled {
		t.Fatalf("outcome changed by late cancel: %+v", p)
	}
}

func TestCancelBeforeStartSkipsOperation(t *testing.T) {
	m := NewManager(nil)

	// Build the record the way Submit does, but run the worker by hand so
	// the cancel deterministically lands before it starts.
	ctx, cancel := context.WithCancel(context.Background())
	tk := &task{
		progress: Progress{
			TaskID:    "pending-cancel",
			Kind:      "consume",
			State:     StatePending,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	m.tasks[tk.progress.TaskID] = tk
	m.mu.Unlock()

	if err := m.Cancel(tk.progress.TaskID); err != nil {
		t.Fatal(err)
	}

	invoked := false
	m.wg.Add(1)
	m.run(ctx, tk.progress.TaskID, tk, Spec{Op: func(ctx context.Context, report Report) error {
		invoked = true
		return nil
	}})

	if invoked {
		t.Fatal("operation ran despite pre-start cancellation")
	}
	p, err := m.Progress(tk.progress.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if p.State != StateCancelled {
		t.Fatalf("expected cancelled, got %+v", p)
	}
	if p.Error != ErrCancelled.Error() {
		t.Fatalf("expected cancellation error text, got %q", p.Error)
	}
}

func TestConsumeSlotBusy(t *testing.T) {
	m := NewManager(nil)
	release := make(chan struct{})
	started := make(chan struct{})

	first := m.Submit(Spec{
		ConnectionID: 7,
		Kind:         "consume",
		Exclusive:    true,
		Op: func(ctx context.Context, report Report) error {
			close(started)
			<-release
			return nil
		},
	})
	<-started

	second := m.Submit(Spec{
		ConnectionID: 7,
		Kind:         "consume",
		Exclusive:    true,
		Op: func(ctx context.Context, report Report) error {
			t.Error("second consume must not run")
			return nil
		},
	})

	p, err := m.Progress(second)
	if err != nil {
		t.Fatal(err)
	}
	if p.State != StateFailed || !strings.Contains(p.Error, "busy") {
		t.Fatalf("expected busy failure, got %+v", p)
	}

	// Exclusivity is per connection.
	other := m.Submit(Spec{
		ConnectionID: 8,
		Kind:         "consume",
		Exclusive:    true,
		Op:           func(ctx context.Context, report Report) error { return nil },
	})
	if err := m.Wait(waitCtx(t), other); err != nil {
		t.Fatal(err)
	}
	if p, _ := m.Progress(other); p.State != StateSucceeded {
		t.Fatalf("other connection blocked: %+v", p)
	}

	close(release)
	if err := m.Wait(waitCtx(t), first); err != nil {
		t.Fatal(err)
	}

	// Slot is released on completion.
	third := m.Submit(Spec{
		ConnectionID: 7,
		Kind:         "consume",
		Exclusive:    true,
		Op:           func(ctx context.Context, report Report) error { return nil },
	})
	if err := m.Wait(waitCtx(t), third); err != nil {
		t.Fatal(err)
	}
	if p, _ := m.Progress(third); p.State != StateSucceeded {
		t.Fatalf("slot not released: %+v", p)
	}
}

func TestPanicContained(t *testing.T) {
	m := NewManager(nil)
	id := m.Submit(Spec{
		Kind: "describe-group",
		Op: func(ctx context.Context, report Report) error {
			panic("boom")
		},
	})

	if err := m.Wait(waitCtx(t), id); err != nil {
		t.Fatal(err)
	}
	p, _ := m.Progress(id)
	if p.State != StateFailed || !strings.Contains(p.Error, "panic: boom") {
		t.Fatalf("expected contained panic, got %+v", p)
	}

	// The manager still works after a panic.
	next := m.Submit(Spec{
		Kind: "noop",
		Op:   func(ctx context.Context, report Report) error { return nil },
	})
	if err := m.Wait(waitCtx(t), next); err != nil {
		t.Fatal(err)
	}
}

func TestReap(t *testing.T) {
	m := NewManager(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	running := m.Submit(Spec{
		Kind: "consume",
		Op: func(ctx context.Context, report Report) error {
			close(started)
			<-release
			return nil
		},
	})
	<-started

	if err := m.Reap(running); !errors.Is(err, ErrStillRunning) {
		t.Fatalf("expected ErrStillRunning, got %v", err)
	}

	close(release)
	if err := m.Wait(waitCtx(t), running); err != nil {
		t.Fatal(err)
	}
	if err := m.Reap(running); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Progress(running); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError after reap, got %v", err)
	}
	if err := m.Reap(running); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError on double reap, got %v", err)
	}
}

func TestRetentionExpiry(t *testing.T) {
	m := NewManager(nil, WithRetention(20*time.Millisecond))
	id := m.Submit(Spec{
		Kind: "noop",
		Op:   func(ctx context.Context, report Report) error { return nil },
	})
	if err := m.Wait(waitCtx(t), id); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := m.List(); len(got) != 0 {
		t.Fatalf("expected expired record to be reaped, got %+v", got)
	}
	if _, err := m.Progress(id); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError after expiry, got %v", err)
	}
}

func TestUnknownTaskID(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.Progress("nope"); !IsNotFound(err) {
		t.Fatalf("Progress: %v", err)
	}
	if err := m.Cancel("nope"); !IsNotFound(err) {
		t.Fatalf("Cancel: %v", err)
	}
	if err := m.Reap("nope"); !IsNotFound(err) {
		t.Fatalf("Reap: %v", err)
	}
}

func TestProgressEventsPublished(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()
	sub := eventbus.SubscribeTo(bus, eventbus.Tasks.Progress, eventbus.WithSubscriptionBuffer(16))
	defer sub.Close()

	m := NewManager(bus)
	id := m.Submit(Spec{
		ConnectionID: 3,
		Kind:         "consume",
		Op: func(ctx context.Context, report Report) error {
			report(10, 100, "fetching")
			return nil
		},
	})
	if err := m.Wait(waitCtx(t), id); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case env := <-sub.C():
			ev := env.Payload
			if ev.TaskID != id {
				continue
			}
			if ev.Complete {
				if ev.Error != "" {
					t.Fatalf("unexpected error in completion event: %+v", ev)
				}
				return
			}
		case <-deadline:
			t.Fatal("no completion event observed")
		}
	}
}
