package deferred

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

func TestQueue_RebindsTenant(t *testing.T) {
	q := New(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	got := make(chan string, 1)
	err := q.Submit(Job{
		Name:     "rebind",
		TenantID: "fam-9",
		Run: func(ctx context.Context) error {
			id, err := tenant.Require(ctx)
			got <- id
			return err
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case id := <-got:
		if id != "fam-9" {
			t.Fatalf("expected fam-9, got %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestQueue_FullReturnsErr(t *testing.T) {
	q := New(1, 1)
	noop := Job{Name: "noop", Run: func(context.Context) error { return nil }}
	if err := q.Submit(noop); err != nil {
		t.Fatal(err)
	}
	if err := q.Submit(noop); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got: %v", err)
	}
}

func TestQueue_FailuresAndPanicsAreContained(t *testing.T) {
	q := New(1, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	var ran atomic.Int32
	_ = q.Submit(Job{Name: "boom", Run: func(context.Context) error { panic("kaboom") }})
	_ = q.Submit(Job{Name: "err", Run: func(context.Context) error { return errors.New("nope") }})
	_ = q.Submit(Job{Name: "ok", Run: func(context.Context) error { ran.Add(1); return nil }})

	done := make(chan struct{})
	go func() { q.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs did not finish")
	}
	if ran.Load() != 1 {
		t.Fatal("worker should survive a panicking job")
	}
}

func TestExecute_UnboundWithoutTenant(t *testing.T) {
	err := Execute(context.Background(), Job{Run: func(ctx context.Context) error {
		_, err := tenant.Require(ctx)
		return err
	}}, time.Second)
	if !errors.Is(err, tenant.ErrUnbound) {
		t.Fatalf("expected ErrUnbound, got: %v", err)
	}
}

// TestQueue_WaitReturnsAfterShutdown verifies jobs left in the channel when
// the context ends do not hold Wait forever.
func TestQueue_WaitReturnsAfterShutdown(t *testing.T) {
	q := New(1, 10)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	blocker := Job{Name: "blocker", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	if err := q.Submit(blocker); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := q.Submit(Job{Name: "queued", Run: func(context.Context) error { return nil }}); err != nil {
			t.Fatal(err)
		}
	}

	stopped := make(chan struct{})
	go func() {
		q.Start(ctx)
		close(stopped)
	}()
	<-started
	cancel()

	waited := make(chan struct{})
	go func() {
		q.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after shutdown")
	}

	<-stopped
	if err := q.Submit(blocker); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed after shutdown, got: %v", err)
	}
}
