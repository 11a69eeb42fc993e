package pool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nexus-build/nexus/pkg/models"
)

type fakeWorktrees struct {
	mu      sync.Mutex
	created int
	removed []string
}

func (f *fakeWorktrees) Create(agentID string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return fmt.Sprintf("/tmp/wt-%s", agentID), "agent-" + agentID, nil
}

func (f *fakeWorktrees) Remove(path string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	return nil
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	wt := &fakeWorktrees{}
	p := New(wt)

	slot, err := p.Acquire(context.Background(), models.AgentTypeBuilder, "task-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if slot.WorkingCopy == nil || slot.WorkingCopy.Path == "" {
		t.Fatal("expected a working copy to be leased")
	}
	status := p.Status()
	if status.Busy != 1 {
		t.Fatalf("Status.Busy = %d, want 1", status.Busy)
	}

	if err := p.Release(slot, OutcomeSuccess); err != nil {
		t.Fatalf("Release: %v", err)
	}
	status = p.Status()
	if status.Busy != 0 {
		t.Fatalf("Status.Busy = %d, want 0 after release", status.Busy)
	}
	if len(wt.removed) != 1 {
		t.Fatalf("expected 1 worktree removed, got %d", len(wt.removed))
	}
}

func TestAcquireBlocksAtCapacity(t *testing.T) {
	wt := &fakeWorktrees{}
	p := New(wt, WithCapacity(models.AgentTypeBuilder, 1))

	slot1, err := p.Acquire(context.Background(), models.AgentTypeBuilder, "a")
	if err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx, models.AgentTypeBuilder, "b"); err == nil {
		t.Fatal("expected the second acquire to block until timeout")
	}

	if err := p.Release(slot1, OutcomeSuccess); err != nil {
		t.Fatalf("Release: %v", err)
	}

	slot2, err := p.Acquire(context.Background(), models.AgentTypeBuilder, "b")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = p.Release(slot2, OutcomeSuccess)
}

func TestReleaseUnknownLeaseErrors(t *testing.T) {
	p := New(&fakeWorktrees{})
	err := p.Release(&models.AgentSlot{LeaseToken: "nope"}, OutcomeSuccess)
	if err == nil {
		t.Fatal("expected an error releasing an unknown lease")
	}
}

func TestTerminateAllBlocksFurtherAcquires(t *testing.T) {
	wt := &fakeWorktrees{}
	p := New(wt)

	slot, err := p.Acquire(context.Background(), models.AgentTypeScout, "x")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	done := make(chan struct{})
	go func() {
		p.TerminateAll(100 * time.Millisecond)
		close(done)
	}()

	if _, err := p.Acquire(context.Background(), models.AgentTypeScout, "y"); err != ErrShuttingDown {
		t.Fatalf("Acquire during shutdown = %v, want ErrShuttingDown", err)
	}

	<-done
	if len(wt.removed) != 1 {
		t.Fatalf("expected the in-flight lease to be force-removed, got %d removals", len(wt.removed))
	}
	_ = slot
}

func TestDefaultCapacityAppliesPerAgentType(t *testing.T) {
	p := New(&fakeWorktrees{})
	status := p.Status()
	if status.Busy != 0 || status.Idle != 0 {
		t.Fatalf("expected a fresh pool to report no occupancy, got %+v", status)
	}

	slot, err := p.Acquire(context.Background(), models.AgentTypeArchitect, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	status = p.Status()
	if status.Idle != defaultCapacity-1 {
		t.Fatalf("Status.Idle = %d, want %d", status.Idle, defaultCapacity-1)
	}
	_ = p.Release(slot, OutcomeSuccess)
}
