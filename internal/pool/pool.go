// Package pool implements the AgentPool: bounded per-agent-type
// concurrency with an isolated, exclusively-leased working copy (a git
// worktree) handed out with every slot.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-build/nexus/pkg/models"
)

// defaultCapacity is the concurrency cap applied to an agent type with
// no explicit configuration.
const defaultCapacity = 2

// defaultGracePeriod bounds how long TerminateAll waits for in-flight
// leases to release on their own before forcing resources free.
const defaultGracePeriod = 30 * time.Second

// Outcome classifies how a leased slot's work finished, so Release can
// decide whether to force removal of the working copy. Release removes
// the working copy for either outcome.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// WorktreeProvider creates and destroys the isolated working copies
// leased out with every AgentSlot.
type WorktreeProvider interface {
	Create(agentID string) (path string, branchName string, err error)
	Remove(path string, force bool) error
}

// Status reports the pool's current occupancy.
type Status struct {
	Busy    int
	Idle    int
	Waiting int
}

// ErrShuttingDown is returned by Acquire once TerminateAll has begun.
var ErrShuttingDown = fmt.Errorf("pool: shutting down")

// Pool is the AgentPool.
type Pool struct {
	worktrees WorktreeProvider
	caps      map[models.AgentType]int

	mu       sync.Mutex
	slots    map[models.AgentType]chan struct{} // counting semaphores, one per type
	active   map[string]*models.AgentSlot        // keyed by lease token
	waiting  int
	draining bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithCapacity sets the concurrency cap for agentType, overriding the default.
func WithCapacity(agentType models.AgentType, n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.caps[agentType] = n
		}
	}
}

// New returns a Pool leasing working copies from worktrees.
func New(worktrees WorktreeProvider, opts ...Option) *Pool {
	p := &Pool{
		worktrees: worktrees,
		caps:      make(map[models.AgentType]int),
		slots:     make(map[models.AgentType]chan struct{}),
		active:    make(map[string]*models.AgentSlot),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// semaphoreFor returns (creating if necessary) the counting semaphore
// for agentType, pre-filled to its configured or default capacity.
func (p *Pool) semaphoreFor(agentType models.AgentType) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ch, ok := p.slots[agentType]; ok {
		return ch
	}
	capacity := p.caps[agentType]
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	ch := make(chan struct{}, capacity)
	for i := 0; i < capacity; i++ {
		ch <- struct{}{}
	}
	p.slots[agentType] = ch
	return ch
}

// Acquire blocks until a slot of agentType is free, or ctx is done, or
// the pool is shutting down. hint is passed through to the worktree
// provider as the agent identifier (e.g. a task ID), purely for
// branch-naming purposes.
func (p *Pool) Acquire(ctx context.Context, agentType models.AgentType, hint string) (*models.AgentSlot, error) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil, ErrShuttingDown
	}
	p.mu.Unlock()

	sem := p.semaphoreFor(agentType)

	p.mu.Lock()
	p.waiting++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.waiting--
		p.mu.Unlock()
	}()

	select {
	case <-sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrShuttingDown
	}

	token := uuid.NewString()
	if hint == "" {
		hint = token
	}

	path, branch, err := p.worktrees.Create(hint)
	if err != nil {
		sem <- struct{}{} // give the slot back; the lease never took effect
		return nil, fmt.Errorf("pool: create working copy: %w", err)
	}

	slot := &models.AgentSlot{
		AgentType:  agentType,
		InUse:      true,
		LeaseToken: token,
		WorkingCopy: &models.WorkingCopy{
			Path:       path,
			BranchName: branch,
		},
	}

	p.mu.Lock()
	p.active[token] = slot
	p.mu.Unlock()
	p.wg.Add(1)

	return slot, nil
}

// Release returns slot to the pool and destroys its working copy. A
// failed outcome forces worktree removal even if it has uncommitted
// changes, since a failed task's working copy is never reused.
func (p *Pool) Release(slot *models.AgentSlot, outcome Outcome) error {
	if slot == nil {
		return fmt.Errorf("pool: release of a nil slot")
	}

	p.mu.Lock()
	_, ok := p.active[slot.LeaseToken]
	delete(p.active, slot.LeaseToken)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("pool: release of an unknown lease %s", slot.LeaseToken)
	}

	var err error
	if slot.WorkingCopy != nil {
		err = p.worktrees.Remove(slot.WorkingCopy.Path, outcome == OutcomeFailure)
	}

	sem := p.semaphoreFor(slot.AgentType)
	sem <- struct{}{}
	p.wg.Done()

	return err
}

// Status reports the pool's current occupancy across every agent type
// that has had at least one Acquire call.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	var idle int
	for _, ch := range p.slots {
		idle += len(ch)
	}
	return Status{
		Busy:    len(p.active),
		Idle:    idle,
		Waiting: p.waiting,
	}
}

// TerminateAll stops accepting new leases, waits up to gracePeriod for
// in-flight leases to release on their own, then force-releases any
// that remain.
func (p *Pool) TerminateAll(gracePeriod time.Duration) {
	if gracePeriod <= 0 {
		gracePeriod = defaultGracePeriod
	}

	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.draining = true
	close(p.done)
	p.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(gracePeriod):
	}

	p.mu.Lock()
	remaining := make([]*models.AgentSlot, 0, len(p.active))
	for _, slot := range p.active {
		remaining = append(remaining, slot)
	}
	p.active = make(map[string]*models.AgentSlot)
	p.mu.Unlock()

	for _, slot := range remaining {
		if slot.WorkingCopy != nil {
			_ = p.worktrees.Remove(slot.WorkingCopy.Path, true)
		}
	}
}
