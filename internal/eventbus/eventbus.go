// Package eventbus implements the EventSink collaborator: a non-blocking,
// fan-out publish/subscribe bus that the Coordinator and the
// IterationEngine emit progress notifications to.
// Subscribers — a CLI progress view, a log tail, a future TUI — read from
// their own buffered channel and are never allowed to slow down or block
// the core loop.
package eventbus

import (
	"sync"
	"time"
)

// Canonical topics, per the EventSink's documented topic list. Emit accepts
// any string, so a caller is never blocked on this list. The Coordinator
// also emits coordinator.* and task.dispatch topics not listed here, and
// no package in this module emits task.commit, pool.* or qa.* topics.
const (
	TopicTaskStarted       = "task.started"
	TopicTaskCommit        = "task.commit"
	TopicTaskCompleted     = "task.completed"
	TopicTaskFailed        = "task.failed"
	TopicTaskEscalated     = "task.escalated"
	TopicTaskReplanned     = "task.replanned"
	TopicIterationStarted  = "iteration.started"
	TopicIterationComplete = "iteration.completed"
	TopicPoolAcquire       = "pool.acquire"
	TopicPoolRelease       = "pool.release"
)

// QATopic builds the qa.<step>.completed topic for a named QA step
// (e.g. "build", "test", "review").
func QATopic(step string) string {
	return "qa." + step + ".completed"
}

// Event is one message delivered to subscribers.
type Event struct {
	Topic     string
	Payload   any
	Timestamp time.Time
}

// Bus is a fan-out EventSink: Emit broadcasts to every current subscriber's
// buffered channel, dropping the event for any subscriber whose channel is
// full rather than blocking the emitting goroutine.
type Bus struct {
	mu         sync.RWMutex
	bufferSize int
	subs       map[chan Event]struct{}
	now        func() time.Time
}

// New creates a Bus whose subscriber channels are buffered to bufferSize.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		bufferSize: bufferSize,
		subs:       make(map[chan Event]struct{}),
		now:        time.Now,
	}
}

// Emit satisfies the EventSink interface used throughout this module
// (iteration.EventSink, coordinator's collaborator, etc): it broadcasts
// {topic, payload} to every current subscriber.
func (b *Bus) Emit(topic string, payload any) {
	evt := Event{Topic: topic, Payload: payload, Timestamp: b.now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Subscriber too slow to keep up; drop rather than block the emitter.
		}
	}
}

// Subscribe registers a new subscriber and returns its receive channel.
// The caller must eventually call Unsubscribe to release it.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, b.bufferSize)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. ch must be a
// channel previously returned by Subscribe; unsubscribing the same channel
// twice, or one never subscribed, is a no-op.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subs {
		if c == ch {
			delete(b.subs, c)
			close(c)
			return
		}
	}
}

// Close unsubscribes and closes every current subscriber's channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subs {
		delete(b.subs, c)
		close(c)
	}
}
