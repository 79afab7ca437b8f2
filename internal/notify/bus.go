// Package notify provides the per-job publish/subscribe channel used
// to push status and result events to interested listeners. The
// concrete transport (WebSocket, SSE, ...) lives outside the core and
// consumes these events as-is.
package notify

import (
	"sync"

	"phaseflow/internal/job"
	"phaseflow/internal/solver"
)

// Kind discriminates event payloads.
type Kind string

const (
	KindStatusChanged       Kind = "status_changed"
	KindProgress            Kind = "progress"
	KindTrajectoryCompleted Kind = "trajectory_completed"
	KindJobFailed           Kind = "job_failed"
	KindJobFinished         Kind = "job_finished"
)

// Event is one notification about a job. Only the fields relevant to
// the Kind are set.
type Event struct {
	JobID string
	Kind  Kind

	State      job.State          // StatusChanged
	Fraction   float64            // Progress: completed solve requests / total
	Index      int                // TrajectoryCompleted: initial-condition index
	Trajectory *solver.Trajectory // TrajectoryCompleted
	Reason     string             // JobFailed
	Result     *job.Result        // JobFinished
}

// Terminal reports whether this is the last event of a job's stream.
func (e Event) Terminal() bool {
	return e.Kind == KindJobFailed || e.Kind == KindJobFinished ||
		(e.Kind == KindStatusChanged && e.State.Terminal())
}

// subscriberBuffer bounds each subscriber's queue. A subscriber that
// falls this far behind loses events rather than blocking the
// orchestrator (at-most-once delivery).
const subscriberBuffer = 64

type subscriber struct {
	ch     chan Event
	closed bool
}

// Bus fans events out to per-job subscribers. Events for one job are
// delivered to each subscriber in publish order; there is no replay
// for late subscribers, which catch up by querying the orchestrator.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscriber
	done map[string]bool
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]*subscriber),
		done: make(map[string]bool),
	}
}

// Subscribe registers interest in a job's events. The returned cancel
// function detaches the subscriber and closes its channel; it is safe
// to call more than once. Subscribing to a job whose stream already
// ended yields an immediately-closed channel.
func (b *Bus) Subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done[jobID] {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	b.subs[jobID] = append(b.subs[jobID], sub)

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		close(sub.ch)
		list := b.subs[jobID]
		for i, s := range list {
			if s == sub {
				b.subs[jobID] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	return sub.ch, cancel
}

// Publish delivers the event to every current subscriber of the job.
// Slow subscribers are skipped, never waited on.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs[ev.JobID] {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Close ends the job's stream: all subscriber channels are closed and
// future subscriptions return immediately. The orchestrator calls
// this after publishing the terminal event.
func (b *Bus) Close(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done[jobID] = true
	for _, sub := range b.subs[jobID] {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	delete(b.subs, jobID)
}
