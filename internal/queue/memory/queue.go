// Package memory provides a queue broker for single-process runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/pressroom/internal/queue"
)

// Broker keeps one buffered channel per lane. Delayed tasks wait on timers.
type Broker struct {
	capacity int

	mu     sync.Mutex
	lanes  map[string]chan queue.Task
	timers map[*time.Timer]struct{}
	closed bool
	done   chan struct{}
}

var _ queue.Broker = (*Broker)(nil)

// NewBroker constructs a broker whose lanes hold up to capacity ready tasks.
func NewBroker(capacity int) *Broker {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Broker{
		capacity: capacity,
		lanes:    make(map[string]chan queue.Task),
		timers:   make(map[*time.Timer]struct{}),
		done:     make(chan struct{}),
	}
}

func (b *Broker) lane(name string) (chan queue.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, queue.ErrClosed
	}
	ch, ok := b.lanes[name]
	if !ok {
		ch = make(chan queue.Task, b.capacity)
		b.lanes[name] = ch
	}
	return ch, nil
}

// Enqueue pushes a task onto its lane or returns if the context ends.
func (b *Broker) Enqueue(ctx context.Context, task queue.Task) error {
	ch, err := b.lane(task.Lane)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-b.done:
		return queue.ErrClosed
	case ch <- task:
		return nil
	}
}

// EnqueueAt schedules the task for at. Pending timers are dropped on Close.
func (b *Broker) EnqueueAt(ctx context.Context, task queue.Task, at time.Time) error {
	delay := time.Until(at)
	if delay <= 0 {
		return b.Enqueue(ctx, task)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return queue.ErrClosed
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		b.mu.Lock()
		delete(b.timers, timer)
		b.mu.Unlock()
		_ = b.Enqueue(context.Background(), task)
	})
	b.timers[timer] = struct{}{}
	return nil
}

// Dequeue pops the next ready task on lane.
func (b *Broker) Dequeue(ctx context.Context, lane string) (queue.Task, error) {
	ch, err := b.lane(lane)
	if err != nil {
		return queue.Task{}, err
	}
	select {
	case <-ctx.Done():
		return queue.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-b.done:
		return queue.Task{}, queue.ErrClosed
	case task := <-ch:
		return task, nil
	}
}

// Len reports the ready tasks on lane.
func (b *Broker) Len(_ context.Context, lane string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lanes[lane]), nil
}

// Pending reports delayed tasks still waiting on a timer.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.timers)
}

// Close stops timers and releases blocked callers.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for t := range b.timers {
		t.Stop()
	}
	clear(b.timers)
	close(b.done)
	return nil
}
