// Package queue defines the task broker behind the orchestrator's lanes.
// Backends: memory (single process) and redis (shared by every worker
// process, authoritative in production).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Lanes. Each lane has its own workers so slow network work in one lane
// never starves another.
const (
	LaneCrawl       = "crawl"
	LaneProcess     = "process"
	LaneCategorize  = "categorize"
	LaneEmbed       = "embed"
	LaneIndex       = "index"
	LaneMaintenance = "maintenance"
)

// ErrClosed is returned by a broker after Close.
var ErrClosed = errors.New("queue closed")

// Task is one unit of queued work.
type Task struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Lane       string          `json:"lane"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Broker moves tasks between producers and lane workers.
type Broker interface {
	// Enqueue makes the task available to its lane immediately.
	Enqueue(ctx context.Context, task Task) error
	// EnqueueAt makes the task available no earlier than at.
	EnqueueAt(ctx context.Context, task Task, at time.Time) error
	// Dequeue blocks until a task is ready on lane or ctx ends.
	Dequeue(ctx context.Context, lane string) (Task, error)
	// Len reports how many tasks are ready on lane.
	Len(ctx context.Context, lane string) (int, error)
	Close() error
}

// DefaultConcurrency is the worker count per lane.
func DefaultConcurrency() map[string]int {
	return map[string]int{
		LaneCrawl:       2,
		LaneProcess:     8,
		LaneCategorize:  4,
		LaneEmbed:       1,
		LaneIndex:       2,
		LaneMaintenance: 1,
	}
}

// Lanes lists every known lane in a stable order.
func Lanes() []string {
	return []string{LaneCrawl, LaneProcess, LaneCategorize, LaneEmbed, LaneIndex, LaneMaintenance}
}
