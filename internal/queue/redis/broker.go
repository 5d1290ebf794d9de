// Package redis implements the queue broker on Redis lists and sorted sets so
// that every worker process shares the same lanes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/queue"
)

// promoteBatch bounds how many due tasks one Dequeue call moves.
const promoteBatch = 100

// Config configures a Broker.
type Config struct {
	// Prefix namespaces every key, e.g. "pressroom:".
	Prefix string
	// PollTimeout is how long one BRPOP blocks before due delayed tasks are
	// promoted again. Redis rounds it up to whole seconds.
	PollTimeout time.Duration
	Clock       core.Clock
}

// Broker keeps one list per lane for ready tasks and one sorted set per lane,
// scored by due time in milliseconds, for delayed tasks.
type Broker struct {
	client      goredis.UniversalClient
	prefix      string
	pollTimeout time.Duration
	clock       core.Clock
	closed      atomic.Bool
}

var _ queue.Broker = (*Broker)(nil)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// New returns a Broker on client. The caller owns the client.
func New(client goredis.UniversalClient, cfg Config) *Broker {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	return &Broker{
		client:      client,
		prefix:      cfg.Prefix,
		pollTimeout: cfg.PollTimeout,
		clock:       cfg.Clock,
	}
}

func (b *Broker) readyKey(lane string) string   { return b.prefix + "queue:" + lane }
func (b *Broker) delayedKey(lane string) string { return b.prefix + "delayed:" + lane }

// Enqueue pushes the task onto its lane.
func (b *Broker) Enqueue(ctx context.Context, task queue.Task) error {
	if b.closed.Load() {
		return queue.ErrClosed
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := b.client.LPush(ctx, b.readyKey(task.Lane), raw).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", task.Lane, err)
	}
	return nil
}

// EnqueueAt parks the task in the lane's delayed set until at.
func (b *Broker) EnqueueAt(ctx context.Context, task queue.Task, at time.Time) error {
	if b.closed.Load() {
		return queue.ErrClosed
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	z := goredis.Z{Score: float64(at.UnixMilli()), Member: string(raw)}
	if err := b.client.ZAdd(ctx, b.delayedKey(task.Lane), z).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", task.Lane, err)
	}
	return nil
}

// Dequeue promotes due delayed tasks, then blocks on the lane list.
func (b *Broker) Dequeue(ctx context.Context, lane string) (queue.Task, error) {
	for {
		if b.closed.Load() {
			return queue.Task{}, queue.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return queue.Task{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		if err := b.promote(ctx, lane); err != nil {
			return queue.Task{}, err
		}
		res, err := b.client.BRPop(ctx, b.pollTimeout, b.readyKey(lane)).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return queue.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			return queue.Task{}, fmt.Errorf("brpop %s: %w", lane, err)
		}
		var task queue.Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			return queue.Task{}, fmt.Errorf("decode task: %w: %w", core.ErrMalformedResponse, err)
		}
		return task, nil
	}
}

// promote moves due tasks from the delayed set to the ready list. Only the
// caller whose ZREM succeeds pushes a task, so concurrent promoters never
// duplicate one.
func (b *Broker) promote(ctx context.Context, lane string) error {
	now := strconv.FormatInt(b.clock.Now().UnixMilli(), 10)
	due, err := b.client.ZRangeByScore(ctx, b.delayedKey(lane), &goredis.ZRangeBy{
		Min: "-inf", Max: now, Count: promoteBatch,
	}).Result()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("dequeue canceled: %w", ctx.Err())
		}
		return fmt.Errorf("zrangebyscore %s: %w", lane, err)
	}
	for _, member := range due {
		removed, err := b.client.ZRem(ctx, b.delayedKey(lane), member).Result()
		if err != nil {
			return fmt.Errorf("zrem %s: %w", lane, err)
		}
		if removed == 0 {
			continue
		}
		if err := b.client.LPush(ctx, b.readyKey(lane), member).Err(); err != nil {
			return fmt.Errorf("lpush %s: %w", lane, err)
		}
	}
	return nil
}

// Len reports the ready tasks on lane.
func (b *Broker) Len(ctx context.Context, lane string) (int, error) {
	n, err := b.client.LLen(ctx, b.readyKey(lane)).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", lane, err)
	}
	return int(n), nil
}

// Delayed reports the tasks parked in the lane's delayed set.
func (b *Broker) Delayed(ctx context.Context, lane string) (int, error) {
	n, err := b.client.ZCard(ctx, b.delayedKey(lane)).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard %s: %w", lane, err)
	}
	return int(n), nil
}

// Close stops further use of the broker. The client stays open.
func (b *Broker) Close() error {
	b.closed.Store(true)
	return nil
}
