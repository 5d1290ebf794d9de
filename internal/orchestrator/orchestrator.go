// Package orchestrator runs queued tasks on per-lane worker pools, retrying
// transient failures with backoff and reporting the rest through error hooks.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/metrics"
	"github.com/JakeFAU/pressroom/internal/queue"
	"github.com/JakeFAU/pressroom/internal/retry"
	"github.com/JakeFAU/pressroom/internal/telemetry"
)

// ErrUnknownKind is returned when no handler is registered for a task kind.
var ErrUnknownKind = errors.New("unknown task kind")

// Handler executes one task.
type Handler func(ctx context.Context, task queue.Task) error

// ErrorHook observes a task that failed for the last time.
type ErrorHook func(ctx context.Context, task queue.Task, err error)

// Config tunes the orchestrator.
type Config struct {
	// Concurrency is the number of workers per lane. Lanes missing from the
	// map fall back to queue.DefaultConcurrency.
	Concurrency map[string]int
	Retry       retry.Policy
	// IdleBackoff is the pause after a failed dequeue.
	IdleBackoff time.Duration
}

type route struct {
	lane    string
	handler Handler
}

type periodic struct {
	interval time.Duration
	kind     string
	payload  func() any
}

// Orchestrator owns the lane workers.
type Orchestrator struct {
	broker queue.Broker
	ids    core.IDGenerator
	clock  core.Clock
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer

	mu       sync.RWMutex
	routes   map[string]route
	hooks    []ErrorHook
	periodic []periodic
}

// New constructs an Orchestrator.
func New(broker queue.Broker, ids core.IDGenerator, clock core.Clock, cfg Config, logger *zap.Logger) *Orchestrator {
	conc := queue.DefaultConcurrency()
	for lane, n := range cfg.Concurrency {
		conc[lane] = n
	}
	cfg.Concurrency = conc
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = time.Second
	}
	return &Orchestrator{
		broker: broker,
		ids:    ids,
		clock:  clock,
		cfg:    cfg,
		logger: logger.Named("orchestrator"),
		tracer: telemetry.Tracer("pressroom/orchestrator"),
		routes: make(map[string]route),
	}
}

// Register binds a task kind to a lane and handler.
func (o *Orchestrator) Register(kind, lane string, h Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes[kind] = route{lane: lane, handler: h}
}

// OnError adds a hook for tasks that exhausted their retries or failed permanently.
func (o *Orchestrator) OnError(hook ErrorHook) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hooks = append(o.hooks, hook)
}

// Every submits kind every interval while Run is active. payload may be nil.
func (o *Orchestrator) Every(interval time.Duration, kind string, payload func() any) {
	if interval <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.periodic = append(o.periodic, periodic{interval: interval, kind: kind, payload: payload})
}

// Submit enqueues a new task of kind and returns its id.
func (o *Orchestrator) Submit(ctx context.Context, kind string, payload any) (string, error) {
	o.mu.RLock()
	r, ok := o.routes[kind]
	o.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", kind, err)
	}
	id, err := o.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("task id: %w", err)
	}
	task := queue.Task{
		ID:         id,
		Kind:       kind,
		Lane:       r.lane,
		Payload:    raw,
		Attempt:    1,
		EnqueuedAt: o.clock.Now(),
	}
	if err := o.broker.Enqueue(ctx, task); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return id, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}

// Lanes returns the lanes that have at least one registered kind.
func (o *Orchestrator) Lanes() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, r := range o.routes {
		seen[r.lane] = struct{}{}
	}
	lanes := make([]string, 0, len(seen))
	for l := range seen {
		lanes = append(lanes, l)
	}
	sort.Strings(lanes)
	return lanes
}

// Depths reports the ready tasks per registered lane.
func (o *Orchestrator) Depths(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int)
	for _, lane := range o.Lanes() {
		n, err := o.broker.Len(ctx, lane)
		if err != nil {
			return nil, err
		}
		out[lane] = n
	}
	return out, nil
}

// Run starts every lane's workers and the periodic triggers, and blocks until
// ctx ends.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, lane := range o.Lanes() {
		n := o.cfg.Concurrency[lane]
		if n <= 0 {
			n = 1
		}
		for i := range n {
			g.Go(func() error {
				o.work(ctx, lane, i)
				return nil
			})
		}
		o.logger.Info("lane started", zap.String("lane", lane), zap.Int("workers", n))
	}
	o.mu.RLock()
	triggers := append([]periodic(nil), o.periodic...)
	o.mu.RUnlock()
	for _, p := range triggers {
		g.Go(func() error {
			o.tick(ctx, p)
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) tick(ctx context.Context, p periodic) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var payload any
			if p.payload != nil {
				payload = p.payload()
			}
			if _, err := o.Submit(ctx, p.kind, payload); err != nil && ctx.Err() == nil {
				o.logger.Error("periodic submit failed", zap.String("kind", p.kind), zap.Error(err))
			}
		}
	}
}

func (o *Orchestrator) work(ctx context.Context, lane string, index int) {
	logger := o.logger.With(zap.String("lane", lane), zap.Int("index", index))
	for {
		task, err := o.broker.Dequeue(ctx, lane)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			logger.Error("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.cfg.IdleBackoff):
			}
			continue
		}
		o.handle(ctx, logger, task)
	}
}

func (o *Orchestrator) handle(ctx context.Context, logger *zap.Logger, task queue.Task) {
	o.mu.RLock()
	r, ok := o.routes[task.Kind]
	o.mu.RUnlock()
	if !ok {
		o.fail(ctx, logger, task, fmt.Errorf("%w: %s", ErrUnknownKind, task.Kind))
		return
	}

	ctx, span := o.tracer.Start(ctx, "task "+task.Kind, trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.lane", task.Lane),
		attribute.Int("task.attempt", task.Attempt),
	))
	defer span.End()

	metrics.IncActiveWorkers(task.Lane)
	start := time.Now()
	err := invoke(ctx, r.handler, task)
	metrics.DecActiveWorkers(task.Lane)
	metrics.ObserveTask(task.Lane, task.Kind, metrics.Status(err), time.Since(start))

	if err == nil {
		logger.Debug("task done", zap.String("kind", task.Kind), zap.String("task_id", task.ID))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if o.cfg.Retry.ShouldRetry(err, task.Attempt) && ctx.Err() == nil {
		wait := o.cfg.Retry.Backoff(task.Attempt)
		next := task
		next.Attempt++
		rerr := o.broker.EnqueueAt(ctx, next, o.clock.Now().Add(wait))
		if rerr == nil {
			logger.Warn("task failed, retrying",
				zap.String("kind", task.Kind), zap.String("task_id", task.ID),
				zap.Int("attempt", task.Attempt), zap.Duration("wait", wait), zap.Error(err))
			return
		}
		err = errors.Join(err, fmt.Errorf("re-enqueue: %w", rerr))
	}
	o.fail(ctx, logger, task, err)
}

// invoke runs h and turns a panic into an error so one task cannot take the
// lane down.
func invoke(ctx context.Context, h Handler, task queue.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = retry.Permanent(fmt.Errorf("task %s panicked: %v", task.Kind, r))
		}
	}()
	return h(ctx, task)
}

func (o *Orchestrator) fail(ctx context.Context, logger *zap.Logger, task queue.Task, err error) {
	logger.Error("task failed",
		zap.String("kind", task.Kind), zap.String("task_id", task.ID),
		zap.Int("attempt", task.Attempt), zap.Error(err))
	o.mu.RLock()
	hooks := append([]ErrorHook(nil), o.hooks...)
	o.mu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, task, err)
	}
}
