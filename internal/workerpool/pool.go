// Package workerpool runs tasks with bounded concurrency and join-all
// completion. It is a thin layer over errgroup that keeps running after
// a task fails, so one failing file never stops its siblings.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"temperature-bench/internal/models"
)

// Task is a unit of work submitted to a pool
type Task func(ctx context.Context) error

// Option configures a Pool
type Option func(*Pool)

// WithGauge tracks the number of running tasks on g
func WithGauge(g prometheus.Gauge) Option {
	return func(p *Pool) {
		p.gauge = g
	}
}

// Pool is a bounded executor: Submit many, then Wait for all.
// A Pool is not reusable after Wait returns.
type Pool struct {
	ctx   context.Context
	group errgroup.Group
	gauge prometheus.Gauge

	mu   sync.Mutex
	errs error

	active  atomic.Int64
	peak    atomic.Int64
	skipped atomic.Int64
}

// New creates a pool running at most limit tasks at once.
// A limit <= 0 means no bound.
func New(ctx context.Context, limit int, opts ...Option) *Pool {
	p := &Pool{ctx: ctx}
	if limit > 0 {
		p.group.SetLimit(limit)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit schedules task, blocking while the pool is at its limit.
// Tasks submitted after the pool context is done are not run.
func (p *Pool) Submit(task Task) {
	if p.ctx.Err() != nil {
		p.skipped.Add(1)
		return
	}

	p.group.Go(func() error {
		if p.ctx.Err() != nil {
			p.skipped.Add(1)
			return nil
		}

		p.enter()
		defer p.leave()

		if err := task(p.ctx); err != nil {
			p.mu.Lock()
			p.errs = multierr.Append(p.errs, err)
			p.mu.Unlock()
		}
		return nil
	})
}

// Wait blocks until every submitted task has returned. It returns the
// task errors combined, and an error matching models.ErrInterruptedWait
// if the pool context ended before all work ran.
func (p *Pool) Wait() error {
	_ = p.group.Wait()

	p.mu.Lock()
	errs := p.errs
	p.mu.Unlock()

	ctxErr := p.ctx.Err()
	if ctxErr != nil && (p.skipped.Load() > 0 || errors.Is(errs, ctxErr)) {
		errs = multierr.Append(errs, fmt.Errorf("%w: %v (%d tasks not started)", models.ErrInterruptedWait, ctxErr, p.skipped.Load()))
	}
	return errs
}

// Peak returns the highest number of tasks observed running at once
func (p *Pool) Peak() int {
	return int(p.peak.Load())
}

// Skipped returns the number of tasks dropped because the context ended
func (p *Pool) Skipped() int {
	return int(p.skipped.Load())
}

func (p *Pool) enter() {
	n := p.active.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if p.gauge != nil {
		p.gauge.Inc()
	}
}

func (p *Pool) leave() {
	p.active.Add(-1)
	if p.gauge != nil {
		p.gauge.Dec()
	}
}
