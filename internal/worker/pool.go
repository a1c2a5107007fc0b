// Package worker runs tasks concurrently across keys while keeping the tasks
// of one key in submission order.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool closed")

// Task is one unit of work. ctx is the context the pool was created with.
type Task func(ctx context.Context)

// Pool is a keyed serial executor. Each key gets a lane goroutine while it
// has queued work; at most workers tasks run at once across all lanes.
type Pool struct {
	logger  zerolog.Logger
	sem     *semaphore.Weighted
	taskCtx context.Context

	// acquireCtx is cancelled by Close so lanes waiting for a slot give up.
	acquireCtx context.Context
	cancel     context.CancelFunc

	mu      sync.Mutex
	idle    *sync.Cond
	lanes   map[string][]Task
	pending int
	closed  bool
	wg      sync.WaitGroup
}

// New returns a pool running at most workers tasks concurrently. Tasks
// receive ctx.
func New(ctx context.Context, workers int, logger zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	acquireCtx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		logger:     logger.With().Str("component", "worker_pool").Logger(),
		sem:        semaphore.NewWeighted(int64(workers)),
		taskCtx:    ctx,
		acquireCtx: acquireCtx,
		cancel:     cancel,
		lanes:      make(map[string][]Task),
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Submit queues task behind earlier tasks with the same key.
func (p *Pool) Submit(key string, task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	queue, active := p.lanes[key]
	p.lanes[key] = append(queue, task)
	p.pending++
	if !active {
		p.wg.Add(1)
		go p.runLane(key)
	}
	return nil
}

// runLane drains the queue of key, then retires the lane.
func (p *Pool) runLane(key string) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		queue := p.lanes[key]
		if p.closed || len(queue) == 0 {
			delete(p.lanes, key)
			p.mu.Unlock()
			return
		}
		task := queue[0]
		p.lanes[key] = queue[1:]
		p.mu.Unlock()

		if err := p.sem.Acquire(p.acquireCtx, 1); err != nil {
			p.done()
			continue
		}
		p.execute(key, task)
		p.sem.Release(1)
		p.done()
	}
}

func (p *Pool) execute(key string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("key", key).
				Interface("panic", r).
				Msg("Task panicked")
		}
	}()
	task(p.taskCtx)
}

func (p *Pool) done() {
	p.mu.Lock()
	p.pending--
	if p.pending == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()
}

// Pending returns the number of queued and running tasks.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Flush waits until every submitted task has run or ctx is done.
func (p *Pool) Flush(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.idle.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.idle.Wait()
	}
	return nil
}

// Close stops accepting tasks, drops queued tasks that have not started and
// waits for running ones. It returns the number of dropped tasks.
func (p *Pool) Close() int {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	p.closed = true
	dropped := 0
	for key, queue := range p.lanes {
		dropped += len(queue)
		p.lanes[key] = nil
	}
	p.pending -= dropped
	if p.pending == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	if dropped > 0 {
		p.logger.Debug().Int("dropped", dropped).Msg("Dropped queued tasks on close")
	}
	return dropped
}
