package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one named unit of work. Fn receives the pool's context.
type Task struct {
	ID string
	Fn func(context.Context) error
}

// Config holds worker pool configuration
type Config struct {
	Name      string
	Workers   int
	QueueSize int
	Logger    *zap.Logger
}

// Pool runs tasks on a fixed set of goroutines fed from a bounded queue.
// Stop closes the queue, so every accepted task still runs before the
// workers exit.
type Pool struct {
	name   string
	ctx    context.Context
	queue  chan Task
	logger *zap.Logger
	wg     sync.WaitGroup

	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// New starts a pool whose tasks all run under ctx
func New(ctx context.Context, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < cfg.Workers {
		cfg.QueueSize = cfg.Workers
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := &Pool{
		name:   cfg.Name,
		ctx:    ctx,
		queue:  make(chan Task, cfg.QueueSize),
		logger: cfg.Logger.With(zap.String("pool", cfg.Name)),
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.work()
	}

	p.logger.Debug("Worker pool started",
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_size", cfg.QueueSize))
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for t := range p.queue {
		start := time.Now()
		if err := p.execute(t); err != nil {
			p.failed.Add(1)
			p.logger.Debug("Task failed",
				zap.String("task_id", t.ID),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
			continue
		}
		p.completed.Add(1)
	}
}

// execute turns a panicking task into a failed one
func (p *Pool) execute(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.ID, r)
			p.logger.Error("Task panic recovered", zap.String("task_id", t.ID), zap.Any("panic", r))
		}
	}()
	return t.Fn(p.ctx)
}

// Submit queues a task without blocking. It fails when the pool is stopped or
// the queue is full.
func (p *Pool) Submit(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.rejected.Add(1)
		return fmt.Errorf("worker pool '%s' is stopped", p.name)
	}
	select {
	case p.queue <- t:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return fmt.Errorf("worker pool '%s' queue is full", p.name)
	}
}

// Stop stops accepting tasks and waits up to timeout for queued and running
// tasks to finish. Later calls return nil immediately.
func (p *Pool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-done:
			p.logger.Debug("Worker pool stopped", zap.Any("stats", p.Stats()))
		case <-timer.C:
			err = fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
		}
	})
	return err
}

// Stats is a snapshot of task counters
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
}

// Stats returns the current task counters
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
