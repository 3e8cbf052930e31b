// Package workers runs block fetch tasks on a fixed set of goroutines fed
// by a bounded queue.
package workers

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/pkg/errors"
)

const component = "workers"

// Pool executes submitted tasks. A full queue rejects new work instead of
// blocking the reader that asked for it.
type Pool struct {
	queue  chan func()
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	mu      sync.RWMutex
	stopped bool

	stats poolCounters
}

// Stats summarises pool activity.
type Stats struct {
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Rejected  uint64 `json:"rejected"`
	Panics    uint64 `json:"panics"`
}

type poolCounters struct {
	workers   int
	submitted atomic.Uint64
	completed atomic.Uint64
	rejected  atomic.Uint64
	panics    atomic.Uint64
}

// New starts cfg.PoolSize workers. Zero sizes default to GOMAXPROCS workers
// and a queue four times that.
func New(cfg config.WorkersConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = size * 4
	}

	p := &Pool{
		queue:  make(chan func(), queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	p.stats.workers = size

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// Submit queues task. It fails with WORKER_BUSY when the queue is full and
// COMPONENT_STOPPED after Stop.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	if task == nil {
		return errors.InvalidInput("workers.submit", "task is nil").WithComponent(component)
	}
	if err := ctx.Err(); err != nil {
		return errors.FromContext(err, "workers.submit").WithComponent(component)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return errors.NewError(errors.ErrCodeComponentStopped, "worker pool is stopped").
			WithComponent(component).
			WithOperation("workers.submit")
	}

	select {
	case p.queue <- task:
		p.stats.submitted.Add(1)
		return nil
	default:
		p.stats.rejected.Add(1)
		return errors.NewError(errors.ErrCodeWorkerBusy, "worker queue is full").
			WithComponent(component).
			WithOperation("workers.submit").
			WithDetail("queue_size", cap(p.queue))
	}
}

// Stop rejects new work, runs everything already queued and waits for the
// workers to exit. It is idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.stats.workers,
		Queued:    len(p.queue),
		Submitted: p.stats.submitted.Load(),
		Completed: p.stats.completed.Load(),
		Rejected:  p.stats.rejected.Load(),
		Panics:    p.stats.panics.Load(),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case task := <-p.queue:
			p.run(task)
		case <-p.stopCh:
			// Drain whatever was queued before Stop.
			for {
				select {
				case task := <-p.queue:
					p.run(task)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.panics.Add(1)
			p.logger.Error("worker task panicked", "panic", r)
		}
		p.stats.completed.Add(1)
	}()
	task()
}
