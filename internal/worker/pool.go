package worker

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/photo-flow-go/internal/logger"
)

// Pool runs background jobs (remote uploads) on a fixed set of workers.
type Pool struct {
	workers  int
	jobQueue chan func()
	wg       sync.WaitGroup
	once     sync.Once
	mu       sync.RWMutex
	closed   bool

	totalJobs     atomic.Int64
	completedJobs atomic.Int64
	rejectedJobs  atomic.Int64
	activeWorkers atomic.Int64
}

// Stats is a point-in-time view of the pool counters
type Stats struct {
	TotalJobs     int64 `json:"total_jobs"`
	CompletedJobs int64 `json:"completed_jobs"`
	RejectedJobs  int64 `json:"rejected_jobs"`
	ActiveWorkers int64 `json:"active_workers"`
	Workers       int   `json:"workers"`
	QueueCapacity int   `json:"queue_capacity"`
}

// NewPool creates a pool; queueSize <= 0 means twice the worker count
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}

	return &Pool{
		workers:  workers,
		jobQueue: make(chan func(), queueSize),
	}
}

// Start launches the workers. Calling it more than once is a no-op.
func (p *Pool) Start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			go p.worker()
		}
	})
}

func (p *Pool) worker() {
	for job := range p.jobQueue {
		p.run(job)
	}
}

func (p *Pool) run(job func()) {
	p.activeWorkers.Add(1)
	defer p.wg.Done()
	defer func() {
		p.activeWorkers.Add(-1)
		p.completedJobs.Add(1)
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{"panic": r}).Error("Background job panicked")
		}
	}()
	job()
}

// TrySubmit queues a job only if there is room right now. It never blocks
// and returns false when the queue is full or the pool is closed.
func (p *Pool) TrySubmit(job func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.rejectedJobs.Add(1)
		return false
	}
	p.wg.Add(1)
	select {
	case p.jobQueue <- job:
		p.totalJobs.Add(1)
		return true
	default:
		p.wg.Done()
		p.rejectedJobs.Add(1)
		return false
	}
}

// GetStats returns the current counters
func (p *Pool) GetStats() Stats {
	return Stats{
		TotalJobs:     p.totalJobs.Load(),
		CompletedJobs: p.completedJobs.Load(),
		RejectedJobs:  p.rejectedJobs.Load(),
		ActiveWorkers: p.activeWorkers.Load(),
		Workers:       p.workers,
		QueueCapacity: cap(p.jobQueue),
	}
}

// Wait blocks until every accepted job has finished
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close stops accepting jobs; queued jobs still run.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.jobQueue)
}
