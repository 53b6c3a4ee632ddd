// Package thrpool implements the auto-growing detached worker pool
// described by spec §2/§4.4 "Worker thread pool": a dry-pool watchdog
// runs as its own goroutine alongside the dispatcher's detached task
// workers, the pool's own job workers, and the shutdown sequence's
// detached worker, and grows the pool by an increment whenever at
// least 90% of workers are busy.
package thrpool

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Job is one unit of work submitted to the pool.
type Job func()

// Pool is a fixed-shape channel of workers that can grow at runtime.
type Pool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	jobs      chan Job
	size      int
	busy      int
	increment int
	stopped   bool
	log       hclog.Logger
	done      chan struct{}
}

// Options configures a new Pool.
type Options struct {
	InitialSize int
	Increment   int
	QueueDepth  int
}

// New starts a pool with opts.InitialSize workers already running and
// launches the dry-pool watchdog goroutine.
func New(opts Options, log hclog.Logger) *Pool {
	if opts.InitialSize <= 0 {
		opts.InitialSize = 4
	}
	if opts.Increment <= 0 {
		opts.Increment = 4
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 64
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}

	p := &Pool{
		jobs:      make(chan Job, opts.QueueDepth),
		increment: opts.Increment,
		log:       log.Named("thrpool"),
		done:      make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.grow(opts.InitialSize)
	go p.watchdog()
	return p
}

// Submit enqueues job for execution by the next available worker and
// wakes the watchdog so it can re-check saturation immediately rather
// than waiting for the next busy/idle transition.
func (p *Pool) Submit(job Job) {
	p.jobs <- job
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// watchdog is the dry-pool watchdog thread: it sleeps on the pool's
// condition variable and grows the pool by increment whenever at
// least 90% of workers are busy, until the pool is stopped.
func (p *Pool) watchdog() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		for !p.stopped && !p.saturatedLocked() {
			p.cond.Wait()
		}
		if p.stopped {
			return
		}
		n := p.increment
		p.size += n
		p.mu.Unlock()
		p.log.Debug("growing worker pool", "by", n)
		for i := 0; i < n; i++ {
			go p.worker()
		}
		p.mu.Lock()
	}
}

// saturatedLocked reports whether the pool is at or above 90% busy.
// Callers must hold p.mu.
func (p *Pool) saturatedLocked() bool {
	if p.size == 0 {
		return false
	}
	return float64(p.busy)/float64(p.size) >= 0.9
}

func (p *Pool) grow(n int) {
	p.mu.Lock()
	p.size += n
	p.mu.Unlock()
	p.log.Debug("growing worker pool", "by", n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.done:
			return
		case job := <-p.jobs:
			p.setBusy(true)
			job()
			p.setBusy(false)
		}
	}
}

func (p *Pool) setBusy(b bool) {
	p.mu.Lock()
	if b {
		p.busy++
	} else {
		p.busy--
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Size returns the current number of workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Busy returns the current number of occupied workers.
func (p *Pool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// Stop signals every worker goroutine and the watchdog to exit, the
// workers after finishing their current job.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()
	close(p.done)
}
