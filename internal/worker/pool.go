package worker

import (
	"sync"
	"time"
)

type workerMeta struct {
	ch        chan Job
	lastUsed  time.Time
	enqueued  bool // is in the idle queue
	discarded bool // is targeted as delete
}

// jobChannelPool is an elastic set of workers between min and max.
type jobChannelPool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*workerMeta
	metadata map[chan Job]*workerMeta
	min      int
	max      int
	running  int
	expiry   time.Duration
	closed   bool
	quit     chan struct{}
}

const defaultWorkerIdle = 30 * time.Second

func newJobChannelPool(minWorkers, maxWorkers int, idle time.Duration) *jobChannelPool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	if minWorkers < 0 {
		minWorkers = 0
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	p := &jobChannelPool{
		metadata: make(map[chan Job]*workerMeta),
		min:      minWorkers,
		max:      maxWorkers,
		expiry:   idle,
		quit:     make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.purgeStaleWorkers()
	return p
}

// newWorkerLocked registers a worker; the caller holds p.mu.
func (p *jobChannelPool) newWorkerLocked() *Worker {
	worker := NewWorker(p)
	p.metadata[worker.jobChannel] = &workerMeta{ch: worker.jobChannel, lastUsed: time.Now()}
	p.running++
	return worker
}

// spawnWorker adds an idle worker, used for warm-up.
func (p *jobChannelPool) spawnWorker() {
	p.mu.Lock()
	if p.closed || p.running >= p.max {
		p.mu.Unlock()
		return
	}
	worker := p.newWorkerLocked()
	p.mu.Unlock()
	worker.Start()
	p.Release(worker.jobChannel)
}

// acquire returns an idle worker, spawning one while below max and waiting
// otherwise. It returns nil once the pool is closed.
func (p *jobChannelPool) acquire() chan Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return nil
		}
		if meta := p.popIdleLocked(); meta != nil {
			return meta.ch
		}
		if p.running < p.max {
			worker := p.newWorkerLocked()
			worker.Start()
			return worker.jobChannel
		}
		p.cond.Wait()
	}
}

// Release puts a worker back on the idle list. It reports false when the
// worker should exit instead.
func (p *jobChannelPool) Release(ch chan Job) bool {
	p.mu.Lock()
	meta, ok := p.metadata[ch]
	if p.closed || !ok || meta.discarded {
		p.mu.Unlock()
		return false
	}
	if !meta.enqueued {
		meta.enqueued = true
		meta.lastUsed = time.Now()
		p.idle = append(p.idle, meta)
	}
	p.mu.Unlock()
	p.cond.Signal()
	return true
}

// retire deletes a worker.
func (p *jobChannelPool) retire(ch chan Job) {
	p.mu.Lock()
	if meta, ok := p.metadata[ch]; ok {
		delete(p.metadata, ch)
		meta.discarded = true
		if p.running > 0 {
			p.running--
		}
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *jobChannelPool) popIdleLocked() *workerMeta {
	for len(p.idle) > 0 {
		meta := p.idle[0]
		p.idle = p.idle[1:]
		if meta.discarded {
			continue
		}
		meta.enqueued = false
		return meta
	}
	return nil
}

func (p *jobChannelPool) purgeStaleWorkers() {
	ticker := time.NewTicker(p.expiry)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.shutdownExpired()
		case <-p.quit:
			return
		}
	}
}

// shutdownExpired retires idle workers past the expiry, keeping min alive.
func (p *jobChannelPool) shutdownExpired() {
	var stale []*workerMeta
	now := time.Now()

	p.mu.Lock()
	if len(p.idle) == 0 || p.running <= p.min {
		p.mu.Unlock()
		return
	}
	remaining := p.idle[:0]
	for _, meta := range p.idle {
		if meta.discarded {
			continue
		}
		if now.Sub(meta.lastUsed) >= p.expiry && p.running-len(stale) > p.min {
			meta.discarded = true
			meta.enqueued = false
			stale = append(stale, meta)
			continue
		}
		remaining = append(remaining, meta)
	}
	p.idle = remaining
	p.mu.Unlock()

	for _, meta := range stale {
		debugLog("[pool] retiring idle worker")
		meta.ch <- Job{Type: Stop}
	}
}

// close stops idle workers; busy ones exit when they finish.
func (p *jobChannelPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	for _, meta := range idle {
		meta.discarded = true
	}
	close(p.quit)
	p.mu.Unlock()
	p.cond.Broadcast()

	for _, meta := range idle {
		meta.ch <- Job{Type: Stop}
	}
}

// stats reports running and idle worker counts.
func (p *jobChannelPool) stats() (running, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, len(p.idle)
}
