package worker

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type sessionQueue struct {
	jobs     []Job
	enqueued bool
}

type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

// Dispatcher hands render jobs to the pool, round-robin across sessions so a
// busy board cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // intake for outside callers

	mu        sync.Mutex
	queues    map[string]*sessionQueue
	ready     *list.List // LRU of session ids with pending jobs
	positions map[string]*list.Element

	quit      chan struct{}
	closeOnce sync.Once
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	pool := newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout)
	d := &Dispatcher{
		pool:      pool,
		JobQueue:  make(chan Job, cfg.QueueSize),
		queues:    make(map[string]*sessionQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		quit:      make(chan struct{}),
	}
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}
	go d.run()
	return d
}

// Render queues task and waits for its result. ErrDispatcherBusy is
// returned at once when the intake queue is full.
func (d *Dispatcher) Render(ctx context.Context, task RenderTask) (RenderResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	job := Job{Type: Render, Task: task, ctx: ctx, result: make(chan workerReturn, 1)}
	select {
	case <-d.quit:
		return RenderResult{}, ErrClosed
	default:
	}
	select {
	case d.JobQueue <- job:
	default:
		return RenderResult{}, ErrDispatcherBusy
	}
	select {
	case ret := <-job.result:
		return ret.result, ret.err
	case <-ctx.Done():
		return RenderResult{}, ctx.Err()
	}
}

func (d *Dispatcher) run() {
	for {
		if !d.drainIntake() {
			d.failPending()
			return
		}
		if d.dispatchOne() {
			continue
		}
		// nothing pending: block for the next job
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			d.failPending()
			return
		}
	}
}

// drainIntake moves every job waiting in JobQueue into its session queue so
// the LRU sees all contenders. It reports false once the dispatcher is closed.
func (d *Dispatcher) drainIntake() bool {
	for {
		select {
		case <-d.quit:
			return false
		default:
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		default:
			return true
		}
	}
}

// CancelSession drops the pending jobs of a session.
func (d *Dispatcher) CancelSession(sessionID string) {
	d.mu.Lock()
	q := d.queues[sessionID]
	delete(d.queues, sessionID)
	if elem, ok := d.positions[sessionID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
	}
	d.mu.Unlock()
	if q == nil {
		return
	}
	for _, job := range q.jobs {
		job.finish(RenderResult{}, ErrCanceled)
	}
}

// Close stops the dispatcher and its workers. Jobs still waiting fail
// with ErrClosed.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
		d.pool.close()
	})
}

func (d *Dispatcher) enqueueJob(job Job) {
	sessionID := job.Task.SessionID

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[sessionID]
	if q == nil {
		q = &sessionQueue{}
		d.queues[sessionID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[sessionID] = d.ready.PushBack(sessionID)
}

// dispatchOne takes the first session in the LRU and hands its oldest job
// to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	sessionID := elem.Value.(string)
	q := d.queues[sessionID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
		delete(d.queues, sessionID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		job.finish(RenderResult{}, ErrClosed)
		return true
	}
	debugLog("[dispatcher] assign %s render for session %s", job.Task.Format, sessionID)
	workerChan <- job
	return true
}

func (d *Dispatcher) failPending() {
	d.mu.Lock()
	queues := d.queues
	d.queues = make(map[string]*sessionQueue)
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
	d.mu.Unlock()
	for _, q := range queues {
		for _, job := range q.jobs {
			job.finish(RenderResult{}, ErrClosed)
		}
	}
	for {
		select {
		case job := <-d.JobQueue:
			job.finish(RenderResult{}, ErrClosed)
		default:
			return
		}
	}
}
