package worker

import "context"

type JobType int

const (
	Render JobType = iota
	Stop
)

// Job is the unit handed from the dispatcher to a worker.
type Job struct {
	Type   JobType
	Task   RenderTask
	ctx    context.Context
	result chan workerReturn
}

type workerReturn struct {
	result RenderResult
	err    error
}

func (job Job) finish(res RenderResult, err error) {
	if job.result != nil {
		job.result <- workerReturn{result: res, err: err}
	}
}

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

// Start runs the worker until it receives a Stop job or the pool refuses
// to take it back.
func (w *Worker) Start() {
	go func() {
		defer w.pool.retire(w.jobChannel)
		for job := range w.jobChannel {
			if job.Type == Stop {
				return
			}
			w.execute(job)
			if !w.pool.Release(w.jobChannel) {
				return
			}
		}
	}()
}

func (w *Worker) execute(job Job) {
	ctx := job.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := renderFunc(ctx, job.Task)
	job.finish(res, err)
}
