package engine

import (
	"sync"

	"github.com/roach88/napper/internal/ir"
)

type jobKind int

const (
	jobAppend jobKind = iota + 1
	jobRebuild
)

// job is one unit of work for the Run loop. The loop sends exactly one
// outcome on reply, which is buffered so it never blocks on a caller that
// gave up.
type job struct {
	kind   jobKind
	batch  string
	origin string
	events []ir.NewEvent
	reply  chan outcome
}

type outcome struct {
	res Result
	err error
}

func newJob(kind jobKind) job {
	return job{kind: kind, reply: make(chan outcome, 1)}
}

// jobQueue is an unbounded FIFO shared by the submitting goroutines and
// the Run loop.
//
// signal has a buffer of one: any number of enqueues coalesce into one
// wake-up, and the loop drains with TryDequeue until empty.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	signal chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds j to the back of the queue. Returns false once closed.
func (q *jobQueue) Enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front job without blocking.
func (q *jobQueue) TryDequeue() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return job{}, false
	}
	j := q.jobs[0]
	// Clear the slot so the batch can be collected.
	q.jobs[0] = job{}
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

// Wait fires when jobs may be available, and stays ready once closed.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Closed reports whether Close has been called.
func (q *jobQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops new enqueues and returns the jobs still waiting, so the
// caller can fail them.
func (q *jobQueue) Close() []job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal)

	pending := q.jobs
	q.jobs = nil
	return pending
}
