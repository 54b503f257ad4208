package events

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Job is one unit of background work. It receives a context bounded by the pool timeout.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool runs jobs on a fixed set of workers fed by a buffered channel.
type Pool struct {
	jobs    chan Job
	timeout time.Duration
	handoff time.Duration
	log     *log.Logger
	wg      sync.WaitGroup
	once    sync.Once
}

// NewPool starts workers goroutines. Submit waits at most handoff for a free slot.
func NewPool(workers, buffer int, timeout, handoff time.Duration, logger *log.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	p := &Pool{
		jobs:    make(chan Job, buffer),
		timeout: timeout,
		handoff: handoff,
		log:     logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Infof("event pool started, workers: %d, buffer: %d, timeout: %v, handoff: %v", workers, buffer, timeout, handoff)
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		if err := p.Do(j); err != nil {
			p.log.Errorf("job failed, err: %v, job: %s, worker: %d", err, j.Name, id)
		}
	}
}

// Do runs a job on the calling goroutine with the pool timeout.
func (p *Pool) Do(j Job) error {
	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return j.Run(ctx)
}

// Submit hands the job to a worker. It returns false when the buffer stays full for the
// handoff period or the pool is closed.
func (p *Pool) Submit(j Job) bool {
	if ok, closed := trySendNonBlocking(p.jobs, j); closed {
		return false
	} else if ok {
		return true
	}

	if p.handoff <= 0 {
		return false
	}

	timer := time.NewTimer(p.handoff)
	defer timer.Stop()

	ok, closed := sendWithTimer(p.jobs, j, timer.C)
	if closed {
		return false
	}
	return ok
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.jobs) })
	p.wg.Wait()
}

func trySendNonBlocking(ch chan Job, j Job) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- j:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan Job, j Job, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- j:
		return true, false
	case <-timer:
		return false, false
	}
}
