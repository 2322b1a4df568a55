package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TaskFunc performs one library operation by id.
type TaskFunc func(ctx context.Context, id int) error

type TaskResult struct {
	ID      int
	Success bool
	Error   error
	Fatal   bool
}

type worker struct {
	id     string
	logger Logger
}

// Scheduler fans library operations out to a fixed set of workers. Every
// request still passes the shared RequestAuthorizer, so the rate limiter
// bounds the pool as a whole. A credential rejection stops all workers.
type Scheduler struct {
	workers      []*worker
	workChan     chan int
	resultsChan  chan TaskResult
	wg           sync.WaitGroup
	task         TaskFunc
	logger       Logger
	staggerDelay time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	fatalOnce    sync.Once
	stopped      atomic.Bool
}

func NewScheduler(workerCount int, task TaskFunc, staggerDelay time.Duration, logger Logger) *Scheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	if logger == nil {
		logger = nopLogger{}
	}

	s := &Scheduler{
		workers:      make([]*worker, workerCount),
		workChan:     make(chan int, workerCount*2),
		resultsChan:  make(chan TaskResult, workerCount*2),
		task:         task,
		logger:       logger,
		staggerDelay: staggerDelay,
		ctx:          context.Background(),
		cancel:       func() {},
	}
	for i := range s.workers {
		id := generateWorkerID()
		s.workers[i] = &worker{id: id, logger: withPrefix(logger, id)}
	}
	return s
}

func generateWorkerID() string {
	return uuid.New().String()[:8]
}

// Start launches the workers. It must be called before Submit.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.ctx = ctx

	for i, w := range s.workers {
		s.wg.Add(1)
		go s.runWorker(ctx, w)

		if s.staggerDelay > 0 && i < len(s.workers)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.staggerDelay):
			}
		}
	}
}

func (s *Scheduler) handleFatalError(err error) {
	s.fatalOnce.Do(func() {
		s.stopped.Store(true)
		s.logger.Log("FATAL ERROR: %v - stopping all workers", err)
		s.cancel()

		select {
		case s.resultsChan <- TaskResult{Fatal: true, Error: err}:
		default:
		}
	})
}

func (s *Scheduler) runWorker(ctx context.Context, w *worker) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-s.workChan:
			if !ok {
				return
			}
			if s.stopped.Load() {
				return
			}

			w.logger.Log("Processing library %d", id)
			err := s.task(ctx, id)
			if err != nil && IsFatalError(err) {
				s.handleFatalError(err)
				return
			}
			if err != nil {
				w.logger.Log("Library %d failed: %v", id, err)
			}

			select {
			case s.resultsChan <- TaskResult{ID: id, Success: err == nil, Error: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Submit adds a library id to the work queue. It returns false once the
// scheduler has stopped. Submit must not race with Close.
func (s *Scheduler) Submit(id int) bool {
	if s.stopped.Load() {
		return false
	}
	select {
	case s.workChan <- id:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Results returns the results channel for reading task outcomes.
func (s *Scheduler) Results() <-chan TaskResult {
	return s.resultsChan
}

// Close stops accepting work, waits for workers and closes Results.
func (s *Scheduler) Close() {
	close(s.workChan)
	s.wg.Wait()
	close(s.resultsChan)
}

// WorkerCount returns the number of workers.
func (s *Scheduler) WorkerCount() int {
	return len(s.workers)
}
