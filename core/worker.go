package core

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"goshawk/metrics"
)

// WorkerPool is the bounded pool behind every data-parallel phase of
// the scan. Work units are plain funcs; callers coordinate phase
// completion with their own WaitGroup so a chunk's parallel phase can
// be awaited before its serialized reduction begins.
type WorkerPool struct {
	workers  int
	taskCh   chan func()
	wg       sync.WaitGroup
	logger   *zap.SugaredLogger
	ctx      context.Context
	cancel   context.CancelFunc
	running  bool
	mu       sync.RWMutex
	poolType string
}

// Worker pool errors.
var (
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
)

// NewWorkerPool creates a pool with the given parallelism. poolType
// labels the pool's metrics.
func NewWorkerPool(workers int, queueSize int, poolType string, logger *zap.SugaredLogger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if poolType == "" {
		poolType = "default"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		workers:  workers,
		taskCh:   make(chan func(), queueSize),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		poolType: poolType,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.running {
		return
	}
	wp.running = true
	wp.logger.Debugf("starting %s worker pool with %d workers", wp.poolType, wp.workers)
	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(float64(wp.workers))
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop drains the queue and waits for all workers to exit.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	close(wp.taskCh)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.cancel()
	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(0)
}

// Submit queues a task, blocking when the queue is full. Blocking
// keeps memory bounded when a chunk fans out more work than the queue
// holds.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	running := wp.running
	wp.mu.RUnlock()
	if !running {
		return ErrWorkerPoolNotRunning
	}
	wp.taskCh <- task
	return nil
}

// Workers returns the pool's parallelism.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	for {
		select {
		case <-wp.ctx.Done():
			return
		case task, ok := <-wp.taskCh:
			if !ok {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						wp.logger.Errorw("task panicked in worker",
							"pool_type", wp.poolType,
							"worker_id", id,
							"panic", r)
					}
				}()
				task()
			}()
			metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.poolType).Inc()
		}
	}
}
