package core

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWorkerPoolProcessesTasks(t *testing.T) {
	pool := NewWorkerPool(4, 8, "test", zap.NewNop().Sugar())
	pool.Start()
	defer pool.Stop()

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&counter, 1)
		})
		assert.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, int64(100), atomic.LoadInt64(&counter))
}

func TestWorkerPoolSubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(1, 1, "test", zap.NewNop().Sugar())
	pool.Start()
	pool.Stop()

	err := pool.Submit(func() {})
	assert.ErrorIs(t, err, ErrWorkerPoolNotRunning)
}

func TestWorkerPoolRecoversFromPanic(t *testing.T) {
	pool := NewWorkerPool(1, 1, "test", zap.NewNop().Sugar())
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	assert.NoError(t, pool.Submit(func() {
		defer wg.Done()
		panic("boom")
	}))
	wg.Wait()

	// The worker survives and keeps processing.
	done := make(chan struct{})
	assert.NoError(t, pool.Submit(func() { close(done) }))
	<-done
}

func TestWorkerPoolMinimumWorkers(t *testing.T) {
	pool := NewWorkerPool(0, 1, "", zap.NewNop().Sugar())
	assert.Equal(t, 1, pool.Workers())
}
