package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is a function that represents a background job
type Task func(ctx context.Context) error

const (
	defaultQueueSize = 1000
	taskTimeout      = 30 * time.Second
)

type WorkerPool struct {
	taskQueue chan Task
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isClosing atomic.Bool
}

func NewWorkerPool(size int) *WorkerPool {
	return NewWorkerPoolWithQueue(size, defaultQueueSize)
}

func NewWorkerPoolWithQueue(size, queue int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	wp := &WorkerPool{
		taskQueue: make(chan Task, queue),
	}

	for range size {
		wp.wg.Add(1)
		go wp.startWorker()
	}

	return wp
}

func (wp *WorkerPool) startWorker() {
	defer wp.wg.Done() // signal when worker finished
	for task := range wp.taskQueue {
		wp.run(task)
	}
}

func (wp *WorkerPool) run(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("worker task panicked")
		}
	}()
	if err := task(ctx); err != nil {
		log.Error().Err(err).Msg("worker task failed")
	}
}

// Submit queues t without blocking. It reports false when the task was
// dropped because the pool is shutting down or the queue is full.
func (wp *WorkerPool) Submit(t Task) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.isClosing.Load() {
		log.Warn().Msg("task submitted during shutdown, dropping")
		return false
	}
	select {
	case wp.taskQueue <- t:
		return true
	default:
		log.Warn().Msg("task queue full, dropping task")
		return false
	}
}

// Shutdown closes the queue and waits for workers to finish
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if wp.isClosing.Swap(true) {
		wp.mu.Unlock()
		return
	}
	close(wp.taskQueue) // Stop accepting new tasks
	wp.mu.Unlock()

	wp.wg.Wait() // Wait for all active workers to finish tasks
}
