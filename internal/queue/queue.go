package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/imyashkale/mcpwizard/internal/logger"
	"github.com/imyashkale/mcpwizard/internal/models"
)

// GenerationJob represents a background generation task in the queue.
// The task input is read from the session when the job runs.
type GenerationJob struct {
	TaskID         string
	ServerID       string
	OrganizationID string
	Kind           models.TaskKind
}

// JobQueue manages the job queue with a channel-based system
type JobQueue struct {
	jobs      chan *GenerationJob
	done      chan struct{}
	mu        sync.RWMutex
	closeOnce sync.Once
}

// NewJobQueue creates a new job queue with the specified buffer size
func NewJobQueue(bufferSize int) *JobQueue {
	return &JobQueue{
		jobs: make(chan *GenerationJob, bufferSize),
		done: make(chan struct{}),
	}
}

// Enqueue adds a job to the queue, waiting for space until ctx is done
func (jq *JobQueue) Enqueue(ctx context.Context, job *GenerationJob) error {
	jq.mu.RLock()
	defer jq.mu.RUnlock()

	entry := logger.WithFields(map[string]interface{}{
		"task_id":   job.TaskID,
		"server_id": job.ServerID,
		"kind":      job.Kind,
	})

	select {
	case <-jq.done:
		entry.Warn("Failed to enqueue job: queue is closed")
		return ErrQueueClosed
	default:
	}

	select {
	case jq.jobs <- job:
		entry.Debug("Generation job enqueued")
		return nil
	case <-jq.done:
		entry.Warn("Failed to enqueue job: queue is closed")
		return ErrQueueClosed
	case <-ctx.Done():
		entry.Warn("Failed to enqueue job: queue is full")
		return ctx.Err()
	}
}

// Jobs returns the underlying channel for job consumption
func (jq *JobQueue) Jobs() <-chan *GenerationJob {
	return jq.jobs
}

// Len returns the number of jobs waiting for a worker
func (jq *JobQueue) Len() int {
	return len(jq.jobs)
}

// Close stops accepting jobs. Jobs already queued are still delivered to workers.
func (jq *JobQueue) Close() {
	jq.closeOnce.Do(func() {
		close(jq.done)
		jq.mu.Lock()
		close(jq.jobs)
		jq.mu.Unlock()
	})
}

// WorkerPool manages multiple workers processing jobs
type WorkerPool struct {
	queue   *JobQueue
	workers int
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue *JobQueue, numWorkers int) *WorkerPool {
	return &WorkerPool{
		queue:   queue,
		workers: numWorkers,
	}
}

// Start starts all workers
func (wp *WorkerPool) Start(handler func(*GenerationJob) error) {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(handler)
	}
}

// worker processes jobs until the queue is closed and drained
func (wp *WorkerPool) worker(handler func(*GenerationJob) error) {
	defer wp.wg.Done()

	for job := range wp.queue.Jobs() {
		if job == nil {
			continue
		}
		entry := logger.WithFields(map[string]interface{}{
			"task_id":   job.TaskID,
			"server_id": job.ServerID,
			"kind":      job.Kind,
		})
		entry.Debug("Worker processing generation job")

		if err := handler(job); err != nil {
			if errors.Is(err, ErrDuplicateJob) {
				// The worker already running it will settle the task
				entry.Info("Worker skipped duplicate generation job")
				continue
			}
			entry.WithError(err).Error("Worker failed to process generation job")
			continue
		}
		entry.Debug("Worker completed generation job")
	}
	logger.Debug("Worker exiting: jobs channel closed")
}

// Wait waits for all workers to finish
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}
