/**
 * @description
 * In-memory implementation of the job queue, used by tests and by local
 * development without a Redis instance. It mirrors the Redis backend's
 * semantics: one consumer per kind, single delivery per job, delayed jobs
 * promoted when due, and aggregate status counters.
 */

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const memoryPollInterval = 2 * time.Millisecond

type delayedJob struct {
	job   *Job
	dueAt time.Time
}

// MemoryQueue implements Queue with in-process state. Safe for concurrent
// use.
type MemoryQueue struct {
	mu        sync.Mutex
	waiting   map[Kind][]*Job
	delayed   map[Kind][]delayedJob
	consumers map[Kind]bool

	processing int64
	completed  int64
	failed     int64

	closed bool
	done   chan struct{}
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		waiting:   make(map[Kind][]*Job),
		delayed:   make(map[Kind][]delayedJob),
		consumers: make(map[Kind]bool),
		done:      make(chan struct{}),
	}
}

// Enqueue pushes an immediately-runnable job and returns its id.
func (q *MemoryQueue) Enqueue(ctx context.Context, kind Kind, payload interface{}) (string, error) {
	job, err := NewJob(kind, payload)
	if err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", errors.New("queue closed")
	}
	q.waiting[kind] = append(q.waiting[kind], job)
	return job.ID, nil
}

// EnqueueDelayed schedules a job to become runnable after the given delay.
func (q *MemoryQueue) EnqueueDelayed(ctx context.Context, kind Kind, payload interface{}, delay time.Duration) (string, error) {
	if delay <= 0 {
		return q.Enqueue(ctx, kind, payload)
	}
	job, err := NewJob(kind, payload)
	if err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", errors.New("queue closed")
	}
	q.delayed[kind] = append(q.delayed[kind], delayedJob{job: job, dueAt: time.Now().Add(delay)})
	return job.ID, nil
}

// Consume registers the consumer for a kind and starts its dispatch loop.
func (q *MemoryQueue) Consume(ctx context.Context, kind Kind, handler Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown queue kind: %s", kind)
	}
	if handler == nil {
		return errors.New("nil handler")
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("queue closed")
	}
	if q.consumers[kind] {
		q.mu.Unlock()
		return fmt.Errorf("consumer already registered for %s", kind)
	}
	q.consumers[kind] = true
	q.mu.Unlock()

	go q.consumeLoop(ctx, kind, handler)
	return nil
}

func (q *MemoryQueue) consumeLoop(ctx context.Context, kind Kind, handler Handler) {
	ticker := time.NewTicker(memoryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case <-ticker.C:
		}

		for {
			job := q.claim(kind)
			if job == nil {
				break
			}
			err := runHandler(ctx, handler, job)
			q.finish(err)
		}
	}
}

// claim promotes due delayed jobs and pops the oldest waiting job, if any.
func (q *MemoryQueue) claim(kind Kind) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	remaining := q.delayed[kind][:0]
	for _, d := range q.delayed[kind] {
		if d.dueAt.After(now) {
			remaining = append(remaining, d)
		} else {
			q.waiting[kind] = append(q.waiting[kind], d.job)
		}
	}
	q.delayed[kind] = remaining

	if len(q.waiting[kind]) == 0 {
		return nil
	}
	job := q.waiting[kind][0]
	q.waiting[kind] = q.waiting[kind][1:]
	job.Attempts++
	q.processing++
	return job
}

func (q *MemoryQueue) finish(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing--
	if err != nil {
		q.failed++
	} else {
		q.completed++
	}
}

// Stats aggregates counts across all kinds.
func (q *MemoryQueue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var stats Stats
	for _, kind := range Kinds() {
		stats.Pending += int64(len(q.waiting[kind]) + len(q.delayed[kind]))
	}
	stats.Processing = q.processing
	stats.Completed = q.completed
	stats.Failed = q.failed
	return stats, nil
}

// Close stops all consumer loops and rejects further enqueues.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}
