package usage

import (
	"context"
	"log"
	"sync"
	"time"
)

const applyTimeout = 10 * time.Second

// LocalQueue is an in-process worker pool. Enqueue never blocks; a full buffer drops the task.
type LocalQueue struct {
	applier *Applier
	tasks   chan Task

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewLocalQueue(applier *Applier, workers, buffer int) *LocalQueue {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 256
	}
	q := &LocalQueue{applier: applier, tasks: make(chan Task, buffer)}

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(workerID int) {
			defer q.wg.Done()
			for t := range q.tasks {
				q.run(workerID, t)
			}
		}(i)
	}
	return q
}

func (q *LocalQueue) run(workerID int, t Task) {
	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()

	start := time.Now()
	if err := q.applier.Apply(ctx, t); err != nil {
		// at most once: failed tasks are not retried
		log.Printf("usage worker=%d kind=%s key=%s failed cost=%s err=%v",
			workerID, t.Kind, t.KeyCode, time.Since(start), err)
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, t Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Close stops accepting tasks and waits for queued ones to drain.
func (q *LocalQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
}
