package processing

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

var ErrQueueTimeout = errors.New("queue pop timed out")

type taskHeap []*Task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return less(h[i], h[j]) }
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*Task))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is an unbounded priority queue safe for concurrent producers and consumers.
type Queue struct {
	mu     sync.Mutex
	items  taskHeap
	seq    uint64
	signal chan struct{}
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push never blocks.
func (q *Queue) Push(task *Task) {
	q.mu.Lock()
	q.seq++
	task.seq = q.seq
	task.enqueuedAt = time.Now()
	heap.Push(&q.items, task)
	q.mu.Unlock()
	q.wake()
}

// Pop blocks until a task is available, the timeout elapses or ctx is done.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Task, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			task := heap.Pop(&q.items).(*Task)
			remaining := q.items.Len()
			q.mu.Unlock()
			if remaining > 0 {
				q.wake()
			}
			return task, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-timer.C:
			return nil, ErrQueueTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
