package queue

import (
	"container/heap"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-downloader/pkg/models"
)

// pqItem is one queued page. seq breaks ties so pages of equal depth leave in discovery order.
type pqItem struct {
	task  models.PageTask
	seq   uint64
	index int
}

// pageHeap implements heap.Interface ordered by (depth, seq)
type pageHeap []*pqItem

func (h pageHeap) Len() int { return len(h) }

func (h pageHeap) Less(i, j int) bool {
	if h[i].task.Depth != h[j].task.Depth {
		return h[i].task.Depth < h[j].task.Depth
	}
	return h[i].seq < h[j].seq
}

func (h pageHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *pageHeap) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *pageHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// PageQueue is the site-mode frontier: a blocking, depth-ordered queue shared by page workers
type PageQueue struct {
	h      pageHeap
	seq    uint64
	mu     sync.Mutex
	cond   *sync.Cond
	closed bool
	log    *logrus.Entry
}

// NewPageQueue creates an empty open queue
func NewPageQueue(log *logrus.Entry) *PageQueue {
	q := &PageQueue{log: log}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.h)
	return q
}

// Add enqueues task. It returns false once the queue is closed.
func (q *PageQueue) Add(task models.PageTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.Debugf("Dropping page for closed queue: %s", task.URL)
		return false
	}
	q.seq++
	heap.Push(&q.h, &pqItem{task: task, seq: q.seq})
	q.cond.Signal()
	return true
}

// Pop blocks until a task is available or the queue is closed and drained.
// Tasks added before Close are still handed out.
func (q *PageQueue) Pop() (models.PageTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.h) == 0 {
		if q.closed {
			return models.PageTask{}, false
		}
		q.cond.Wait()
	}
	item := heap.Pop(&q.h).(*pqItem)
	return item.task, true
}

// Close stops accepting tasks and wakes every waiting worker
func (q *PageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
}

// Len returns the number of queued tasks
func (q *PageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
