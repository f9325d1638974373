package download

import (
	"container/heap"

	"tilefetch/internal/services/tiles/domain"
)

// job is one submitted request from RequestBuffer until its listener is closed
type job struct {
	id   domain.RequestID
	url  string
	opts domain.RequestOptions
	l    domain.BufferListener
	seq  uint64

	// index is the heap position; -1 once the job left the queue
	index int
	// accepted is closed when RequestBuffer returns; callbacks wait on it
	accepted chan struct{}
	canceled bool
	stop     func()
}

// queue orders jobs by priority, then submission order
type queue []*job

var _ heap.Interface = (*queue)(nil)

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].opts.Priority != q[j].opts.Priority {
		return q[i].opts.Priority > q[j].opts.Priority
	}
	return q[i].seq < q[j].seq
}

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	j := x.(*job)
	j.index = len(*q)
	*q = append(*q, j)
}

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*q = old[:n-1]
	return j
}
