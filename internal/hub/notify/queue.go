package notify

import "container/heap"

// queueItem wraps a notification with an insertion sequence so equal
// (priority, timestamp) pairs dequeue in arrival order.
type queueItem struct {
	n   Notification
	seq uint64
}

// notifQueue is a max-heap by priority, then oldest-first.
type notifQueue []queueItem

func (q notifQueue) Len() int { return len(q) }

func (q notifQueue) Less(i, j int) bool {
	if q[i].n.Priority != q[j].n.Priority {
		return q[i].n.Priority > q[j].n.Priority
	}
	if !q[i].n.Timestamp.Equal(q[j].n.Timestamp) {
		return q[i].n.Timestamp.Before(q[j].n.Timestamp)
	}
	return q[i].seq < q[j].seq
}

func (q notifQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *notifQueue) Push(x any) { *q = append(*q, x.(queueItem)) }

func (q *notifQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

var _ heap.Interface = (*notifQueue)(nil)
