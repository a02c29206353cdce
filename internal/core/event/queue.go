package event

import (
	"sort"
	"sync"

	"github.com/reciperage/syncd/internal/peer"
)

// QueuedEvent is one network event awaiting a flush.
type QueuedEvent struct {
	TypeID      string
	Priority    int
	Payload     []byte
	Target      peer.ID // peer.None broadcasts
	Reliability Reliability
}

// Queue holds pending network events. Items are appended in publish order;
// Drain hands them out in priority-then-insertion order.
type Queue struct {
	mu    sync.Mutex
	items []QueuedEvent
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(e QueuedEvent) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
}

// Drain removes and returns up to max events, lowest priority value first.
// Events left behind keep their relative order for the next drain.
func (q *Queue) Drain(max int) []QueuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || len(q.items) == 0 {
		return nil
	}
	sort.SliceStable(q.items, func(i, j int) bool { return q.items[i].Priority < q.items[j].Priority })
	n := max
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]QueuedEvent, n)
	copy(out, q.items[:n])
	rest := copy(q.items, q.items[n:])
	for i := rest; i < len(q.items); i++ {
		q.items[i] = QueuedEvent{}
	}
	q.items = q.items[:rest]
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
