package queue

import (
	"context"
	"sync"

	"secure_chat/internal/model"
)

// MemoryQueue is the single-process OfflineQueue; contents vanish with the
// relay. Also used by tests.
type MemoryQueue struct {
	mu    sync.Mutex
	lists map[string][]*model.Message
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{lists: make(map[string][]*model.Message)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, identity string, msg *model.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lists[identity] = append(q.lists[identity], msg)
	return nil
}

func (q *MemoryQueue) DrainAll(_ context.Context, identity string) ([]*model.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.lists[identity]
	delete(q.lists, identity)
	return msgs, nil
}
