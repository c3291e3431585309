package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"secure_chat/internal/model"
)

// MemoryStore is the zero-dependency history backend; everything lives in
// one process and is lost on restart. Used when no database is configured
// and by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []*model.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *msg
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *MemoryStore) QueryThread(_ context.Context, identityA, identityB string, before time.Time, limit int64) ([]*model.Message, error) {
	if before.IsZero() {
		before = time.Now()
	}

	s.mu.RLock()
	var thread []*model.Message
	for _, m := range s.messages {
		pair := (m.SenderID == identityA && m.ReceiverID == identityB) ||
			(m.SenderID == identityB && m.ReceiverID == identityA)
		if pair && m.CreatedAt.Before(before) {
			cp := *m
			thread = append(thread, &cp)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(thread, func(i, j int) bool {
		return thread[i].CreatedAt.Before(thread[j].CreatedAt)
	})
	if limit > 0 && int64(len(thread)) > limit {
		thread = thread[int64(len(thread))-limit:]
	}
	return thread, nil
}
