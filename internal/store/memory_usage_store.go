package store

import (
	"context"
	"sync"

	"github.com/dunamismax/pixelserve/internal/domain"
)

const DefaultMemoryUsageCapacity = 1024

// MemoryUsageStore keeps the most recent usage logs in a fixed-size ring.
type MemoryUsageStore struct {
	mu    sync.RWMutex
	logs  []domain.UsageLog
	next  int
	full  bool
	total int64
}

func NewMemoryUsageStore(capacity int) *MemoryUsageStore {
	if capacity <= 0 {
		capacity = DefaultMemoryUsageCapacity
	}
	return &MemoryUsageStore{
		logs: make([]domain.UsageLog, capacity),
	}
}

func (s *MemoryUsageStore) CreateUsageLog(ctx context.Context, log domain.UsageLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs[s.next] = log
	s.next = (s.next + 1) % len(s.logs)
	if s.next == 0 {
		s.full = true
	}
	s.total++
	return nil
}

// Recent returns up to limit logs, newest first.
func (s *MemoryUsageStore) Recent(limit int) []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.full {
		size = len(s.logs)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]domain.UsageLog, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.logs)) % len(s.logs)
		out = append(out, s.logs[idx])
	}
	return out
}

// Total counts every log ever recorded, including evicted ones.
func (s *MemoryUsageStore) Total() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}
