package infra

import (
	"context"
	"sync"

	"keyslot-gateway/middleware/keyslot/domain"
)

type EventCounters struct {
	Acquired      int64
	Released      int64
	WaitCancelled int64
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu         sync.Mutex
	total      EventCounters
	byTaskType map[string]EventCounters
	bySlot     map[int]EventCounters

	trackSlots bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackSlots(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackSlots = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byTaskType: make(map[string]EventCounters),
		bySlot:     make(map[int]EventCounters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.SlotEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bump := func(c *EventCounters) {
		switch ev.Kind {
		case domain.EventAcquired:
			c.Acquired++
		case domain.EventReleased:
			c.Released++
		case domain.EventWaitCancelled:
			c.WaitCancelled++
		}
	}

	bump(&s.total)

	c := s.byTaskType[ev.TaskType]
	bump(&c)
	s.byTaskType[ev.TaskType] = c

	if s.trackSlots && ev.SlotNumber > 0 {
		k := s.bySlot[ev.SlotNumber]
		bump(&k)
		s.bySlot[ev.SlotNumber] = k
	}
	return nil
}

func (s *MemoryStatsStore) Total() EventCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByTaskType() map[string]EventCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]EventCounters, len(s.byTaskType))
	for k, v := range s.byTaskType {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) BySlot() map[int]EventCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]EventCounters, len(s.bySlot))
	for k, v := range s.bySlot {
		out[k] = v
	}
	return out
}
