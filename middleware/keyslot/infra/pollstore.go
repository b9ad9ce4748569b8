package infra

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PollStore é um token-bucket (x/time/rate) por cliente, com cache por chave
// e limpeza periódica. Serve para conter polling agressivo do endpoint de
// status, que é barato de abusar (cada cliente esperando na fila consulta
// em loop).
type PollStore struct {
	mu           sync.Mutex
	entries      map[string]*pollEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type pollEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type PollStoreOption func(*PollStore)

func WithIdleTTL(d time.Duration) PollStoreOption {
	return func(s *PollStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) PollStoreOption {
	return func(s *PollStore) { s.cleanupEvery = d }
}

func NewPollStore(rps float64, burst int, opts ...PollStoreOption) *PollStore {
	s := &PollStore{
		entries:      make(map[string]*pollEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PollStore) RPS() float64 { return float64(s.rps) }
func (s *PollStore) Burst() int   { return s.burst }

// Allow consulta (criando se preciso) o limiter do cliente dado.
func (s *PollStore) Allow(key string) bool {
	now := time.Now()

	s.mu.Lock()
	ent, ok := s.entries[key]
	if !ok {
		ent = &pollEntry{lim: rate.NewLimiter(s.rps, s.burst)}
		s.entries[key] = ent
	}
	ent.lastSeen = now
	lim := ent.lim
	s.mu.Unlock()

	return lim.Allow()
}

func (s *PollStore) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *PollStore) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar
// context aqui. (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}
