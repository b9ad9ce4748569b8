package application

import (
	"context"
	"sync"
	"time"

	"keyslot-gateway/middleware/keyslot/domain"
)

// SlotService concentra a regra de aquisição/liberação de key slots com
// timeout, sem saber nada sobre HTTP.
type SlotService struct {
	Scheduler      domain.SlotScheduler
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir um slot.
//   - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
//   - Se `AcquireTimeout > 0`, espera até o timeout.
//
// Retorna (slotNumber, release, err). O release é idempotente e deve ser
// chamado (normalmente via defer) em todo caminho de saída; chamadas
// repetidas são inofensivas.
func (s SlotService) Acquire(ctx context.Context, req domain.AcquireRequest) (int, func(), error) {
	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	slotNumber, err := s.Scheduler.Acquire(acqCtx, req)
	if err != nil {
		return 0, nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() { s.Scheduler.Release(slotNumber) })
	}
	return slotNumber, release, nil
}

// WithSlot executa fn segurando um slot, com liberação garantida na saída
// (sucesso, erro ou panic).
func (s SlotService) WithSlot(ctx context.Context, req domain.AcquireRequest, fn func(ctx context.Context, slotNumber int) error) error {
	slotNumber, release, err := s.Acquire(ctx, req)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx, slotNumber)
}
