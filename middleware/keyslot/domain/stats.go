package domain

import (
	"context"
	"time"
)

// EventKind classifica um evento do ciclo de vida de um slot.
type EventKind string

const (
	EventAcquired      EventKind = "acquired"
	EventReleased      EventKind = "released"
	EventWaitCancelled EventKind = "wait_cancelled"
)

// SlotEvent representa um evento de atribuição/liberação de slot.
//
// Ele é propositalmente "agnóstico de HTTP": TaskType/TaskID são strings
// genéricas vindas do chamador.
//
// Observação: cuidado com cardinalidade (ex.: salvar TaskID sem controle
// pode explodir o número de chaves em uma base como Redis).
type SlotEvent struct {
	Kind       EventKind
	SlotNumber int
	TaskType   string
	TaskID     string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do pool.
//
// Implementações podem armazenar em Redis, memória, etc.
// Quem chama deve tratar erro como best-effort (não derrubar request).
type StatsStore interface {
	Record(ctx context.Context, ev SlotEvent) error
}
