package domain

import "context"

// Status de um key slot. Exatamente um vale a cada instante.
type Status string

const (
	StatusReady    Status = "ready"
	StatusBusy     Status = "busy"
	StatusCooldown Status = "cooldown"
)

// AcquireRequest descreve quem está pedindo um slot.
//
// TaskType é obrigatório; TaskID é opcional e serve para o chamador se
// reencontrar depois via Snapshot. LeaseKey (opcional) cria um vínculo
// lógico que permite liberar o slot sem saber o número dele.
type AcquireRequest struct {
	TaskType string
	TaskID   string
	LeaseKey string
}

// StatusQuery identifica o chamador numa consulta de Snapshot.
// TaskType só é considerado quando TaskID também foi informado.
type StatusQuery struct {
	TaskID   string
	TaskType string
}

// SlotInfo é o detalhe de um slot dentro de um Snapshot.
type SlotInfo struct {
	SlotNumber               int    `json:"slot_number"`
	Status                   Status `json:"status"`
	CooldownRemainingSeconds int    `json:"cooldown_remaining_seconds"`
	CurrentTaskType          string `json:"current_task_type,omitempty"`
	CurrentTaskID            string `json:"current_task_id,omitempty"`
}

// Snapshot é uma leitura consistente do estado do escalonador, pensada
// para polling de status. Invariante: AvailableKeys+BusyKeys+CooldownKeys
// == TotalKeys.
type Snapshot struct {
	TotalKeys              int        `json:"total_keys"`
	CooldownSeconds        int        `json:"cooldown_seconds"`
	AvailableKeys          int        `json:"available_keys"`
	BusyKeys               int        `json:"busy_keys"`
	CooldownKeys           int        `json:"cooldown_keys"`
	WaitingJobs            int        `json:"waiting_jobs"`
	EstimatedWaitSeconds   int        `json:"estimated_wait_seconds"`
	NextAvailableInSeconds int        `json:"next_available_in_seconds"`
	MyPosition             *int       `json:"my_position"`
	MyStatus               string     `json:"my_status"`
	Slots                  []SlotInfo `json:"slots"`
}

// Valores possíveis de Snapshot.MyStatus.
const (
	MyStatusWaiting    = "waiting"
	MyStatusProcessing = "processing"
	MyStatusUnknown    = "unknown"
)

// SlotScheduler representa o pool compartilhado de key slots.
//
// A semântica é: Acquire bloqueia até um slot poder ser atribuído com
// exclusividade a esta chamada (fila FIFO + rodízio entre slots prontos),
// ou até o ctx encerrar. Release inicia o cooldown do slot e é idempotente:
// liberar um slot que não está ocupado retorna false, sem efeito.
type SlotScheduler interface {
	Acquire(ctx context.Context, req AcquireRequest) (slotNumber int, err error)
	Release(slotNumber int) bool
	ReleaseByLease(leaseKey string) bool
	Snapshot(q StatusQuery) Snapshot
}
