package infra

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"keyslot-gateway/middleware/keyslot/domain"

	"github.com/google/uuid"
)

type queueTicket struct {
	ticketID string
	taskType string
	taskID   string
}

type keySlot struct {
	slotNumber      int
	status          domain.Status
	cooldownUntil   time.Time
	currentTaskType string
	currentTaskID   string
}

// Pool é a implementação em memória de domain.SlotScheduler.
//
// Todo o estado mutável (slots, fila, leases, cursor de rodízio) é protegido
// por um único mutex. Como Go não tem condition variable com timeout, o
// "notify_all" é um canal fechado-e-substituído: quem espera seleciona entre
// o canal de wake, o ctx e um timer limitado pela expiração de cooldown mais
// próxima.
type Pool struct {
	mu     sync.Mutex
	slots  []keySlot
	queue  []queueTicket
	leases map[string]int
	// cursor de rodízio: índice do último slot atribuído (-1 = antes do slot 1)
	cursor   int
	cooldown time.Duration
	wake     chan struct{}
}

// NewPool cria um pool com totalKeys slots prontos e o cooldown dado.
func NewPool(totalKeys int, cooldown time.Duration) (*Pool, error) {
	if totalKeys < 1 {
		return nil, errors.New("keyslot: totalKeys must be >= 1")
	}
	if cooldown < 0 {
		return nil, errors.New("keyslot: cooldown must be >= 0")
	}

	p := &Pool{
		slots:    make([]keySlot, totalKeys),
		leases:   make(map[string]int),
		cursor:   -1,
		cooldown: cooldown,
		wake:     make(chan struct{}),
	}
	for i := range p.slots {
		p.slots[i] = keySlot{slotNumber: i + 1, status: domain.StatusReady}
	}
	return p, nil
}

func (p *Pool) broadcastLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}

func (p *Pool) slotByNumberLocked(slotNumber int) *keySlot {
	if slotNumber < 1 || slotNumber > len(p.slots) {
		return nil
	}
	return &p.slots[slotNumber-1]
}

// refreshLocked é a atualização preguiçosa: cooldown expirado vira ready.
// Todo caminho que inspeciona estado precisa passar por aqui antes.
func (p *Pool) refreshLocked(now time.Time) {
	for i := range p.slots {
		slot := &p.slots[i]
		if slot.status == domain.StatusCooldown && !slot.cooldownUntil.After(now) {
			slot.status = domain.StatusReady
			slot.cooldownUntil = time.Time{}
		}
	}
}

// pickReadyLocked faz o rodízio: varre a partir do slot seguinte ao cursor,
// com wrap, e devolve o primeiro pronto. Avança o cursor ao escolher.
func (p *Pool) pickReadyLocked() *keySlot {
	total := len(p.slots)
	for offset := 1; offset <= total; offset++ {
		index := (p.cursor + offset + total) % total
		if p.slots[index].status == domain.StatusReady {
			p.cursor = index
			return &p.slots[index]
		}
	}
	return nil
}

// nextCooldownLocked devolve o tempo até o cooldown mais próximo expirar.
// ok=false quando nenhum slot está em cooldown (aí só resta esperar wake).
func (p *Pool) nextCooldownLocked(now time.Time) (wait time.Duration, ok bool) {
	for i := range p.slots {
		slot := &p.slots[i]
		if slot.status != domain.StatusCooldown {
			continue
		}
		remaining := slot.cooldownUntil.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		if !ok || remaining < wait {
			wait = remaining
			ok = true
		}
	}
	return wait, ok
}

func (p *Pool) removeTicketLocked(ticketID string) bool {
	for i, t := range p.queue {
		if t.ticketID == ticketID {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Pool) releaseLocked(slot *keySlot, now time.Time) bool {
	if slot.status != domain.StatusBusy {
		return false
	}

	slot.status = domain.StatusCooldown
	slot.cooldownUntil = now.Add(p.cooldown)
	slot.currentTaskType = ""
	slot.currentTaskID = ""

	for leaseKey, slotNumber := range p.leases {
		if slotNumber == slot.slotNumber {
			delete(p.leases, leaseKey)
		}
	}
	return true
}

func matchesTask(targetTaskID, targetTaskType, taskID, taskType string) bool {
	if targetTaskID == "" {
		return false
	}
	if targetTaskID != taskID {
		return false
	}
	if targetTaskType != "" && targetTaskType != taskType {
		return false
	}
	return true
}

// Acquire espera por um slot e o atribui com exclusividade a esta chamada.
//
// Prioridade da fila é FIFO estrito: só o ticket na cabeça pode receber slot,
// mesmo que haja slot pronto sobrando. A seleção entre slots prontos usa
// rodízio, para distribuir o reuso entre credenciais distintas.
//
// Se o ctx encerrar antes da atribuição, o ticket é removido da fila e os
// demais esperando são acordados (um terceiro pode ter virado cabeça).
func (p *Pool) Acquire(ctx context.Context, req domain.AcquireRequest) (int, error) {
	ticket := queueTicket{
		ticketID: uuid.NewString(),
		taskType: req.TaskType,
		taskID:   req.TaskID,
	}

	p.mu.Lock()
	p.queue = append(p.queue, ticket)

	for {
		if err := ctx.Err(); err != nil {
			if p.removeTicketLocked(ticket.ticketID) {
				p.broadcastLocked()
			}
			p.mu.Unlock()
			return 0, err
		}

		now := time.Now()
		p.refreshLocked(now)

		isQueueHead := len(p.queue) > 0 && p.queue[0].ticketID == ticket.ticketID
		if isQueueHead {
			if slot := p.pickReadyLocked(); slot != nil {
				p.queue = p.queue[1:]
				slot.status = domain.StatusBusy
				slot.currentTaskType = ticket.taskType
				slot.currentTaskID = ticket.taskID
				slot.cooldownUntil = time.Time{}
				if req.LeaseKey != "" {
					p.leases[req.LeaseKey] = slot.slotNumber
				}
				p.broadcastLocked()
				slotNumber := slot.slotNumber
				p.mu.Unlock()
				return slotNumber, nil
			}
		}

		timeout, hasCooldown := p.nextCooldownLocked(now)
		wakeCh := p.wake
		p.mu.Unlock()

		if hasCooldown {
			// acorda quando o cooldown pode ter expirado, mesmo sem notify
			if timeout < time.Millisecond {
				timeout = time.Millisecond
			}
			timer := time.NewTimer(timeout)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-wakeCh:
				timer.Stop()
			case <-timer.C:
			}
		} else {
			select {
			case <-ctx.Done():
			case <-wakeCh:
			}
		}

		p.mu.Lock()
	}
}

// Release libera um slot ocupado e inicia o cooldown dele.
//
// Número fora da faixa ou slot que não está busy retornam false sem efeito
// (double-release é inofensivo, não é erro).
func (p *Pool) Release(slotNumber int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot := p.slotByNumberLocked(slotNumber)
	if slot == nil {
		return false
	}

	changed := p.releaseLocked(slot, time.Now())
	p.broadcastLocked()
	return changed
}

// ReleaseByLease libera o slot vinculado à leaseKey (se houver).
func (p *Pool) ReleaseByLease(leaseKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	slotNumber, ok := p.leases[leaseKey]
	if !ok {
		return false
	}
	delete(p.leases, leaseKey)

	slot := p.slotByNumberLocked(slotNumber)
	if slot == nil {
		return false
	}

	changed := p.releaseLocked(slot, time.Now())
	p.broadcastLocked()
	return changed
}

// Snapshot devolve uma leitura do estado para polling de status.
//
// Fora a atualização preguiçosa de cooldown (idempotente), nada é mutado.
func (p *Pool) Snapshot(q domain.StatusQuery) domain.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.refreshLocked(now)

	cooldownSeconds := int(p.cooldown / time.Second)

	snap := domain.Snapshot{
		TotalKeys:       len(p.slots),
		CooldownSeconds: cooldownSeconds,
		MyStatus:        domain.MyStatusUnknown,
		Slots:           make([]domain.SlotInfo, 0, len(p.slots)),
	}

	nearestCooldown := -1
	for i := range p.slots {
		slot := &p.slots[i]
		remaining := 0
		switch slot.status {
		case domain.StatusReady:
			snap.AvailableKeys++
		case domain.StatusBusy:
			snap.BusyKeys++
		case domain.StatusCooldown:
			snap.CooldownKeys++
			remaining = int(math.Ceil(slot.cooldownUntil.Sub(now).Seconds()))
			if remaining < 0 {
				remaining = 0
			}
			if nearestCooldown < 0 || remaining < nearestCooldown {
				nearestCooldown = remaining
			}
		}

		snap.Slots = append(snap.Slots, domain.SlotInfo{
			SlotNumber:               slot.slotNumber,
			Status:                   slot.status,
			CooldownRemainingSeconds: remaining,
			CurrentTaskType:          slot.currentTaskType,
			CurrentTaskID:            slot.currentTaskID,
		})
	}

	snap.WaitingJobs = len(p.queue)

	for index, ticket := range p.queue {
		if matchesTask(q.TaskID, q.TaskType, ticket.taskID, ticket.taskType) {
			position := index + 1
			snap.MyPosition = &position
			snap.MyStatus = domain.MyStatusWaiting
			break
		}
	}

	if snap.MyPosition == nil && q.TaskID != "" {
		for i := range p.slots {
			slot := &p.slots[i]
			if slot.status != domain.StatusBusy {
				continue
			}
			if matchesTask(q.TaskID, q.TaskType, slot.currentTaskID, slot.currentTaskType) {
				snap.MyStatus = domain.MyStatusProcessing
				break
			}
		}
	}

	switch {
	case snap.AvailableKeys > 0:
		snap.NextAvailableInSeconds = 0
	case nearestCooldown >= 0:
		snap.NextAvailableInSeconds = nearestCooldown
	default:
		// todos os slots ocupados, sem previsão de término conhecida
		snap.NextAvailableInSeconds = cooldownSeconds
	}

	if snap.WaitingJobs == 0 || snap.AvailableKeys > 0 {
		snap.EstimatedWaitSeconds = 0
	} else {
		waves := (snap.WaitingJobs + len(p.slots) - 1) / len(p.slots)
		snap.EstimatedWaitSeconds = snap.NextAvailableInSeconds + (waves-1)*cooldownSeconds
	}

	return snap
}
