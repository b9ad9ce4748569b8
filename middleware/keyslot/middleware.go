package keyslot

import (
	"net/http"
	"time"

	"keyslot-gateway/middleware/keyslot/application"
	"keyslot-gateway/middleware/keyslot/domain"
)

type Options struct {
	Scheduler domain.SlotScheduler
	Stats     domain.StatsStore

	// TaskType marca o ocupante do slot; requests podem sobrescrever via
	// TaskTypeHeader (se configurado).
	TaskType       string
	TaskTypeHeader string
	// TaskIDHeader permite ao cliente se identificar para depois se achar
	// no /queue/status. Sem o header, o request espera anônimo.
	TaskIDHeader string

	// SlotHeader é injetado no request antes de seguir adiante, para o
	// upstream saber qual credencial usar. Padrão: X-Key-Slot.
	SlotHeader string

	RejectStatus   int
	AcquireTimeout time.Duration
}

// Middleware adquire um key slot antes de chamar o próximo handler e o
// devolve na saída, em qualquer caminho (sucesso ou falha do upstream).
//
// Se a espera estourar o timeout ou o cliente desistir, responde
// RejectStatus com Retry-After estimado a partir do Snapshot.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Scheduler == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.TaskType == "" {
		opts.TaskType = "http_request"
	}
	if opts.SlotHeader == "" {
		opts.SlotHeader = "X-Key-Slot"
	}

	svc := application.SlotService{
		Scheduler:      opts.Scheduler,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := domain.AcquireRequest{TaskType: opts.TaskType}
			if opts.TaskTypeHeader != "" {
				if v := r.Header.Get(opts.TaskTypeHeader); v != "" {
					req.TaskType = v
				}
			}
			if opts.TaskIDHeader != "" {
				req.TaskID = r.Header.Get(opts.TaskIDHeader)
			}

			slotNumber, release, err := svc.Acquire(r.Context(), req)
			if err != nil {
				recordEvent(opts.Stats, r, domain.SlotEvent{
					Kind:     domain.EventWaitCancelled,
					TaskType: req.TaskType,
					TaskID:   req.TaskID,
				})
				snap := opts.Scheduler.Snapshot(domain.StatusQuery{})
				w.Header().Set("Retry-After", formatInt(snap.NextAvailableInSeconds))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			defer func() {
				release()
				recordEvent(opts.Stats, r, domain.SlotEvent{
					Kind:       domain.EventReleased,
					SlotNumber: slotNumber,
					TaskType:   req.TaskType,
					TaskID:     req.TaskID,
				})
			}()

			recordEvent(opts.Stats, r, domain.SlotEvent{
				Kind:       domain.EventAcquired,
				SlotNumber: slotNumber,
				TaskType:   req.TaskType,
				TaskID:     req.TaskID,
			})

			r.Header.Set(opts.SlotHeader, formatInt(slotNumber))
			next.ServeHTTP(w, r)
		})
	}
}

// recordEvent é best-effort: falha de stats não derruba o request.
func recordEvent(stats domain.StatsStore, r *http.Request, ev domain.SlotEvent) {
	if stats == nil {
		return
	}
	ev.At = time.Now()
	_ = stats.Record(r.Context(), ev)
}
