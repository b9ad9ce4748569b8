package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keyslot-gateway/middleware/keyslot"
	"keyslot-gateway/middleware/keyslot/application"
	"keyslot-gateway/middleware/keyslot/domain"
	"keyslot-gateway/middleware/keyslot/infra"
)

func main() {
	// Exemplo: usando o pool direto no seu webserver (sem proxy)
	pool, err := infra.NewPool(2, 5*time.Second)
	if err != nil {
		log.Fatalf("pool error: %v", err)
	}

	svc := application.SlotService{Scheduler: pool, AcquireTimeout: 30 * time.Second}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mux := http.NewServeMux()

	// segura um slot durante a "geração" e devolve na saída
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		jobID := r.URL.Query().Get("job_id")
		req := domain.AcquireRequest{
			TaskType: "curriculum_generation",
			TaskID:   jobID,
			LeaseKey: jobID,
		}

		err := svc.WithSlot(r.Context(), req, func(ctx context.Context, slotNumber int) error {
			// aqui entraria a chamada ao serviço externo usando a credencial do slot
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
			log.Printf("generated job=%q slot=%d", jobID, slotNumber)
			return nil
		})
		if err != nil {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "done\n")
	})

	// cancelamento por chave lógica: quem limpa não precisa saber o slot
	mux.HandleFunc("/cancel", func(w http.ResponseWriter, r *http.Request) {
		jobID := r.URL.Query().Get("job_id")
		if pool.ReleaseByLease(jobID) {
			_, _ = io.WriteString(w, "released\n")
			return
		}
		_, _ = io.WriteString(w, "no lease\n")
	})

	mux.Handle("/queue/status", keyslot.StatusHandler(pool))

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("example server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
