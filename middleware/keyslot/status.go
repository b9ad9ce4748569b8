package keyslot

import (
	"encoding/json"
	"net/http"

	"keyslot-gateway/middleware/keyslot/domain"
)

// StatusHandler expõe o Snapshot do escalonador como JSON, para polling.
//
// Query params opcionais: task_id e task_type identificam o chamador e
// preenchem my_position/my_status na resposta.
func StatusHandler(scheduler domain.SlotScheduler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		snap := scheduler.Snapshot(domain.StatusQuery{
			TaskID:   r.URL.Query().Get("task_id"),
			TaskType: r.URL.Query().Get("task_type"),
		})

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(snap)
	})
}
