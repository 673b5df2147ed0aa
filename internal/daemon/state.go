package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/signalsfoundry/commensal-automator/internal/automator"
)

const snapshotTimeout = 2 * time.Second

// StateHandler serves a JSON snapshot of the automator's state.
func StateHandler(snapshot func(context.Context) (automator.Snapshot, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
		defer cancel()

		s, err := snapshot(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(s)
	})
}
