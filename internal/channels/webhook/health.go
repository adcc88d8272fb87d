package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/famledger/pkg/protocol"
)

// HealthHandler reports channel status and, when ping is set, database reachability.
// A failing ping answers 503.
func HealthHandler(status func() map[string]bool, ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := protocol.HealthResponse{Status: "ok"}
		if status != nil {
			resp.Channels = status()
		}
		code := http.StatusOK
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				resp.Status = "degraded"
				resp.Database = err.Error()
				code = http.StatusServiceUnavailable
			} else {
				resp.Database = "ok"
			}
		}
		writeJSON(w, code, resp)
	}
}
