package cluster

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/canvakit/graphsync/pkg/schema"
)

// syncRequest is the body of POST /api/sync. InstanceID carries the
// resource key the client wants to open.
type syncRequest struct {
	InstanceID string `json:"instanceId"`
}

type syncResponse struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// SyncHandler answers resource-ownership queries: given a resource key,
// it returns the address of the instance the client must connect to.
func (r *Router) SyncHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body syncRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.InstanceID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": "body must be {\"instanceId\": string}",
			})
			return
		}

		inst, err := r.Resolve(body.InstanceID)
		if err != nil {
			r.logger.Warn("sync resolve failed",
				slog.String("resource_key", body.InstanceID), slog.String("error", err.Error()))
			status := http.StatusInternalServerError
			if schema.CodeOf(err) == schema.ErrCodeNoServerAvailable {
				status = http.StatusNotFound
			}
			writeJSON(w, status, map[string]any{"error": err.Error(), "code": schema.CodeOf(err)})
			return
		}
		writeJSON(w, http.StatusOK, syncResponse{Host: inst.Host, Port: inst.Port})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
