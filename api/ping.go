package api

import (
	"net/http"

	"github.com/adbtoolkit/agent/internal/version"
	"github.com/adbtoolkit/agent/pairing"
	"github.com/adbtoolkit/agent/server"
)

// PingHandler answers the open liveness probe with the agent's identity
// and capability summary.
type PingHandler struct {
	Platform string
	Store    *pairing.Store
}

// Handle implements server.Handler.
func (h *PingHandler) Handle(w http.ResponseWriter, r *http.Request, action, param string) {
	if action != "" {
		server.WriteError(w, server.NotFound("unknown_endpoint"))
		return
	}
	server.WriteOK(w, map[string]any{
		"version":        version.Version,
		"platform":       h.Platform,
		"device_id":      h.Store.DeviceID(),
		"paired_devices": h.Store.Count(),
	})
}
