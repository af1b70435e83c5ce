package api

import (
	"errors"
	"net"
	"net/http"

	"github.com/adbtoolkit/agent/server"
)

// DeviceHandler implements the read-only device introspection domain.
type DeviceHandler struct {
	Provider DeviceProvider
	Files    FilesProvider
}

// Handle implements server.Handler.
func (h *DeviceHandler) Handle(w http.ResponseWriter, r *http.Request, action, param string) {
	switch action {
	case "info":
		h.info(w)
	case "battery":
		h.battery(w)
	case "network":
		h.network(w)
	case "storage":
		h.storage(w)
	case "props":
		h.props(w)
	case "permissions":
		h.permissions(w)
	case "screen":
		h.screen(w)
	default:
		server.WriteError(w, server.NotFound("unknown_endpoint"))
	}
}

func (h *DeviceHandler) info(w http.ResponseWriter) {
	info, err := h.Provider.Info()
	if err != nil {
		server.WriteError(w, server.Internal(err))
		return
	}
	server.WriteOK(w, map[string]any{"device": info})
}

func (h *DeviceHandler) battery(w http.ResponseWriter) {
	b, err := h.Provider.Battery()
	if err != nil {
		server.WriteError(w, mapProviderError(err))
		return
	}
	server.WriteOK(w, map[string]any{"battery": b})
}

type ifaceInfo struct {
	Name      string   `json:"name"`
	Addresses []string `json:"addresses"`
	Up        bool     `json:"up"`
}

func (h *DeviceHandler) network(w http.ResponseWriter) {
	ifaces, err := net.Interfaces()
	if err != nil {
		server.WriteError(w, server.Internal(err))
		return
	}
	out := make([]ifaceInfo, 0, len(ifaces))
	for _, iface := range ifaces {
		info := ifaceInfo{
			Name: iface.Name,
			Up:   iface.Flags&net.FlagUp != 0,
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, a := range addrs {
				ipNet, ok := a.(*net.IPNet)
				if !ok {
					continue
				}
				if ip4 := ipNet.IP.To4(); ip4 != nil {
					info.Addresses = append(info.Addresses, ip4.String())
				}
			}
		}
		out = append(out, info)
	}
	server.WriteOK(w, map[string]any{"interfaces": out})
}

func (h *DeviceHandler) storage(w http.ResponseWriter) {
	info, err := h.Files.Storage()
	if err != nil {
		server.WriteError(w, server.Internal(err))
		return
	}
	server.WriteOK(w, map[string]any{"storage": info})
}

func (h *DeviceHandler) props(w http.ResponseWriter) {
	props, err := h.Provider.Properties()
	if err != nil {
		server.WriteError(w, mapProviderError(err))
		return
	}
	server.WriteOK(w, map[string]any{"properties": props, "count": len(props)})
}

func (h *DeviceHandler) permissions(w http.ResponseWriter) {
	perms, err := h.Provider.Permissions()
	if err != nil {
		server.WriteError(w, mapProviderError(err))
		return
	}
	server.WriteOK(w, map[string]any{"permissions": perms})
}

func (h *DeviceHandler) screen(w http.ResponseWriter) {
	png, err := h.Provider.Screenshot()
	if err != nil {
		server.WriteError(w, mapProviderError(err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// mapProviderError translates provider failures to API errors.
func mapProviderError(err error) error {
	if errors.Is(err, ErrUnsupported) {
		return server.NotImplemented("unsupported")
	}
	return server.Internal(err)
}
