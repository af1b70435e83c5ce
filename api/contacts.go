package api

import (
	"net/http"

	"github.com/adbtoolkit/agent/server"
)

// ContactsHandler implements the contacts domain.
type ContactsHandler struct {
	Provider ContactsProvider
}

// Handle implements server.Handler.
func (h *ContactsHandler) Handle(w http.ResponseWriter, r *http.Request, action, param string) {
	switch action {
	case "list":
		h.list(w)
	case "count":
		h.count(w)
	case "export-vcf":
		h.exportVCF(w)
	case "import-vcf":
		h.importVCF(w, r)
	default:
		server.WriteError(w, server.NotFound("unknown_endpoint"))
	}
}

func (h *ContactsHandler) list(w http.ResponseWriter) {
	contacts, err := h.Provider.List()
	if err != nil {
		server.WriteError(w, mapProviderError(err))
		return
	}
	server.WriteOK(w, map[string]any{"count": len(contacts), "contacts": contacts})
}

func (h *ContactsHandler) count(w http.ResponseWriter) {
	contacts, err := h.Provider.List()
	if err != nil {
		server.WriteError(w, mapProviderError(err))
		return
	}
	server.WriteOK(w, map[string]any{"count": len(contacts)})
}

func (h *ContactsHandler) exportVCF(w http.ResponseWriter) {
	contacts, err := h.Provider.List()
	if err != nil {
		server.WriteError(w, mapProviderError(err))
		return
	}
	w.Header().Set("Content-Type", "text/vcard; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="contacts.vcf"`)
	if err := WriteVCF(w, contacts); err != nil {
		// headers are out; the truncated stream signals the failure
		return
	}
}

// importVCF parses the request body and inserts each contact, reporting
// a per-entry success count and failure list.
func (h *ContactsHandler) importVCF(w http.ResponseWriter, r *http.Request) {
	contacts, failures := ParseVCF(r.Body)
	if len(contacts) == 0 && len(failures) == 0 {
		server.WriteError(w, server.BadRequest("no vcards in body"))
		return
	}

	imported := 0
	for _, c := range contacts {
		if err := h.Provider.Insert(c); err != nil {
			failures = append(failures, c.Name+": "+err.Error())
			continue
		}
		imported++
	}
	server.WriteOK(w, map[string]any{
		"imported": imported,
		"failed":   len(failures),
		"failures": failures,
	})
}
