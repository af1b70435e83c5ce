package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/adbtoolkit/agent/server"
)

// SMSHandler implements the text-message domain.
type SMSHandler struct {
	Provider SMSProvider
}

// Handle implements server.Handler.
func (h *SMSHandler) Handle(w http.ResponseWriter, r *http.Request, action, param string) {
	switch action {
	case "list":
		h.list(w, r)
	case "export":
		h.export(w)
	case "count":
		h.count(w)
	case "conversations":
		h.conversations(w)
	case "import":
		h.importJSON(w, r)
	default:
		server.WriteError(w, server.NotFound("unknown_endpoint"))
	}
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (h *SMSHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 100)
	offset := intQuery(r, "offset", 0)
	msgs, err := h.Provider.List(limit, offset)
	if err != nil {
		server.WriteError(w, mapProviderError(err))
		return
	}
	server.WriteOK(w, map[string]any{
		"count":    len(msgs),
		"limit":    limit,
		"offset":   offset,
		"messages": msgs,
	})
}

func (h *SMSHandler) export(w http.ResponseWriter) {
	msgs, err := h.Provider.List(0, 0)
	if err != nil {
		server.WriteError(w, mapProviderError(err))
		return
	}
	server.WriteOK(w, map[string]any{"count": len(msgs), "messages": msgs})
}

func (h *SMSHandler) count(w http.ResponseWriter) {
	n, err := h.Provider.Count()
	if err != nil {
		server.WriteError(w, mapProviderError(err))
		return
	}
	server.WriteOK(w, map[string]any{"count": n})
}

type conversation struct {
	ThreadID     int64  `json:"thread_id"`
	Address      string `json:"address"`
	MessageCount int    `json:"message_count"`
	LastDateMs   int64  `json:"last_date_ms"`
	Snippet      string `json:"snippet"`
}

// conversations groups the full message list by thread, newest first.
func (h *SMSHandler) conversations(w http.ResponseWriter) {
	msgs, err := h.Provider.List(0, 0)
	if err != nil {
		server.WriteError(w, mapProviderError(err))
		return
	}
	byThread := make(map[int64]*conversation)
	for _, m := range msgs {
		c, ok := byThread[m.ThreadID]
		if !ok {
			c = &conversation{ThreadID: m.ThreadID, Address: m.Address}
			byThread[m.ThreadID] = c
		}
		c.MessageCount++
		if m.DateMs >= c.LastDateMs {
			c.LastDateMs = m.DateMs
			c.Snippet = m.Body
			c.Address = m.Address
		}
	}
	out := make([]conversation, 0, len(byThread))
	for _, c := range byThread {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastDateMs > out[j].LastDateMs })
	server.WriteOK(w, map[string]any{"count": len(out), "conversations": out})
}

// importJSON inserts messages from the request body, reporting a
// per-entry success count and failure list.
func (h *SMSHandler) importJSON(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Messages []SMSMessage `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		server.WriteError(w, server.BadRequest("invalid JSON body: "+err.Error()))
		return
	}
	if len(body.Messages) == 0 {
		server.WriteError(w, server.BadRequest("no messages in body"))
		return
	}

	imported := 0
	var failures []string
	for i, m := range body.Messages {
		if m.Address == "" || m.Body == "" {
			failures = append(failures, fmt.Sprintf("message %d: missing address or body", i))
			continue
		}
		if err := h.Provider.Insert(m); err != nil {
			failures = append(failures, fmt.Sprintf("message %d: %v", i, err))
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
