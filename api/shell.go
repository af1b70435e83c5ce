package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/adbtoolkit/agent/server"
)

// ShellHandler implements command execution with a deadline.
type ShellHandler struct {
	Provider ShellProvider
	Timeout  time.Duration
}

// Handle implements server.Handler.
func (h *ShellHandler) Handle(w http.ResponseWriter, r *http.Request, action, param string) {
	switch action {
	case "exec":
		h.exec(w, r)
	case "exec-stream":
		h.execStream(w, r)
	case "getprop":
		h.getProp(w, r, param)
	case "settings":
		h.settings(w, r)
	default:
		server.WriteError(w, server.NotFound("unknown_endpoint"))
	}
}

type execRequest struct {
	Command   string `json:"command"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

func (h *ShellHandler) decodeExec(r *http.Request) (execRequest, error) {
	var req execRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, server.BadRequest("invalid JSON body: " + err.Error())
	}
	if req.Command == "" {
		return req, server.BadRequest("missing command")
	}
	return req, nil
}

func (h *ShellHandler) execTimeout(req execRequest) time.Duration {
	if req.TimeoutMs > 0 {
		return time.Duration(req.TimeoutMs) * time.Millisecond
	}
	if h.Timeout > 0 {
		return h.Timeout
	}
	return 30 * time.Second
}

func (h *ShellHandler) exec(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeExec(r)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	// The request context ends when the client disconnects, so an
	// abandoned command is killed rather than left running.
	ctx, cancel := context.WithTimeout(r.Context(), h.execTimeout(req))
	defer cancel()

	result, err := h.Provider.Exec(ctx, req.Command)
	if err != nil {
		server.WriteError(w, mapProviderError(err))
		return
	}
	server.WriteOK(w, map[string]any{
		"stdout":    result.Stdout,
		"stderr":    result.Stderr,
		"exit_code": result.ExitCode,
	})
}

// execStream emits combined output as it is produced, using chunked
// transfer encoding.
func (h *ShellHandler) execStream(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeExec(r)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.execTimeout(req))
	defer cancel()

	rc, err := h.Provider.Stream(ctx, req.Command)
	if err != nil {
		server.WriteError(w, mapProviderError(err))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 4096)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				// best effort: the stream ends, exit status is unknown
				io.WriteString(w, "\n[stream error: "+err.Error()+"]\n")
			}
			return
		}
	}
}

func (h *ShellHandler) getProp(w http.ResponseWriter, r *http.Request, param string) {
	name := param
	if name == "" {
		name = r.URL.Query().Get("name")
	}
	if name == "" {
		server.WriteError(w, server.BadRequest("missing property name"))
		return
	}
	value, err := h.Provider.GetProp(name)
	if err != nil {
		server.WriteError(w, mapProviderError(err))
		return
	}
	server.WriteOK(w, map[string]any{"name": name, "value": value})
}

// settings reads (GET) or writes (POST) a platform setting in a
// namespace such as system, secure, or global.
func (h *ShellHandler) settings(w http.ResponseWriter, r *http.Request) {
	ns := r.URL.Query().Get("namespace")
	key := r.URL.Query().Get("key")
	if ns == "" || key == "" {
		server.WriteError(w, server.BadRequest("missing namespace or key"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		value, err := h.Provider.GetSetting(ns, key)
		if err != nil {
			server.WriteError(w, mapProviderError(err))
			return
		}
		server.WriteOK(w, map[string]any{"namespace": ns, "key": key, "value": value})
	case http.MethodPost:
		value := r.URL.Query().Get("value")
		if value == "" {
			var body struct {
				Value string `json:"value"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				value = body.Value
			}
		}
		if value == "" {
			server.WriteError(w, server.BadRequest("missing value"))
			return
		}
		if err := h.Provider.PutSetting(ns, key, value); err != nil {
			server.WriteError(w, mapProviderError(err))
			return
		}
		server.WriteOK(w, map[string]any{"namespace": ns, "key": key, "value": value})
	default:
		server.WriteError(w, server.BadRequest("unsupported method"))
	}
}
