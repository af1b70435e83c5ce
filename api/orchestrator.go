package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/adbtoolkit/agent/orchestrator"
	"github.com/adbtoolkit/agent/server"
)

// OrchestratorHandler exposes mesh coordination over the API surface.
type OrchestratorHandler struct {
	Orch   *orchestrator.Orchestrator
	Files  FilesProvider
	Status StatusFunc
}

// Handle implements server.Handler.
func (h *OrchestratorHandler) Handle(w http.ResponseWriter, r *http.Request, action, param string) {
	switch action {
	case "topology":
		h.topology(w, r)
	case "dispatch":
		h.dispatch(w, r)
	case "broadcast":
		h.broadcast(w, r)
	case "transfer":
		h.transfer(w, r)
	case "deploy-toolkit":
		h.deploy(w, r, param)
	case "status":
		h.status(w)
	case "sync":
		h.sync(w, r)
	default:
		server.WriteError(w, server.NotFound("unknown_endpoint"))
	}
}

func (h *OrchestratorHandler) topology(w http.ResponseWriter, r *http.Request) {
	probes := h.Orch.Topology(r.Context())
	reachable := 0
	for _, p := range probes {
		if p.Reachable {
			reachable++
		}
	}
	server.WriteOK(w, map[string]any{
		"count":     len(probes),
		"reachable": reachable,
		"peers":     probes,
	})
}

type dispatchRequest struct {
	PeerID string          `json:"peer_id"`
	Method string          `json:"method,omitempty"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"body,omitempty"`
}

func (h *OrchestratorHandler) dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, server.BadRequest("invalid JSON body: "+err.Error()))
		return
	}
	if req.PeerID == "" || req.Path == "" {
		server.WriteError(w, server.BadRequest("missing peer_id or path"))
		return
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	body, err := h.Orch.Dispatch(r.Context(), req.PeerID, req.Method, req.Path, req.Body)
	if err != nil {
		server.WriteError(w, mapOrchError(err))
		return
	}
	// The peer's body is returned verbatim.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

type broadcastRequest struct {
	Method string          `json:"method,omitempty"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"body,omitempty"`
}

func (h *OrchestratorHandler) broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, server.BadRequest("invalid JSON body: "+err.Error()))
		return
	}
	if req.Path == "" {
		server.WriteError(w, server.BadRequest("missing path"))
		return
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	results := h.Orch.Broadcast(r.Context(), req.Method, req.Path, req.Body)
	server.WriteOK(w, map[string]any{"count": len(results), "results": results})
}

type transferRequest struct {
	SourcePeerID string `json:"source_peer_id"`
	TargetPeerID string `json:"target_peer_id"`
	Path         string `json:"path"`
	DestPath     string `json:"dest_path,omitempty"`
}

func (h *OrchestratorHandler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, server.BadRequest("invalid JSON body: "+err.Error()))
		return
	}
	if req.SourcePeerID == "" || req.TargetPeerID == "" || req.Path == "" {
		server.WriteError(w, server.BadRequest("missing source_peer_id, target_peer_id or path"))
		return
	}
	if req.DestPath == "" {
		req.DestPath = req.Path
	}
	result, err := h.Orch.Transfer(r.Context(), req.SourcePeerID, req.TargetPeerID, req.Path, req.DestPath)
	if err != nil {
		server.WriteError(w, mapOrchError(err))
		return
	}
	server.WriteOK(w, map[string]any{"result": result})
}

func (h *OrchestratorHandler) deploy(w http.ResponseWriter, r *http.Request, param string) {
	target := param
	if target == "" {
		target = r.URL.Query().Get("peer_id")
	}
	if target == "" {
		server.WriteError(w, server.BadRequest("missing peer_id"))
		return
	}
	steps, err := h.Orch.DeployPlan(target)
	if err != nil {
		server.WriteError(w, mapOrchError(err))
		return
	}
	server.WriteOK(w, map[string]any{"target": target, "steps": steps})
}

func (h *OrchestratorHandler) status(w http.ResponseWriter) {
	if h.Status == nil {
		server.WriteOK(w, nil)
		return
	}
	server.WriteOK(w, h.Status())
}

// sync executes the source side of a coordinated transfer: this agent
// pushes one of its files to the target peer's transfer channel.
func (h *OrchestratorHandler) sync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetPeerID string `json:"target_peer_id"`
		TargetAddr   string `json:"target_addr,omitempty"`
		Path         string `json:"path"`
		DestPath     string `json:"dest_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, server.BadRequest("invalid JSON body: "+err.Error()))
		return
	}
	if req.TargetPeerID == "" || req.Path == "" {
		server.WriteError(w, server.BadRequest("missing target_peer_id or path"))
		return
	}
	if req.DestPath == "" {
		req.DestPath = req.Path
	}
	local, err := h.Files.Resolve(req.Path)
	if err != nil {
		server.WriteError(w, server.BadRequest(err.Error()))
		return
	}
	resp, err := h.Orch.PushToPeer(r.Context(), req.TargetPeerID, req.TargetAddr, local, req.DestPath)
	if err != nil {
		server.WriteError(w, mapOrchError(err))
		return
	}
	server.WriteOK(w, map[string]any{
		"pushed":  resp.Written,
		"hash":    resp.Hash,
		"result":  resp.Status,
		"peer_id": req.TargetPeerID,
	})
}

func mapOrchError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, orchestrator.ErrUnknownPeer):
		return server.NotFound("unknown_peer")
	case errors.Is(err, orchestrator.ErrNoAddress):
		return server.BadRequest("peer has no known address")
	default:
		return server.Internal(err)
	}
}
