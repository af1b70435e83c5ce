// Copyright (C) 2026 adb-toolkit project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/adbtoolkit/agent/auth"
	"github.com/adbtoolkit/agent/discovery"
	"github.com/adbtoolkit/agent/internal/logger"
	"github.com/adbtoolkit/agent/internal/version"
	"github.com/adbtoolkit/agent/pairing"
	"github.com/adbtoolkit/agent/server"
)

// Discoverer is the read view of mDNS browsing the peer domain needs.
type Discoverer interface {
	Peers() []discovery.Peer
}

// PeerHandler implements the pairing protocol and the authenticated
// peer-to-peer data plane. Pairing endpoints are open: they are the
// authentication step and must be reachable without credentials.
type PeerHandler struct {
	Store    *pairing.Store
	Gate     *auth.Gate
	Security SecurityProvider
	Events   Events
	Files    FilesProvider
	Disco    Discoverer
	Platform string
	Status   StatusFunc
	Log      logger.Logger
}

// Handle implements server.Handler.
func (h *PeerHandler) Handle(w http.ResponseWriter, r *http.Request, action, param string) {
	switch action {
	case "identity":
		h.identity(w)
	case "discover":
		h.discover(w)
	case "pair-init":
		h.pairInit(w, r)
	case "pair-pending":
		h.pairPending(w, r)
	case "pair-approve":
		h.pairApprove(w, r)
	case "pair-reject":
		h.pairReject(w, r)
	case "paired":
		h.paired(w, r)
	case "revoke":
		h.revoke(w, r, param)
	case "revoke-all":
		h.revokeAll(w, r)
	case "send":
		h.send(w, r)
	case "request":
		h.request(w, r)
	case "relay":
		// Documented stub: relay semantics are not finalized.
		server.WriteError(w, server.NotImplemented("not_implemented"))
	default:
		server.WriteError(w, server.NotFound("unknown_endpoint"))
	}
}

func (h *PeerHandler) logger() logger.Logger {
	if h.Log == nil {
		return logger.GetDefaultLogger()
	}
	return h.Log
}

func (h *PeerHandler) events() Events {
	if h.Events == nil {
		return NoopEvents{}
	}
	return h.Events
}

func (h *PeerHandler) pubKeyB64() string {
	return base64.StdEncoding.EncodeToString(h.Store.KeyPair().PublicKeyBytes())
}

func (h *PeerHandler) identity(w http.ResponseWriter) {
	server.WriteOK(w, map[string]any{
		"device_id":  h.Store.DeviceID(),
		"public_key": h.pubKeyB64(),
		"platform":   h.Platform,
		"version":    version.Version,
	})
}

func (h *PeerHandler) discover(w http.ResponseWriter) {
	if h.Disco == nil {
		server.WriteOK(w, map[string]any{"count": 0, "peers": []discovery.Peer{}})
		return
	}
	peers := h.Disco.Peers()
	server.WriteOK(w, map[string]any{"count": len(peers), "peers": peers})
}

type pairInitRequest struct {
	DeviceID  string `json:"device_id"`
	Label     string `json:"label"`
	PublicKey string `json:"public_key"` // base64
	Address   string `json:"address,omitempty"`
}

func (h *PeerHandler) pairInit(w http.ResponseWriter, r *http.Request) {
	var req pairInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, server.BadRequest("invalid JSON body: "+err.Error()))
		return
	}
	if req.DeviceID == "" || req.PublicKey == "" {
		server.WriteError(w, server.BadRequest("missing device_id or public_key"))
		return
	}
	peerKey, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil {
		server.WriteError(w, server.BadRequest("public_key is not valid base64"))
		return
	}

	if existing := h.Store.Get(req.DeviceID); existing != nil {
		server.WriteJSON(w, http.StatusOK, map[string]any{
			"status":     "already_paired",
			"device_id":  h.Store.DeviceID(),
			"public_key": h.pubKeyB64(),
		})
		return
	}

	addr := req.Address
	if addr == "" {
		addr = r.RemoteAddr
	}
	p, err := h.Store.CreatePending(req.DeviceID, req.Label, peerKey, addr)
	if err != nil {
		server.WriteError(w, server.BadRequest(err.Error()))
		return
	}

	h.events().Publish("pairing_request", map[string]any{
		"challenge_id": p.ChallengeID,
		"peer_id":      p.PeerID,
		"peer_label":   p.PeerLabel,
		"confirm_code": p.ConfirmCode,
	})

	server.WriteJSON(w, http.StatusOK, map[string]any{
		"status":       "pending_approval",
		"challenge_id": p.ChallengeID,
		"device_id":    h.Store.DeviceID(),
		"public_key":   h.pubKeyB64(),
		"confirm_code": p.ConfirmCode,
	})
}

func (h *PeerHandler) pairPending(w http.ResponseWriter, r *http.Request) {
	pending := h.Store.Pending()
	out := make([]map[string]any, 0, len(pending))
	for _, p := range pending {
		out = append(out, map[string]any{
			"challenge_id": p.ChallengeID,
			"peer_id":      p.PeerID,
			"peer_label":   p.PeerLabel,
			"created_at":   p.CreatedAt.UnixMilli(),
		})
	}
	server.WriteOK(w, map[string]any{"count": len(out), "pending": out})
}

type pairDecisionRequest struct {
	ChallengeID       string `json:"challenge_id"`
	BiometricVerified bool   `json:"biometric_verified"`
}

func (h *PeerHandler) pairApprove(w http.ResponseWriter, r *http.Request) {
	var req pairDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, server.BadRequest("invalid JSON body: "+err.Error()))
		return
	}
	if req.ChallengeID == "" {
		server.WriteError(w, server.BadRequest("missing challenge_id"))
		return
	}
	// The platform UI layer performs the real biometric prompt before
	// asserting this flag; an unasserted approval is refused outright.
	if !req.BiometricVerified {
		server.WriteError(w, server.Forbidden("biometric_required"))
		return
	}
	if h.Security != nil && !h.Security.DeviceSecure() {
		server.WriteError(w, server.Forbidden("insecure_device"))
		return
	}

	d, err := h.Store.Approve(req.ChallengeID)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	h.events().Publish("pairing_approved", map[string]any{
		"peer_id": d.PeerID, "peer_label": d.Label,
	})
	server.WriteOK(w, map[string]any{
		"public_key": h.pubKeyB64(),
		"peer":       d.Public(),
	})
}

func (h *PeerHandler) pairReject(w http.ResponseWriter, r *http.Request) {
	var req pairDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, server.BadRequest("invalid JSON body: "+err.Error()))
		return
	}
	if req.ChallengeID == "" {
		server.WriteError(w, server.BadRequest("missing challenge_id"))
		return
	}
	h.Store.Reject(req.ChallengeID)
	server.WriteOK(w, nil)
}

func (h *PeerHandler) paired(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Gate.Authenticate(r); err != nil {
		server.WriteError(w, err)
		return
	}
	devices := h.Store.List()
	out := make([]pairing.PairedDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Public())
	}
	server.WriteOK(w, map[string]any{"count": len(out), "peers": out})
}

type revokeRequest struct {
	PeerID            string `json:"peer_id"`
	BiometricVerified bool   `json:"biometric_verified"`
}

func (h *PeerHandler) revoke(w http.ResponseWriter, r *http.Request, param string) {
	if _, err := h.Gate.Authenticate(r); err != nil {
		server.WriteError(w, err)
		return
	}
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, server.BadRequest("invalid JSON body: "+err.Error()))
		return
	}
	if req.PeerID == "" {
		req.PeerID = param
	}
	if req.PeerID == "" {
		server.WriteError(w, server.BadRequest("missing peer_id"))
		return
	}
	if !req.BiometricVerified {
		server.WriteError(w, server.Forbidden("biometric_required"))
		return
	}
	ok, err := h.Store.Revoke(req.PeerID)
	if err != nil {
		server.WriteError(w, server.Internal(err))
		return
	}
	if !ok {
		server.WriteError(w, server.NotFound("unknown_peer"))
		return
	}
	h.Gate.DropPeer(req.PeerID)
	server.WriteOK(w, map[string]any{"revoked": req.PeerID})
}

func (h *PeerHandler) revokeAll(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Gate.Authenticate(r); err != nil {
		server.WriteError(w, err)
		return
	}
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, server.BadRequest("invalid JSON body: "+err.Error()))
		return
	}
	if !req.BiometricVerified {
		server.WriteError(w, server.Forbidden("biometric_required"))
		return
	}
	n, err := h.Store.RevokeAll()
	if err != nil {
		server.WriteError(w, server.Internal(err))
		return
	}
	server.WriteOK(w, map[string]any{"revoked": n})
}

// send streams the signed request body into a file at the named path.
func (h *PeerHandler) send(w http.ResponseWriter, r *http.Request) {
	verdict, err := h.Gate.VerifyPeer(r)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	clientPath := r.URL.Query().Get("path")
	if clientPath == "" {
		server.WriteError(w, server.BadRequest("missing path parameter"))
		return
	}
	target, err := h.Files.Resolve(clientPath)
	if err != nil {
		server.WriteError(w, server.BadRequest(err.Error()))
		return
	}
	wc, err := h.Files.Create(target)
	if err != nil {
		server.WriteError(w, server.Internal(err))
		return
	}
	written, err := io.Copy(wc, r.Body)
	if cerr := wc.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		server.WriteError(w, server.Internal(err))
		return
	}
	h.logger().Info("peer payload received",
		logger.String("peer_id", verdict.PeerID),
		logger.String("path", target),
		logger.Int64("bytes", written))
	server.WriteOK(w, map[string]any{"path": target, "written": written})
}

type peerQuery struct {
	Query string `json:"query"`
	Path  string `json:"path,omitempty"`
}

// request answers a structured query from an authenticated peer.
func (h *PeerHandler) request(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Gate.VerifyPeer(r); err != nil {
		server.WriteError(w, err)
		return
	}
	var q peerQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		server.WriteError(w, server.BadRequest("invalid JSON body: "+err.Error()))
		return
	}

	switch q.Query {
	case "identity":
		h.identity(w)
	case "status":
		if h.Status == nil {
			server.WriteOK(w, nil)
			return
		}
		server.WriteOK(w, h.Status())
	case "stat":
		if q.Path == "" {
			server.WriteError(w, server.BadRequest("missing path"))
			return
		}
		target, err := h.Files.Resolve(q.Path)
		if err != nil {
			server.WriteError(w, server.BadRequest(err.Error()))
			return
		}
		entry, err := h.Files.Stat(target)
		if err != nil {
			server.WriteError(w, mapFSError(err))
			return
		}
		server.WriteOK(w, map[string]any{"file": entry})
	default:
		server.WriteError(w, server.BadRequest("unknown query"))
	}
}
