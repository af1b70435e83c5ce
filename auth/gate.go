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

// Package auth evaluates the two request authentication schemes: the
// controller token and the per-request peer HMAC signature.
package auth

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adbtoolkit/agent/crypto"
	"github.com/adbtoolkit/agent/internal/metrics"
	"github.com/adbtoolkit/agent/pairing"
)

// Request headers and query parameter carrying credentials.
const (
	HeaderToken     = "X-Agent-Token"
	HeaderPeerID    = "X-Peer-Id"
	HeaderSignature = "X-Peer-Signature"
	HeaderTimestamp = "X-Peer-Timestamp"
	QueryToken      = "token"
)

// Window is the accepted clock skew for peer-signed requests.
const Window = 5 * time.Minute

// Scheme identifies how a request authenticated.
type Scheme int

const (
	SchemeNone Scheme = iota
	SchemeController
	SchemePeer
)

// Verdict is the outcome of a successful authentication.
type Verdict struct {
	Scheme Scheme
	PeerID string // set for SchemePeer
}

// Error carries the HTTP status to map an auth failure to.
type Error struct {
	Status int
	Code   string
}

func (e *Error) Error() string { return e.Code }

var (
	ErrMissingToken   = &Error{http.StatusUnauthorized, "missing_token"}
	ErrInvalidToken   = &Error{http.StatusUnauthorized, "invalid_token"}
	ErrMalformedPeer  = &Error{http.StatusBadRequest, "malformed_peer_headers"}
	ErrStaleTimestamp = &Error{http.StatusForbidden, "timestamp_expired"}
	ErrUnknownPeer    = &Error{http.StatusForbidden, "unknown_peer"}
	ErrBadSignature   = &Error{http.StatusForbidden, "hmac_verification_failed"}
	ErrReplay         = &Error{http.StatusForbidden, "signature_replayed"}
)

// PeerDirectory is the read view of the pairing store the gate needs.
type PeerDirectory interface {
	Get(peerID string) *pairing.PairedDevice
	TouchSeen(peerID string)
}

// Gate evaluates request credentials. The token is read through a func so
// the lifecycle controller can rotate it without rebuilding the gate.
//
// The gate also keeps the replay guard: every accepted peer signature is
// remembered until its timestamp leaves the validity window, after which
// the freshness check refuses it regardless.
type Gate struct {
	token func() string
	peers PeerDirectory
	now   func() time.Time

	mu        sync.Mutex
	seen      map[string]map[string]int64 // peer -> signature -> expiry unix ms
	nextPrune int64
}

// NewGate creates a gate over the given token source and peer directory.
func NewGate(token func() string, peers PeerDirectory) *Gate {
	if token == nil {
		token = func() string { return "" }
	}
	return &Gate{
		token: token,
		peers: peers,
		now:   time.Now,
		seen:  make(map[string]map[string]int64),
	}
}

// Close discards replay-guard state.
func (g *Gate) Close() {
	g.mu.Lock()
	g.seen = make(map[string]map[string]int64)
	g.mu.Unlock()
}

// markSeen records an accepted signature and reports whether it was
// already presented. An entry lives exactly as long as its timestamp
// stays inside the window; dead entries are pruned in passing, at most
// once per window.
func (g *Gate) markSeen(peerID, signature string, expiresAt int64) bool {
	now := g.now().UnixMilli()

	g.mu.Lock()
	defer g.mu.Unlock()

	if now >= g.nextPrune {
		for id, sigs := range g.seen {
			for sig, exp := range sigs {
				if exp <= now {
					delete(sigs, sig)
				}
			}
			if len(sigs) == 0 {
				delete(g.seen, id)
			}
		}
		g.nextPrune = now + Window.Milliseconds()
	}

	sigs := g.seen[peerID]
	if exp, ok := sigs[signature]; ok && exp > now {
		return true
	}
	if sigs == nil {
		sigs = make(map[string]int64)
		g.seen[peerID] = sigs
	}
	sigs[signature] = expiresAt
	return false
}

// Authenticate evaluates a request against both schemes. Peer HMAC takes
// precedence when both are presented.
func (g *Gate) Authenticate(r *http.Request) (Verdict, error) {
	if hasPeerHeaders(r) {
		return g.VerifyPeer(r)
	}
	return g.verifyToken(r)
}

// VerifyPeer requires a valid peer HMAC signature on the request.
func (g *Gate) VerifyPeer(r *http.Request) (Verdict, error) {
	peerID := r.Header.Get(HeaderPeerID)
	signature := r.Header.Get(HeaderSignature)
	tsRaw := r.Header.Get(HeaderTimestamp)
	if peerID == "" || signature == "" || tsRaw == "" {
		metrics.AuthFailures.WithLabelValues("hmac").Inc()
		return Verdict{}, ErrMalformedPeer
	}
	v, err := g.verifySignature(peerID, signature, tsRaw,
		canonicalRequest(r.Method, r.URL.RequestURI(), tsRaw))
	if err != nil {
		metrics.AuthFailures.WithLabelValues("hmac").Inc()
		return Verdict{}, err
	}
	return v, nil
}

// VerifyDetached validates a peer signature carried outside an HTTP
// request, e.g. inside a transfer frame header. The canonical message is
// built by the caller.
func (g *Gate) VerifyDetached(peerID, signature, tsRaw, message string) (Verdict, error) {
	if peerID == "" || signature == "" || tsRaw == "" {
		metrics.AuthFailures.WithLabelValues("hmac").Inc()
		return Verdict{}, ErrMalformedPeer
	}
	v, err := g.verifySignature(peerID, signature, tsRaw, message)
	if err != nil {
		metrics.AuthFailures.WithLabelValues("hmac").Inc()
	}
	return v, err
}

func (g *Gate) verifySignature(peerID, signature, tsRaw, message string) (Verdict, error) {
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return Verdict{}, ErrMalformedPeer
	}
	skew := g.now().UnixMilli() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > Window.Milliseconds() {
		return Verdict{}, ErrStaleTimestamp
	}

	peer := g.peers.Get(peerID)
	if peer == nil || !peer.Trusted {
		return Verdict{}, ErrUnknownPeer
	}
	if !crypto.Verify(peer.SharedSecret, message, signature) {
		return Verdict{}, ErrBadSignature
	}
	if g.markSeen(peerID, signature, ts+Window.Milliseconds()) {
		return Verdict{}, ErrReplay
	}
	g.peers.TouchSeen(peerID)
	return Verdict{Scheme: SchemePeer, PeerID: peerID}, nil
}

// VerifyToken checks the controller token on a request. With no token
// configured, loopback callers are admitted and everyone else is refused.
func (g *Gate) VerifyToken(r *http.Request) (Verdict, error) {
	return g.verifyToken(r)
}

func (g *Gate) verifyToken(r *http.Request) (Verdict, error) {
	presented := r.Header.Get(HeaderToken)
	if presented == "" {
		presented = r.URL.Query().Get(QueryToken)
	}
	configured := g.token()

	if configured == "" {
		if isLoopback(r.RemoteAddr) {
			return Verdict{Scheme: SchemeController}, nil
		}
		metrics.AuthFailures.WithLabelValues("token").Inc()
		return Verdict{}, ErrMissingToken
	}
	if presented == "" {
		metrics.AuthFailures.WithLabelValues("token").Inc()
		return Verdict{}, ErrMissingToken
	}
	if !crypto.ConstantTimeEqual(presented, configured) {
		metrics.AuthFailures.WithLabelValues("token").Inc()
		return Verdict{}, ErrInvalidToken
	}
	return Verdict{Scheme: SchemeController}, nil
}

// VerifyDetachedToken checks a token presented outside an HTTP request.
func (g *Gate) VerifyDetachedToken(presented, remoteAddr string) (Verdict, error) {
	configured := g.token()
	if configured == "" {
		if isLoopback(remoteAddr) {
			return Verdict{Scheme: SchemeController}, nil
		}
		metrics.AuthFailures.WithLabelValues("token").Inc()
		return Verdict{}, ErrMissingToken
	}
	if presented == "" {
		metrics.AuthFailures.WithLabelValues("token").Inc()
		return Verdict{}, ErrMissingToken
	}
	if !crypto.ConstantTimeEqual(presented, configured) {
		metrics.AuthFailures.WithLabelValues("token").Inc()
		return Verdict{}, ErrInvalidToken
	}
	return Verdict{Scheme: SchemeController}, nil
}

// DropPeer clears replay state for a revoked peer.
func (g *Gate) DropPeer(peerID string) {
	g.mu.Lock()
	delete(g.seen, peerID)
	g.mu.Unlock()
}

// SignRequest stamps outbound peer credentials onto a request. Used by the
// orchestrator's signed client and by tests.
func SignRequest(r *http.Request, peerID string, secret []byte, now time.Time) {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	r.Header.Set(HeaderPeerID, peerID)
	r.Header.Set(HeaderTimestamp, ts)
	r.Header.Set(HeaderSignature,
		crypto.Sign(secret, canonicalRequest(r.Method, r.URL.RequestURI(), ts)))
}

// canonicalRequest builds the signed message: METHOD|uri|timestamp, where
// uri is the exact path-and-query as sent.
func canonicalRequest(method, uri, ts string) string {
	return fmt.Sprintf("%s|%s|%s", method, uri, ts)
}

// CanonicalFrame builds the signed message for a transfer frame.
func CanonicalFrame(op, path, ts string) string {
	return fmt.Sprintf("%s|%s|%s", op, path, ts)
}

func hasPeerHeaders(r *http.Request) bool {
	return r.Header.Get(HeaderPeerID) != "" ||
		r.Header.Get(HeaderSignature) != "" ||
		r.Header.Get(HeaderTimestamp) != ""
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
