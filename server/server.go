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

// Package server exposes the JSON API surface: an HTTP listener, the
// /api/{domain}/{action}[/{param}] router, auth middleware, and the
// uniform response envelopes.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/mux"

	"github.com/adbtoolkit/agent/auth"
	"github.com/adbtoolkit/agent/config"
	"github.com/adbtoolkit/agent/internal/logger"
	"github.com/adbtoolkit/agent/internal/metrics"
	"github.com/adbtoolkit/agent/internal/version"
)

// Handler processes one domain of the API surface. action is the second
// path segment, param the optional third (may contain slashes).
type Handler interface {
	Handle(w http.ResponseWriter, r *http.Request, action, param string)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, action, param string)

// Handle calls f.
func (f HandlerFunc) Handle(w http.ResponseWriter, r *http.Request, action, param string) {
	f(w, r, action, param)
}

type verdictKey struct{}

// VerdictFrom returns the auth verdict the middleware stored on the
// request context.
func VerdictFrom(ctx context.Context) auth.Verdict {
	v, _ := ctx.Value(verdictKey{}).(auth.Verdict)
	return v
}

// Service is the HTTP API listener.
type Service struct {
	cfg  *config.HTTPConfig
	gate *auth.Gate
	log  logger.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	router    *mux.Router
	srv       *http.Server
	ln        net.Listener
	connected atomic.Int64
}

// New creates the service. Domain handlers are attached with Register
// before Start.
func New(cfg *config.HTTPConfig, gate *auth.Gate, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	s := &Service{
		cfg:      cfg,
		gate:     gate,
		log:      log.WithFields(logger.String("component", "http")),
		handlers: make(map[string]Handler),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/{domain}", s.dispatch)
	r.HandleFunc("/api/{domain}/{action}", s.dispatch)
	r.HandleFunc("/api/{domain}/{action}/{param:.*}", s.dispatch)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, NotFound("unknown_endpoint"))
	})
	r.Use(s.recoverMiddleware, serverHeaderMiddleware)
	s.router = r
	return s
}

// Register attaches a domain handler. Must be called before Start.
func (s *Service) Register(domain string, h Handler) {
	s.mu.Lock()
	s.handlers[domain] = h
	s.mu.Unlock()
}

// Mount attaches a plain http.Handler outside the /api dispatch, e.g.
// /metrics or /healthz.
func (s *Service) Mount(path string, h http.Handler) {
	s.router.Handle(path, h)
}

// Start binds the listener and serves in the background.
func (s *Service) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen on %s: %w", addr, err)
	}
	s.ln = ln

	// Bodies stream unbounded: large uploads are legitimate and a lost
	// client surfaces as a read error on its connection. The header
	// timeout keeps slow clients from pinning sockets before a request
	// even exists.
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadTimeout.Std(),
		WriteTimeout:      s.cfg.WriteTimeout.Std(),
		IdleTimeout:       s.cfg.IdleTimeout.Std(),
		ConnState:         s.trackConn,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server stopped", logger.Error(err))
		}
	}()
	s.log.Info("http listening", logger.String("addr", ln.Addr().String()))
	return nil
}

// Stop closes the listener and waits for in-flight requests up to the
// context deadline; remaining connections are then cut.
func (s *Service) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return s.srv.Close()
	}
	return nil
}

// Port returns the bound port, useful when configured with port 0.
func (s *Service) Port() int {
	if s.ln == nil {
		return s.cfg.Port
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// ConnectedClients reports currently open client connections.
func (s *Service) ConnectedClients() int64 {
	return s.connected.Load()
}

func (s *Service) trackConn(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.connected.Add(1)
		metrics.ConnectedClients.Inc()
	case http.StateClosed, http.StateHijacked:
		s.connected.Add(-1)
		metrics.ConnectedClients.Dec()
	}
}

// dispatch routes /api/{domain}/{action}[/{param}] to the domain handler
// after evaluating authentication.
func (s *Service) dispatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	domain := vars["domain"]
	action := vars["action"]
	param := vars["param"]

	s.mu.RLock()
	h, ok := s.handlers[domain]
	s.mu.RUnlock()
	if !ok {
		metrics.HTTPRequests.WithLabelValues("unknown", "404").Inc()
		WriteError(w, NotFound("unknown_endpoint"))
		return
	}

	// Pairing endpoints are the authentication step and stay reachable
	// without credentials; the peer handler re-invokes the gate where a
	// signature is required. Ping is the open liveness probe.
	var verdict auth.Verdict
	if domain != "ping" && domain != "peer" {
		var err error
		verdict, err = s.gate.Authenticate(r)
		if err != nil {
			metrics.HTTPRequests.WithLabelValues(domain, "auth_failed").Inc()
			WriteError(w, err)
			return
		}
	}

	metrics.HTTPRequests.WithLabelValues(domain, "ok").Inc()
	ctx := context.WithValue(r.Context(), verdictKey{}, verdict)
	h.Handle(w, r.WithContext(ctx), action, param)
}

func (s *Service) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("handler panic",
					logger.String("path", r.URL.Path),
					logger.Any("panic", rec))
				WriteError(w, Internal(fmt.Errorf("%v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func serverHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", version.Server+"/"+version.Version)
		next.ServeHTTP(w, r)
	})
}
