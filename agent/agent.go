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

// Package agent wires the subsystems together and controls their
// lifecycle: configuration and auth token ownership, startup and
// shutdown of the HTTP, transfer, and discovery services, and status
// counters.
package agent

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"golang.org/x/sync/errgroup"

	"github.com/adbtoolkit/agent/api"
	"github.com/adbtoolkit/agent/auth"
	"github.com/adbtoolkit/agent/config"
	"github.com/adbtoolkit/agent/discovery"
	"github.com/adbtoolkit/agent/health"
	"github.com/adbtoolkit/agent/internal/logger"
	"github.com/adbtoolkit/agent/internal/metrics"
	"github.com/adbtoolkit/agent/internal/version"
	"github.com/adbtoolkit/agent/orchestrator"
	"github.com/adbtoolkit/agent/pairing"
	"github.com/adbtoolkit/agent/platform/host"
	"github.com/adbtoolkit/agent/server"
	"github.com/adbtoolkit/agent/transfer"
)

// TokenFileName is the auth token file inside the state dir.
const TokenFileName = "auth_token"

// Providers bundles the platform implementations the handlers consume.
// Zero fields fall back to the host implementations.
type Providers struct {
	Files    api.FilesProvider
	Device   api.DeviceProvider
	Apps     api.AppsProvider
	Contacts api.ContactsProvider
	SMS      api.SMSProvider
	Shell    api.ShellProvider
	Security api.SecurityProvider
}

// Controller owns the configuration and auth token and runs the
// services together.
type Controller struct {
	cfg  *config.Config
	log  logger.Logger

	store    *pairing.Store
	gate     *auth.Gate
	hub      *server.EventHub
	httpSvc  *server.Service
	xferSvc  *transfer.Server
	disco    *discovery.Service
	orch     *orchestrator.Orchestrator
	checker  *health.Checker

	tokenMu   sync.RWMutex
	token     string
	tokenPath string

	startedAt time.Time
	watchDone chan struct{}
}

// New builds a controller from configuration. Platform providers may be
// overridden; nil fields use the host implementations.
func New(cfg *config.Config, providers *Providers, log logger.Logger) (*Controller, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	if providers == nil {
		providers = &Providers{}
	}

	store, err := pairing.Open(cfg.StateDir, log)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:       cfg,
		log:       log,
		store:     store,
		tokenPath: filepath.Join(cfg.StateDir, TokenFileName),
		watchDone: make(chan struct{}),
	}
	if err := c.loadOrCreateToken(); err != nil {
		return nil, err
	}

	c.gate = auth.NewGate(c.Token, store)
	c.hub = server.NewEventHub(log)
	c.orch = orchestrator.New(store, log)

	files := providers.Files
	if files == nil {
		files, err = host.NewFiles(cfg.Files.Root)
		if err != nil {
			return nil, err
		}
	}
	device := providers.Device
	if device == nil {
		device = host.NewDevice()
	}
	apps := providers.Apps
	if apps == nil {
		apps = host.NewApps()
	}
	contacts := providers.Contacts
	if contacts == nil {
		contacts = host.NewMemoryContacts()
	}
	sms := providers.SMS
	if sms == nil {
		sms = host.NewMemorySMS()
	}
	shell := providers.Shell
	if shell == nil {
		shell = host.NewShell()
	}
	security := providers.Security
	if security == nil {
		security = host.Security{Secure: true}
	}

	if cfg.Discovery.Enabled {
		c.disco = discovery.New(store.DeviceID(), cfg.HTTP.Port, log)
	}

	c.httpSvc = server.New(cfg.HTTP, c.gate, log)
	c.httpSvc.Register("ping", &api.PingHandler{Platform: cfg.Platform, Store: store})
	c.httpSvc.Register("device", &api.DeviceHandler{Provider: device, Files: files})
	c.httpSvc.Register("files", &api.FilesHandler{
		Provider:  files,
		SearchCap: cfg.Files.SearchResultCap,
		Log:       log,
	})
	c.httpSvc.Register("apps", &api.AppsHandler{Provider: apps})
	c.httpSvc.Register("contacts", &api.ContactsHandler{Provider: contacts})
	c.httpSvc.Register("sms", &api.SMSHandler{Provider: sms})
	c.httpSvc.Register("shell", &api.ShellHandler{Provider: shell, Timeout: cfg.Shell.Timeout.Std()})
	peerHandler := &api.PeerHandler{
		Store:    store,
		Gate:     c.gate,
		Security: security,
		Events:   c.hub,
		Files:    files,
		Platform: cfg.Platform,
		Status:   c.Status,
		Log:      log,
	}
	if c.disco != nil {
		peerHandler.Disco = c.disco
	}
	c.httpSvc.Register("peer", peerHandler)
	c.httpSvc.Register("orchestrator", &api.OrchestratorHandler{
		Orch:   c.orch,
		Files:  files,
		Status: c.Status,
	})

	c.checker = health.NewChecker(5*time.Second, log)
	c.checker.Register("pairing_store", func(ctx context.Context) error {
		_, err := os.Stat(filepath.Join(cfg.StateDir, pairing.StateFileName))
		return err
	})

	c.httpSvc.Mount("/healthz", c.checker.Handler())
	c.httpSvc.Mount("/api/events", c.hub)
	if cfg.Metrics.Enabled {
		c.httpSvc.Mount("/metrics", metrics.Handler())
	}

	c.xferSvc = transfer.NewServer(cfg.Transfer, c.gate, files.Resolve, log)

	return c, nil
}

// Store exposes the pairing store, e.g. for CLI inspection.
func (c *Controller) Store() *pairing.Store { return c.store }

// Orchestrator exposes the mesh client.
func (c *Controller) Orchestrator() *orchestrator.Orchestrator { return c.orch }

// Events exposes the UI event hub.
func (c *Controller) Events() *server.EventHub { return c.hub }

// loadOrCreateToken reads the persisted auth token, generating one on
// first run. An existing empty file is honored: it means the operator
// explicitly disabled token auth (loopback only).
func (c *Controller) loadOrCreateToken() error {
	data, err := os.ReadFile(c.tokenPath)
	if err == nil {
		c.token = strings.TrimSpace(string(data))
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read token file: %w", err)
	}

	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return err
	}
	c.token = base58.Encode(raw[:])
	if err := os.WriteFile(c.tokenPath, []byte(c.token), 0o600); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}
	c.log.Info("generated auth token", logger.String("path", c.tokenPath))
	return nil
}

// Token returns the current auth token.
func (c *Controller) Token() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// SetToken replaces the auth token and persists it.
func (c *Controller) SetToken(token string) error {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if err := os.WriteFile(c.tokenPath, []byte(token), 0o600); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}
	c.token = token
	return nil
}

// Start brings up the HTTP service, the transfer service, and discovery.
// A failure in any of them tears the others down again.
func (c *Controller) Start() error {
	c.startedAt = time.Now()

	g := new(errgroup.Group)
	g.Go(c.httpSvc.Start)
	g.Go(c.xferSvc.Start)
	if err := g.Wait(); err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.shutdownServices(ctx)
		return err
	}

	if c.disco != nil {
		if err := c.disco.Start(); err != nil {
			// Discovery is advisory; the agent still serves without it.
			c.log.Warn("discovery unavailable", logger.Error(err))
			c.disco = nil
		}
	}
	if c.disco != nil {
		go func() {
			defer close(c.watchDone)
			c.orch.WatchDiscovery(c.disco.Events())
		}()
	} else {
		close(c.watchDone)
	}

	c.log.Info("agent started",
		logger.String("version", version.Version),
		logger.String("device_id", c.store.DeviceID()),
		logger.Int("http_port", c.httpSvc.Port()),
		logger.Int("transfer_port", c.xferSvc.Port()))
	return nil
}

// Stop shuts everything down, waiting up to the context deadline for
// in-flight work. In-flight tasks beyond that are cancelled by socket
// closure.
func (c *Controller) Stop(ctx context.Context) error {
	if c.disco != nil {
		c.disco.Stop()
	}
	<-c.watchDone
	err := c.shutdownServices(ctx)
	c.hub.Close()
	c.gate.Close()
	c.log.Info("agent stopped")
	return err
}

func (c *Controller) shutdownServices(ctx context.Context) error {
	g := new(errgroup.Group)
	g.Go(func() error { return c.httpSvc.Stop(ctx) })
	g.Go(func() error { return c.xferSvc.Stop(ctx) })
	return g.Wait()
}

// Status reports lifecycle counters.
func (c *Controller) Status() map[string]any {
	stats := c.store.Stats()
	return map[string]any{
		"version":           version.Version,
		"device_id":         c.store.DeviceID(),
		"uptime_ms":         time.Since(c.startedAt).Milliseconds(),
		"http_port":         c.httpSvc.Port(),
		"transfer_port":     c.xferSvc.Port(),
		"paired_devices":    stats.PairedDevices,
		"pending_pairings":  stats.PendingRequests,
		"connected_clients": c.httpSvc.ConnectedClients(),
		"active_transfers":  c.xferSvc.ActiveTransfers(),
		"bytes_transferred": c.xferSvc.BytesTransferred(),
	}
}
