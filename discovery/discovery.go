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

// Package discovery registers the agent on the local network over mDNS
// and browses for other agents. Discovery is advisory: a discovered
// peer still has to complete the pairing protocol before it is trusted.
package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/brutella/dnssd"

	"github.com/adbtoolkit/agent/internal/logger"
	"github.com/adbtoolkit/agent/internal/version"
)

// ServiceType is the mDNS service type agents advertise.
const ServiceType = "_adbtoolkit._tcp"

// EventOp distinguishes appearance from disappearance.
type EventOp int

const (
	OpAdd EventOp = iota
	OpRemove
)

// Peer is one discovered agent instance.
type Peer struct {
	Name     string `json:"name"`
	DeviceID string `json:"device_id,omitempty"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Address  string `json:"address"` // host:port, first resolved IP
}

// Event reports a peer appearing or disappearing.
type Event struct {
	Op   EventOp
	Peer Peer
}

// Service owns mDNS registration and browsing.
type Service struct {
	deviceID string
	httpPort int
	log      logger.Logger

	mu     sync.RWMutex
	peers  map[string]Peer
	events chan Event

	cancel context.CancelFunc
	done   sync.WaitGroup
}

// New creates the discovery service advertising the given HTTP port.
func New(deviceID string, httpPort int, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Service{
		deviceID: deviceID,
		httpPort: httpPort,
		log:      log.WithFields(logger.String("component", "discovery")),
		peers:    make(map[string]Peer),
		events:   make(chan Event, 64),
	}
}

// instanceName derives the advertised instance name from the device id.
func (s *Service) instanceName() string {
	id := s.deviceID
	if len(id) > 12 {
		id = id[:12]
	}
	return "agent-" + id
}

// Start registers the responder and the browser in the background.
func (s *Service) Start() error {
	cfg := dnssd.Config{
		Name: s.instanceName(),
		Type: ServiceType,
		Port: s.httpPort,
		Text: map[string]string{
			"device_id": s.deviceID,
			"version":   version.Version,
		},
	}
	srv, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("mdns service: %w", err)
	}
	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("mdns responder: %w", err)
	}
	if _, err := rp.Add(srv); err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.done.Add(2)
	go func() {
		defer s.done.Done()
		if err := rp.Respond(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("mdns responder stopped", logger.Error(err))
		}
	}()
	go func() {
		defer s.done.Done()
		err := dnssd.LookupType(ctx, ServiceType+".local.", s.onAdd, s.onRemove)
		if err != nil && ctx.Err() == nil {
			s.log.Warn("mdns browser stopped", logger.Error(err))
		}
	}()

	s.log.Info("mdns registered",
		logger.String("instance", s.instanceName()),
		logger.Int("port", s.httpPort))
	return nil
}

// Stop tears down registration and browsing and closes the event channel.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.done.Wait()
	close(s.events)
}

// Events is the stream of add/remove notifications. The channel is
// buffered; when it is full, new events are dropped rather than blocking
// mDNS callbacks.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Peers returns a snapshot of currently visible agents, excluding this one.
func (s *Service) Peers() []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

func (s *Service) entryToPeer(e dnssd.BrowseEntry) Peer {
	p := Peer{
		Name:     e.Name,
		DeviceID: e.Text["device_id"],
		Host:     e.Host,
		Port:     e.Port,
	}
	if len(e.IPs) > 0 {
		p.Address = fmt.Sprintf("%s:%d", e.IPs[0].String(), e.Port)
	}
	return p
}

func (s *Service) onAdd(e dnssd.BrowseEntry) {
	p := s.entryToPeer(e)
	if p.Name == s.instanceName() {
		return
	}
	s.mu.Lock()
	s.peers[p.Name] = p
	s.mu.Unlock()
	s.log.Debug("peer appeared",
		logger.String("name", p.Name), logger.String("address", p.Address))
	s.emit(Event{Op: OpAdd, Peer: p})
}

func (s *Service) onRemove(e dnssd.BrowseEntry) {
	p := s.entryToPeer(e)
	if p.Name == s.instanceName() {
		return
	}
	s.mu.Lock()
	delete(s.peers, p.Name)
	s.mu.Unlock()
	s.log.Debug("peer vanished", logger.String("name", p.Name))
	s.emit(Event{Op: OpRemove, Peer: p})
}

func (s *Service) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}
