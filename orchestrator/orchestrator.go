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

// Package orchestrator is the outbound half of the mesh: it signs HTTP
// requests to paired peers, probes and fans out across the mesh, and
// coordinates device-to-device transfers.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adbtoolkit/agent/auth"
	"github.com/adbtoolkit/agent/config"
	"github.com/adbtoolkit/agent/discovery"
	"github.com/adbtoolkit/agent/internal/logger"
	"github.com/adbtoolkit/agent/pairing"
	"github.com/adbtoolkit/agent/transfer"
)

// ErrUnknownPeer is returned when the named peer is not paired.
var ErrUnknownPeer = errors.New("orchestrator: unknown peer")

// ErrNoAddress is returned when a peer has no last known address.
var ErrNoAddress = errors.New("orchestrator: peer has no known address")

// Orchestrator dispatches signed requests to paired peers.
type Orchestrator struct {
	store    *pairing.Store
	http     *http.Client
	transfer *transfer.Client
	log      logger.Logger

	// Timeout bounds each outbound request.
	Timeout time.Duration
}

// New creates an orchestrator over the pairing store.
func New(store *pairing.Store, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Orchestrator{
		store:    store,
		http:     &http.Client{Timeout: 30 * time.Second},
		transfer: transfer.NewClient(),
		log:      log.WithFields(logger.String("component", "orchestrator")),
		Timeout:  10 * time.Second,
	}
}

// request sends one signed request to a peer and returns its body.
// TCP errors, non-2xx responses, and rejection by the peer all come back
// as errors, never as panics.
func (o *Orchestrator) request(ctx context.Context, d *pairing.PairedDevice, method, path string, body []byte) ([]byte, error) {
	if d.Address == "" {
		return nil, ErrNoAddress
	}
	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	url := "http://" + d.Address + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	auth.SignRequest(req, o.store.DeviceID(), d.SharedSecret, time.Now())

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("peer %s unreachable: %w", d.PeerID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("peer %s returned %d: %s", d.PeerID, resp.StatusCode, data)
	}
	return data, nil
}

// PeerProbe is one peer's reachability result.
type PeerProbe struct {
	PeerID    string          `json:"peer_id"`
	Label     string          `json:"label,omitempty"`
	Address   string          `json:"address,omitempty"`
	Reachable bool            `json:"reachable"`
	Error     string          `json:"error,omitempty"`
	Ping      json.RawMessage `json:"ping,omitempty"`
	RTTMs     int64           `json:"rtt_ms"`
}

// Topology probes every paired peer in parallel.
func (o *Orchestrator) Topology(ctx context.Context) []PeerProbe {
	devices := o.store.List()
	results := make([]PeerProbe, len(devices))

	g, ctx := errgroup.WithContext(ctx)
	for i := range devices {
		i, d := i, devices[i]
		g.Go(func() error {
			probe := PeerProbe{PeerID: d.PeerID, Label: d.Label, Address: d.Address}
			start := time.Now()
			body, err := o.request(ctx, &d, http.MethodGet, "/api/ping", nil)
			probe.RTTMs = time.Since(start).Milliseconds()
			if err != nil {
				probe.Error = err.Error()
			} else {
				probe.Reachable = true
				probe.Ping = body
			}
			results[i] = probe
			return nil
		})
	}
	g.Wait()
	return results
}

// Dispatch sends a single request to a named peer and returns its body
// verbatim.
func (o *Orchestrator) Dispatch(ctx context.Context, peerID, method, path string, body []byte) ([]byte, error) {
	d := o.store.Get(peerID)
	if d == nil {
		return nil, ErrUnknownPeer
	}
	return o.request(ctx, d, method, path, body)
}

// Broadcast sends the same request to all trusted peers in parallel. The
// result always has one entry per paired peer; failures become
// {"error": ...} entries and never abort the batch.
func (o *Orchestrator) Broadcast(ctx context.Context, method, path string, body []byte) map[string]json.RawMessage {
	devices := o.store.List()
	results := make(map[string]json.RawMessage, len(devices))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for i := range devices {
		d := devices[i]
		g.Go(func() error {
			data, err := o.request(ctx, &d, method, path, body)
			var entry json.RawMessage
			if err != nil {
				entry, _ = json.Marshal(map[string]string{"error": err.Error()})
			} else if json.Valid(data) {
				entry = data
			} else {
				entry, _ = json.Marshal(map[string]string{"raw": string(data)})
			}
			mu.Lock()
			results[d.PeerID] = entry
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// transferHost swaps the HTTP port of a stored peer address for the
// transfer port.
func transferHost(addr string) (string, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("bad peer address %q: %w", addr, err)
	}
	return net.JoinHostPort(host, strconv.Itoa(config.DefaultTransferPort)), nil
}

// syncCommand is the body of the orchestrator/sync request a source peer
// receives when asked to push a file to a third device.
type syncCommand struct {
	TargetPeerID string `json:"target_peer_id"`
	TargetAddr   string `json:"target_addr,omitempty"`
	Path         string `json:"path"`
	DestPath     string `json:"dest_path"`
}

// Transfer instructs the source peer to export a file and push it to the
// target peer's transfer channel. The orchestrator only initiates; the
// source executes.
func (o *Orchestrator) Transfer(ctx context.Context, sourceID, targetID, path, destPath string) (json.RawMessage, error) {
	target := o.store.Get(targetID)
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, targetID)
	}
	cmd := syncCommand{
		TargetPeerID: targetID,
		Path:         path,
		DestPath:     destPath,
	}
	if target.Address != "" {
		addr, err := transferHost(target.Address)
		if err != nil {
			return nil, err
		}
		cmd.TargetAddr = addr
	}
	body, _ := json.Marshal(cmd)
	return o.Dispatch(ctx, sourceID, http.MethodPost, "/api/orchestrator/sync", body)
}

// PushToPeer executes the source side of a coordinated transfer: stream
// a local file to the named peer's transfer channel, signing the frame
// with the shared secret of that pairing.
func (o *Orchestrator) PushToPeer(ctx context.Context, targetID, targetAddr, localPath, remotePath string) (*transfer.Header, error) {
	target := o.store.Get(targetID)
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, targetID)
	}
	if targetAddr == "" {
		if target.Address == "" {
			return nil, ErrNoAddress
		}
		var err error
		targetAddr, err = transferHost(target.Address)
		if err != nil {
			return nil, err
		}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	o.log.Info("pushing to peer",
		logger.String("peer_id", targetID),
		logger.String("path", localPath),
		logger.Int64("bytes", info.Size()))
	return o.transfer.Push(ctx, targetAddr, remotePath, f, info.Size(), transfer.Credentials{
		PeerID: o.store.DeviceID(),
		Secret: target.SharedSecret,
	})
}

// DeployStep is one client-driven step of a toolkit deployment.
type DeployStep struct {
	Order  int    `json:"order"`
	Action string `json:"action"`
	Detail string `json:"detail"`
}

// DeployPlan returns the steps for pushing the agent binary to another
// peer. Execution is client-driven; the agent only describes the plan.
func (o *Orchestrator) DeployPlan(targetID string) ([]DeployStep, error) {
	if o.store.Get(targetID) == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, targetID)
	}
	return []DeployStep{
		{1, "download", "GET /api/apps/apk on this agent to fetch the toolkit package"},
		{2, "send", "push the package to " + targetID + " over the transfer channel"},
		{3, "install", "POST /api/apps/install on " + targetID + " with the package body"},
	}, nil
}

// WatchDiscovery consumes mDNS events and keeps peer addresses current.
// Returns when the channel closes.
func (o *Orchestrator) WatchDiscovery(events <-chan discovery.Event) {
	for ev := range events {
		if ev.Op != discovery.OpAdd || ev.Peer.DeviceID == "" || ev.Peer.Address == "" {
			continue
		}
		if o.store.Get(ev.Peer.DeviceID) == nil {
			continue
		}
		if err := o.store.UpdateAddress(ev.Peer.DeviceID, ev.Peer.Address); err != nil {
			o.log.Warn("address update failed",
				logger.String("peer_id", ev.Peer.DeviceID), logger.Error(err))
			continue
		}
		o.log.Debug("peer address updated",
			logger.String("peer_id", ev.Peer.DeviceID),
			logger.String("address", ev.Peer.Address))
	}
}
