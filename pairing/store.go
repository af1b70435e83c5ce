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

// Package pairing owns the persisted pairing state: the local device
// identity and key pair, the paired-device records, and the in-memory
// pending-approval table.
package pairing

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/adbtoolkit/agent/crypto"
	"github.com/adbtoolkit/agent/internal/logger"
	"github.com/adbtoolkit/agent/internal/metrics"
)

// StateFileName is the name of the pairing state file inside the state dir.
const StateFileName = "pairing_state.json"

var (
	// ErrUnknownChallenge is returned when a challenge id is absent or expired.
	ErrUnknownChallenge = errors.New("pairing: unknown or expired challenge")

	// ErrUnknownPeer is returned when a peer id has no paired record.
	ErrUnknownPeer = errors.New("pairing: unknown peer")
)

// Store manages the pairing state. Mutations serialize under the write
// lock; readers take the shared lock and see consistent record snapshots.
type Store struct {
	mu      sync.RWMutex
	path    string
	deviceID string
	keyPair *crypto.KeyPair
	devices map[string]*PairedDevice
	pending map[string]*PendingPairing
	log     logger.Logger
	now     func() time.Time
}

// Open loads the store from dir, creating a fresh identity and key pair on
// first run. Malformed device entries are skipped and logged; a corrupt
// file never prevents startup.
func Open(dir string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}

	s := &Store{
		path:    filepath.Join(dir, StateFileName),
		devices: make(map[string]*PairedDevice),
		pending: make(map[string]*PendingPairing),
		log:     log,
		now:     time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	if s.keyPair == nil {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		s.keyPair = kp
		s.deviceID = newDeviceID()
		if err := s.save(); err != nil {
			return nil, err
		}
		log.Info("generated device identity",
			logger.String("device_id", s.deviceID),
			logger.String("key", kp.Fingerprint()))
	}
	metrics.PairedDevices.Set(float64(len(s.devices)))
	return s, nil
}

// newDeviceID returns a compact opaque identifier, stable once persisted.
func newDeviceID() string {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		// rand.Read only fails when the OS entropy source is broken;
		// fall back to a uuid which has its own failure handling.
		return uuid.NewString()
	}
	return base58.Encode(raw[:])
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read pairing state: %w", err)
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		s.log.Warn("pairing state unreadable, starting fresh", logger.Error(err))
		return nil
	}
	if len(state.PrivateKey) > 0 {
		kp, err := crypto.KeyPairFromPKCS8(state.PrivateKey)
		if err != nil {
			s.log.Warn("pairing state key unreadable, starting fresh", logger.Error(err))
			return nil
		}
		s.keyPair = kp
		s.deviceID = state.DeviceID
	}
	for i := range state.Devices {
		d := state.Devices[i]
		if d.PeerID == "" || len(d.SharedSecret) != 32 {
			s.log.Warn("skipping malformed paired device entry",
				logger.String("peer_id", d.PeerID))
			continue
		}
		s.devices[d.PeerID] = &d
	}
	return nil
}

// save persists the state atomically: write a temp file in the same
// directory, fsync, then rename over the target.
func (s *Store) save() error {
	der, err := s.keyPair.MarshalPKCS8()
	if err != nil {
		return err
	}
	state := stateFile{
		Version:    StateVersion,
		DeviceID:   s.deviceID,
		PrivateKey: der,
		Devices:    make([]PairedDevice, 0, len(s.devices)),
	}
	for _, d := range s.devices {
		state.Devices = append(state.Devices, *d)
	}
	sort.Slice(state.Devices, func(i, j int) bool {
		return state.Devices[i].PeerID < state.Devices[j].PeerID
	})

	data, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pairing state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".pairing_state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write pairing state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// DeviceID returns the stable local device identifier.
func (s *Store) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// KeyPair returns the local long-lived key pair.
func (s *Store) KeyPair() *crypto.KeyPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyPair
}

// Get returns a snapshot of a paired device, or nil if absent.
func (s *Store) Get(peerID string) *PairedDevice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[peerID]
	if !ok {
		return nil
	}
	cp := *d
	return &cp
}

// List returns snapshots of all paired devices sorted by peer id.
func (s *Store) List() []PairedDevice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PairedDevice, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// Revoke removes a paired device and persists. Returns false if the peer
// was not paired.
func (s *Store) Revoke(peerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[peerID]; !ok {
		return false, nil
	}
	delete(s.devices, peerID)
	metrics.PairedDevices.Set(float64(len(s.devices)))
	return true, s.save()
}

// RevokeAll removes every paired device and persists.
func (s *Store) RevokeAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.devices)
	s.devices = make(map[string]*PairedDevice)
	metrics.PairedDevices.Set(0)
	return n, s.save()
}

// UpdateAddress records the last known address for a peer. Best-effort:
// unknown peers are ignored.
func (s *Store) UpdateAddress(peerID, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[peerID]
	if !ok || d.Address == addr {
		return nil
	}
	d.Address = addr
	return s.save()
}

// TouchSeen updates the last-seen timestamp of a peer. The timestamp is
// kept in memory only; it is flushed on the next persisting mutation.
func (s *Store) TouchSeen(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[peerID]; ok {
		d.LastSeenMs = s.now().UnixMilli()
	}
}

// Count returns the number of paired devices.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

// Stats returns counters for status reporting.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return Stats{
		PairedDevices:   len(s.devices),
		PendingRequests: len(s.pending),
	}
}
