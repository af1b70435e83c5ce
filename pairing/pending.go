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

package pairing

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/adbtoolkit/agent/crypto"
	"github.com/adbtoolkit/agent/internal/logger"
	"github.com/adbtoolkit/agent/internal/metrics"
)

// CreatePending registers an inbound pair-init request and returns the
// pending record, including the confirmation code both devices display.
// A repeated pair-init from the same peer replaces its earlier request.
func (s *Store) CreatePending(peerID, label string, peerKey []byte, peerAddr string) (*PendingPairing, error) {
	if peerID == "" {
		return nil, fmt.Errorf("pairing: empty peer id")
	}
	// Validate the key early so approval cannot fail on a bad point.
	if _, err := s.KeyPair().SharedSecret(peerKey); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	for id, p := range s.pending {
		if p.PeerID == peerID {
			delete(s.pending, id)
		}
	}

	p := &PendingPairing{
		ChallengeID: uuid.NewString(),
		PeerID:      peerID,
		PeerLabel:   label,
		PeerKey:     peerKey,
		PeerAddress: peerAddr,
		ConfirmCode: crypto.ConfirmCode(s.keyPair.PublicKeyBytes(), peerKey),
		CreatedAt:   s.now(),
	}
	s.pending[p.ChallengeID] = p
	s.log.Info("pairing request pending",
		logger.String("peer_id", peerID),
		logger.String("challenge_id", p.ChallengeID))
	return p, nil
}

// Pending returns snapshots of the unexpired pending requests.
func (s *Store) Pending() []PendingPairing {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	out := make([]PendingPairing, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Approve consumes a pending request, derives the shared secret, stores
// the paired device, and persists. Returns ErrUnknownChallenge when the
// challenge is absent or expired; an expired record is never approvable.
func (s *Store) Approve(challengeID string) (*PairedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	p, ok := s.pending[challengeID]
	if !ok {
		return nil, ErrUnknownChallenge
	}
	delete(s.pending, challengeID)

	secret, err := s.keyPair.SharedSecret(p.PeerKey)
	if err != nil {
		return nil, err
	}
	now := s.now().UnixMilli()
	d := &PairedDevice{
		PeerID:       p.PeerID,
		Label:        p.PeerLabel,
		PublicKey:    p.PeerKey,
		SharedSecret: secret,
		Address:      p.PeerAddress,
		PairedAtMs:   now,
		LastSeenMs:   now,
		Trusted:      true,
	}
	s.devices[d.PeerID] = d
	if err := s.save(); err != nil {
		return nil, err
	}
	metrics.PairedDevices.Set(float64(len(s.devices)))
	metrics.PairingOutcomes.WithLabelValues("approved").Inc()
	s.log.Info("peer paired",
		logger.String("peer_id", d.PeerID),
		logger.String("label", d.Label))
	cp := *d
	return &cp, nil
}

// Reject drops a pending request. Rejecting an unknown or already
// consumed challenge is a no-op.
func (s *Store) Reject(challengeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	if _, ok := s.pending[challengeID]; ok {
		delete(s.pending, challengeID)
		metrics.PairingOutcomes.WithLabelValues("rejected").Inc()
	}
}

// sweepLocked drops expired pending entries. Callers hold the write lock.
func (s *Store) sweepLocked() {
	now := s.now()
	for id, p := range s.pending {
		if p.Expired(now) {
			delete(s.pending, id)
			metrics.PairingOutcomes.WithLabelValues("expired").Inc()
			s.log.Debug("pairing request expired",
				logger.String("peer_id", p.PeerID),
				logger.String("challenge_id", id))
		}
	}
}
