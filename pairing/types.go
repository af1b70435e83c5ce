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

import "time"

// PendingTTL is how long an unapproved pairing request stays actionable.
const PendingTTL = 5 * time.Minute

// StateVersion tags the persisted state file format.
const StateVersion = 1

// PairedDevice is a peer that completed the pairing protocol. Presence in
// the store means the device is pairable; revocation removes the record.
type PairedDevice struct {
	PeerID        string `json:"peer_id"`
	Label         string `json:"label"`
	PublicKey     []byte `json:"public_key"`
	SharedSecret  []byte `json:"shared_secret"`
	Address       string `json:"address,omitempty"` // last known host:port
	PairedAtMs    int64  `json:"paired_at_ms"`
	LastSeenMs    int64  `json:"last_seen_ms"`
	Trusted       bool   `json:"trusted"`
}

// Public returns a copy safe to serialize to clients: the shared secret is
// never returned by any endpoint.
func (d *PairedDevice) Public() PairedDevice {
	out := *d
	out.SharedSecret = nil
	return out
}

// PendingPairing is an inbound pairing request awaiting local approval.
type PendingPairing struct {
	ChallengeID string    `json:"challenge_id"`
	PeerID      string    `json:"peer_id"`
	PeerLabel   string    `json:"peer_label"`
	PeerKey     []byte    `json:"peer_public_key"`
	PeerAddress string    `json:"peer_address,omitempty"`
	ConfirmCode string    `json:"confirm_code"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired reports whether the request is past its approval window.
func (p *PendingPairing) Expired(now time.Time) bool {
	return now.Sub(p.CreatedAt) > PendingTTL
}

// stateFile is the on-disk layout of pairing_state.json.
type stateFile struct {
	Version    int            `json:"version"`
	DeviceID   string         `json:"device_id"`
	PrivateKey []byte         `json:"private_key"` // PKCS#8 DER
	Devices    []PairedDevice `json:"devices"`
}

// Stats summarizes the store for status reporting.
type Stats struct {
	PairedDevices   int `json:"paired_devices"`
	PendingRequests int `json:"pending_requests"`
}
