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

// Package transfer implements the framed binary TCP channel for bulk
// file movement: a fixed 512-byte JSON header, an optional payload, and
// an optional 32-byte SHA-256 trailer.
package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Frame geometry.
const (
	HeaderSize = 512
	HashSize   = 32
)

// Operations.
const (
	OpPush = "push"
	OpPull = "pull"
	OpStat = "stat"
)

// Statuses carried in response headers.
const (
	StatusOK           = "ok"
	StatusHashMismatch = "hash_mismatch"
	StatusError        = "error"
)

// ErrHeaderTooLarge is returned when a header does not fit the fixed
// 512-byte frame.
var ErrHeaderTooLarge = errors.New("transfer: header exceeds frame size")

// Header is the JSON object opening (and answering) every transfer
// operation, NUL-padded on the right to exactly 512 bytes on the wire.
type Header struct {
	Op   string `json:"op,omitempty"`
	Path string `json:"path,omitempty"`
	Size int64  `json:"size,omitempty"`

	// Controller auth.
	Token string `json:"token,omitempty"`
	// Peer auth: signature over "op|path|timestamp".
	PeerID    string `json:"peer_id,omitempty"`
	Signature string `json:"signature,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	// Response fields.
	Status     string `json:"status,omitempty"`
	Written    int64  `json:"written,omitempty"`
	Hash       string `json:"hash,omitempty"`
	Exists     bool   `json:"exists,omitempty"`
	Dir        bool   `json:"is_dir,omitempty"`
	ModifiedMs int64  `json:"modified_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// WriteHeader marshals h into one fixed-size frame.
func WriteHeader(w io.Writer, h *Header) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("transfer: marshal header: %w", err)
	}
	if len(data) > HeaderSize {
		return ErrHeaderTooLarge
	}
	frame := make([]byte, HeaderSize)
	copy(frame, data)
	_, err = w.Write(frame)
	return err
}

// ReadHeader reads one fixed-size frame and unmarshals it.
func ReadHeader(r io.Reader) (*Header, error) {
	frame := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimRight(frame, "\x00")
	if len(trimmed) == 0 {
		return nil, errors.New("transfer: empty header frame")
	}
	var h Header
	if err := json.Unmarshal(trimmed, &h); err != nil {
		return nil, fmt.Errorf("transfer: malformed header: %w", err)
	}
	return &h, nil
}

// zeroHash is the all-zero trailer a client sends when it did not
// compute the payload hash.
var zeroHash [HashSize]byte

// isZeroHash reports whether the trailer means "client did not compute".
func isZeroHash(b []byte) bool {
	return bytes.Equal(b, zeroHash[:])
}
