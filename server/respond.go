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

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/adbtoolkit/agent/auth"
	"github.com/adbtoolkit/agent/internal/logger"
	"github.com/adbtoolkit/agent/pairing"
)

// APIError is a handler failure with a fixed HTTP status and machine code.
// The optional Message carries human-oriented detail.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// BadRequest builds a 400 error for malformed client input.
func BadRequest(msg string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: "bad_request", Message: msg}
}

// Forbidden builds a 403 error.
func Forbidden(code string) *APIError {
	return &APIError{Status: http.StatusForbidden, Code: code}
}

// NotFound builds a 404 error.
func NotFound(code string) *APIError {
	return &APIError{Status: http.StatusNotFound, Code: code}
}

// NotImplemented builds a 501 error for documented stubs.
func NotImplemented(code string) *APIError {
	return &APIError{Status: http.StatusNotImplemented, Code: code}
}

// Internal wraps an unexpected handler failure.
func Internal(err error) *APIError {
	return &APIError{Status: http.StatusInternalServerError, Code: "internal_error", Message: err.Error()}
}

// WriteJSON writes v with the given status and a JSON content type.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("response write failed", logger.Error(err))
	}
}

// WriteOK writes the uniform success envelope {"status":"ok", ...extra}.
func WriteOK(w http.ResponseWriter, extra map[string]any) {
	body := map[string]any{"status": "ok"}
	for k, v := range extra {
		body[k] = v
	}
	WriteJSON(w, http.StatusOK, body)
}

// WriteError maps any error to the uniform {"error": ...} envelope.
// auth.Error and APIError keep their status; pairing sentinels map to
// 404; everything else becomes a 500 internal_error.
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		WriteJSON(w, apiErr.Status, apiErr)
		return
	}
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		WriteJSON(w, authErr.Status, &APIError{Code: authErr.Code})
		return
	}
	switch {
	case errors.Is(err, pairing.ErrUnknownChallenge):
		WriteJSON(w, http.StatusNotFound, &APIError{Code: "unknown_challenge"})
	case errors.Is(err, pairing.ErrUnknownPeer):
		WriteJSON(w, http.StatusNotFound, &APIError{Code: "unknown_peer"})
	default:
		WriteJSON(w, http.StatusInternalServerError, Internal(err))
	}
}
