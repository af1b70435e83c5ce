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

package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/adbtoolkit/agent/internal/logger"
	"github.com/adbtoolkit/agent/server"
)

// FilesHandler implements the files domain over a FilesProvider.
type FilesHandler struct {
	Provider  FilesProvider
	SearchCap int
	Log       logger.Logger
}

func (h *FilesHandler) logger() logger.Logger {
	if h.Log == nil {
		return logger.GetDefaultLogger()
	}
	return h.Log
}

// Handle implements server.Handler.
func (h *FilesHandler) Handle(w http.ResponseWriter, r *http.Request, action, param string) {
	switch action {
	case "list":
		h.list(w, r)
	case "read":
		h.read(w, r)
	case "write":
		h.write(w, r)
	case "stat":
		h.stat(w, r)
	case "exists":
		h.exists(w, r)
	case "hash":
		h.hash(w, r)
	case "mkdir":
		h.mkdir(w, r)
	case "delete":
		h.delete(w, r)
	case "search":
		h.search(w, r)
	case "storage":
		h.storage(w)
	default:
		server.WriteError(w, server.NotFound("unknown_endpoint"))
	}
}

// resolve validates the client path and maps it into the sandbox.
func (h *FilesHandler) resolve(r *http.Request) (string, error) {
	clientPath := r.URL.Query().Get("path")
	if clientPath == "" {
		return "", server.BadRequest("missing path parameter")
	}
	abs, err := h.Provider.Resolve(clientPath)
	if err != nil {
		return "", server.BadRequest(err.Error())
	}
	return abs, nil
}

func (h *FilesHandler) list(w http.ResponseWriter, r *http.Request) {
	target, err := h.resolve(r)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	entries, err := h.Provider.List(target)
	if err != nil {
		server.WriteError(w, mapFSError(err))
		return
	}
	server.WriteOK(w, map[string]any{
		"path":  target,
		"count": len(entries),
		"files": entries,
	})
}

func (h *FilesHandler) read(w http.ResponseWriter, r *http.Request) {
	target, err := h.resolve(r)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	rc, entry, err := h.Provider.Open(target)
	if err != nil {
		server.WriteError(w, mapFSError(err))
		return
	}
	defer rc.Close()

	ctype := mime.TypeByExtension(path.Ext(entry.Name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", entry.Size))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", entry.Name))
	if _, err := io.Copy(w, rc); err != nil {
		// Connection lost mid-stream; nothing further to write.
		h.logger().Debug("file read aborted",
			logger.String("path", target), logger.Error(err))
	}
}

func (h *FilesHandler) write(w http.ResponseWriter, r *http.Request) {
	target, err := h.resolve(r)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	wc, err := h.Provider.Create(target)
	if err != nil {
		server.WriteError(w, mapFSError(err))
		return
	}
	written, err := io.Copy(wc, r.Body)
	if cerr := wc.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		server.WriteError(w, server.Internal(err))
		return
	}
	server.WriteOK(w, map[string]any{"path": target, "written": written})
}

func (h *FilesHandler) stat(w http.ResponseWriter, r *http.Request) {
	target, err := h.resolve(r)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	entry, err := h.Provider.Stat(target)
	if err != nil {
		server.WriteError(w, mapFSError(err))
		return
	}
	server.WriteOK(w, map[string]any{"file": entry})
}

func (h *FilesHandler) exists(w http.ResponseWriter, r *http.Request) {
	target, err := h.resolve(r)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	_, statErr := h.Provider.Stat(target)
	server.WriteOK(w, map[string]any{
		"path":   target,
		"exists": statErr == nil,
	})
}

func (h *FilesHandler) hash(w http.ResponseWriter, r *http.Request) {
	target, err := h.resolve(r)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	rc, entry, err := h.Provider.Open(target)
	if err != nil {
		server.WriteError(w, mapFSError(err))
		return
	}
	defer rc.Close()

	digest := sha256.New()
	if _, err := io.Copy(digest, rc); err != nil {
		server.WriteError(w, server.Internal(err))
		return
	}
	server.WriteOK(w, map[string]any{
		"path":   target,
		"size":   entry.Size,
		"sha256": hex.EncodeToString(digest.Sum(nil)),
	})
}

func (h *FilesHandler) mkdir(w http.ResponseWriter, r *http.Request) {
	target, err := h.resolve(r)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	if err := h.Provider.Mkdir(target); err != nil {
		server.WriteError(w, mapFSError(err))
		return
	}
	server.WriteOK(w, map[string]any{"path": target})
}

func (h *FilesHandler) delete(w http.ResponseWriter, r *http.Request) {
	target, err := h.resolve(r)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	if _, err := h.Provider.Stat(target); err != nil {
		server.WriteError(w, mapFSError(err))
		return
	}
	if err := h.Provider.Remove(target); err != nil {
		server.WriteError(w, mapFSError(err))
		return
	}
	server.WriteOK(w, map[string]any{"path": target})
}

// search walks depth-first under the given root, matching file names by
// substring or, with regex=true, by pattern. Results are capped.
func (h *FilesHandler) search(w http.ResponseWriter, r *http.Request) {
	target, err := h.resolve(r)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		server.WriteError(w, server.BadRequest("missing q parameter"))
		return
	}

	var match func(name string) bool
	if r.URL.Query().Get("regex") == "true" {
		re, err := regexp.Compile(q)
		if err != nil {
			server.WriteError(w, server.BadRequest("invalid regex: "+err.Error()))
			return
		}
		match = re.MatchString
	} else {
		needle := strings.ToLower(q)
		match = func(name string) bool {
			return strings.Contains(strings.ToLower(name), needle)
		}
	}

	cap := h.SearchCap
	if cap <= 0 {
		cap = 500
	}
	var results []FileEntry
	var walk func(dir string)
	walk = func(dir string) {
		if len(results) >= cap {
			return
		}
		entries, err := h.Provider.List(dir)
		if err != nil {
			return // unreadable subtrees are skipped
		}
		for _, e := range entries {
			if len(results) >= cap {
				return
			}
			if match(e.Name) {
				results = append(results, e)
			}
			if e.Dir {
				walk(e.Path)
			}
		}
	}
	walk(target)

	server.WriteOK(w, map[string]any{
		"query":   q,
		"count":   len(results),
		"results": results,
		"capped":  len(results) >= cap,
	})
}

func (h *FilesHandler) storage(w http.ResponseWriter) {
	info, err := h.Provider.Storage()
	if err != nil {
		server.WriteError(w, server.Internal(err))
		return
	}
	server.WriteOK(w, map[string]any{"storage": info})
}

// mapFSError translates filesystem failures to API errors.
func mapFSError(err error) error {
	switch {
	case os.IsNotExist(err):
		return server.NotFound("file_not_found")
	case os.IsPermission(err):
		return server.Forbidden("permission_denied")
	default:
		return server.Internal(err)
	}
}
