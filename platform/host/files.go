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

// Package host implements the platform provider interfaces on a plain
// POSIX host: direct filesystem access, os/exec for the shell, and
// runtime introspection for device info.
package host

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/adbtoolkit/agent/api"
)

// ErrPathEscape is returned for paths that would leave the sandbox root.
var ErrPathEscape = errors.New("host: path escapes sandbox root")

// Files is the host filesystem provider. All operations are confined to
// the sandbox root.
type Files struct {
	root string
}

// NewFiles creates a provider rooted at root.
func NewFiles(root string) (*Files, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Files{root: abs}, nil
}

// Root returns the sandbox root.
func (f *Files) Root() string { return f.root }

// Resolve maps a client path into the sandbox. Traversal that escapes
// the root is rejected before touching the filesystem.
func (f *Files) Resolve(clientPath string) (string, error) {
	if clientPath == "" {
		return "", errors.New("host: empty path")
	}
	// ".." segments are rejected outright rather than cleaned away, so a
	// traversal attempt is always an error, never a silent remap.
	for _, seg := range strings.Split(filepath.ToSlash(clientPath), "/") {
		if seg == ".." {
			return "", ErrPathEscape
		}
	}
	// Client paths are rooted at the sandbox, so absolute and relative
	// forms mean the same thing.
	cleaned := filepath.Clean("/" + clientPath)
	abs := filepath.Join(f.root, cleaned)
	if abs != f.root && !strings.HasPrefix(abs, f.root+string(filepath.Separator)) {
		return "", ErrPathEscape
	}
	return abs, nil
}

func entryFromInfo(path string, info os.FileInfo) api.FileEntry {
	mode := info.Mode()
	return api.FileEntry{
		Name:       info.Name(),
		Path:       path,
		Dir:        info.IsDir(),
		Size:       info.Size(),
		ModifiedMs: info.ModTime().UnixMilli(),
		Readable:   mode.Perm()&0o400 != 0,
		Writable:   mode.Perm()&0o200 != 0,
	}
}

// List returns the directory's entries sorted by name.
func (f *Files) List(path string) ([]api.FileEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]api.FileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue // entry vanished between readdir and stat
		}
		out = append(out, entryFromInfo(filepath.Join(path, e.Name()), info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Stat describes a single path.
func (f *Files) Stat(path string) (api.FileEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return api.FileEntry{}, err
	}
	return entryFromInfo(path, info), nil
}

// Open opens a file for reading along with its metadata.
func (f *Files) Open(path string) (io.ReadCloser, api.FileEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, api.FileEntry{}, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, api.FileEntry{}, err
	}
	if info.IsDir() {
		file.Close()
		return nil, api.FileEntry{}, errors.New("host: is a directory")
	}
	return file, entryFromInfo(path, info), nil
}

// Create opens path for writing, creating parent directories.
func (f *Files) Create(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// Mkdir creates the directory and any missing parents.
func (f *Files) Mkdir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// Remove deletes path, recursively for directories. Removing the
// sandbox root itself is refused.
func (f *Files) Remove(path string) error {
	if path == f.root {
		return errors.New("host: refusing to remove sandbox root")
	}
	return os.RemoveAll(path)
}

// Storage reports capacity of the filesystem backing the sandbox root.
// Hosts have a single volume, so external storage is absent.
func (f *Files) Storage() (api.StorageInfo, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(f.root, &st); err != nil {
		return api.StorageInfo{}, err
	}
	total := int64(st.Blocks) * int64(st.Bsize)
	free := int64(st.Bavail) * int64(st.Bsize)
	return api.StorageInfo{
		Internal: api.VolumeInfo{
			TotalBytes: total,
			FreeBytes:  free,
			UsedBytes:  total - free,
		},
	}, nil
}
