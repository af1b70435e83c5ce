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

// Package api implements the domain handlers of the JSON API surface.
// Each handler consumes a platform provider interface; the platform
// packages implement them natively and tests supply fakes.
package api

import (
	"context"
	"errors"
	"io"
)

// ErrUnsupported marks an operation the current platform cannot provide,
// e.g. screenshots on a headless host.
var ErrUnsupported = errors.New("api: operation unsupported on this platform")

// FileEntry describes one filesystem object.
type FileEntry struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Dir        bool   `json:"is_dir"`
	Size       int64  `json:"size"`
	ModifiedMs int64  `json:"modified_ms"`
	Readable   bool   `json:"readable"`
	Writable   bool   `json:"writable"`
}

// VolumeInfo reports capacity of one storage volume.
type VolumeInfo struct {
	TotalBytes int64 `json:"total_bytes"`
	FreeBytes  int64 `json:"free_bytes"`
	UsedBytes  int64 `json:"used_bytes"`
}

// StorageInfo reports internal and external storage capacity.
type StorageInfo struct {
	Internal VolumeInfo  `json:"internal"`
	External *VolumeInfo `json:"external,omitempty"`
}

// FilesProvider exposes filesystem operations on device-accessible
// storage. All paths given to the provider have already been resolved
// through Resolve.
type FilesProvider interface {
	// Resolve maps a client-supplied path to an absolute path inside the
	// sandbox root, rejecting traversal that would escape it.
	Resolve(clientPath string) (string, error)

	List(path string) ([]FileEntry, error)
	Stat(path string) (FileEntry, error)
	Open(path string) (io.ReadCloser, FileEntry, error)
	// Create opens path for writing, creating parent directories.
	Create(path string) (io.WriteCloser, error)
	Mkdir(path string) error
	// Remove deletes path, recursively for directories.
	Remove(path string) error
	Storage() (StorageInfo, error)
}

// BatteryStatus is the battery level and charging state.
type BatteryStatus struct {
	Level    int  `json:"level"`
	Charging bool `json:"charging"`
}

// DeviceProvider exposes read-only device introspection.
type DeviceProvider interface {
	// Info returns model/os/firmware identifiers.
	Info() (map[string]string, error)
	Battery() (BatteryStatus, error)
	// Properties returns the platform system-property map.
	Properties() (map[string]string, error)
	// Screenshot returns a PNG snapshot, or ErrUnsupported.
	Screenshot() ([]byte, error)
	// Permissions lists granted platform permissions, or ErrUnsupported.
	Permissions() ([]string, error)
}

// AppInfo describes an installed package.
type AppInfo struct {
	Package     string   `json:"package"`
	Label       string   `json:"label,omitempty"`
	VersionName string   `json:"version_name,omitempty"`
	VersionCode int64    `json:"version_code,omitempty"`
	TargetSDK   int      `json:"target_sdk,omitempty"`
	APKPath     string   `json:"apk_path,omitempty"`
	SplitPaths  []string `json:"split_paths,omitempty"`
	System      bool     `json:"system"`
}

// DataDir is a per-package data directory with its size.
type DataDir struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

// AppsProvider exposes package management.
type AppsProvider interface {
	List(includeSystem bool) ([]AppInfo, error)
	Info(pkg string) (*AppInfo, error)
	// OpenAPK streams the base APK of a package.
	OpenAPK(pkg string) (io.ReadCloser, int64, error)
	// Install installs the APK staged at path.
	Install(path string) error
	Uninstall(pkg string) error
	DataDirs(pkg string) ([]DataDir, error)
}

// LabeledValue is a phone number or email with its label.
type LabeledValue struct {
	Label string `json:"label,omitempty"`
	Value string `json:"value"`
}

// Contact is one address-book entry.
type Contact struct {
	ID           string         `json:"id,omitempty"`
	Name         string         `json:"name"`
	Phones       []LabeledValue `json:"phones,omitempty"`
	Emails       []LabeledValue `json:"emails,omitempty"`
	Organization string         `json:"organization,omitempty"`
}

// ContactsProvider exposes the platform address book.
type ContactsProvider interface {
	List() ([]Contact, error)
	Insert(c Contact) error
}

// SMSMessage is one stored text message.
type SMSMessage struct {
	ID       int64  `json:"id,omitempty"`
	ThreadID int64  `json:"thread_id"`
	Address  string `json:"address"`
	Body     string `json:"body"`
	DateMs   int64  `json:"date_ms"`
	Type     string `json:"type"` // inbox, sent
}

// SMSProvider exposes the platform message store.
type SMSProvider interface {
	// List returns messages newest first. limit 0 means all.
	List(limit, offset int) ([]SMSMessage, error)
	Count() (int, error)
	Insert(m SMSMessage) error
}

// ExecResult captures one shell command execution.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// ShellProvider exposes command execution via the platform shell.
type ShellProvider interface {
	// Exec runs cmd and waits up to the context deadline.
	Exec(ctx context.Context, cmd string) (*ExecResult, error)
	// Stream runs cmd and returns combined output as it is produced.
	// The command is killed when the reader is closed or ctx ends.
	Stream(ctx context.Context, cmd string) (io.ReadCloser, error)
	GetProp(name string) (string, error)
	GetSetting(namespace, key string) (string, error)
	PutSetting(namespace, key, value string) error
}

// SecurityProvider answers device security questions during pairing.
// The surrounding UI layer performs the real biometric prompt; the core
// only consumes its outcome.
type SecurityProvider interface {
	// DeviceSecure reports whether the device has a screen lock.
	DeviceSecure() bool
}

// Events receives UI notifications, e.g. a pairing request awaiting the
// local user's confirmation.
type Events interface {
	Publish(eventType string, data map[string]any)
}

// NoopEvents discards all events.
type NoopEvents struct{}

// Publish implements Events.
func (NoopEvents) Publish(string, map[string]any) {}

// StatusFunc reports the agent's lifecycle status counters.
type StatusFunc func() map[string]any
