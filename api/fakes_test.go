package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Test fakes for the provider interfaces. The files fake is a thin
// sandboxed tempdir implementation so path-safety behavior is real.

type fakeFiles struct {
	root string
}

func (f *fakeFiles) Resolve(clientPath string) (string, error) {
	if clientPath == "" {
		return "", errors.New("empty path")
	}
	for _, seg := range strings.Split(clientPath, "/") {
		if seg == ".." {
			return "", errors.New("path escapes sandbox root")
		}
	}
	cleaned := filepath.Clean("/" + clientPath)
	abs := filepath.Join(f.root, cleaned)
	if abs != f.root && !strings.HasPrefix(abs, f.root+string(filepath.Separator)) {
		return "", errors.New("path escapes sandbox root")
	}
	return abs, nil
}

func (f *fakeFiles) List(path string) ([]FileEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var out []FileEntry
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileEntry{
			Name:       info.Name(),
			Path:       filepath.Join(path, info.Name()),
			Dir:        info.IsDir(),
			Size:       info.Size(),
			ModifiedMs: info.ModTime().UnixMilli(),
			Readable:   true,
			Writable:   true,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeFiles) Stat(path string) (FileEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileEntry{}, err
	}
	return FileEntry{
		Name: info.Name(), Path: path, Dir: info.IsDir(),
		Size: info.Size(), ModifiedMs: info.ModTime().UnixMilli(),
		Readable: true, Writable: true,
	}, nil
}

func (f *fakeFiles) Open(path string) (io.ReadCloser, FileEntry, error) {
	entry, err := f.Stat(path)
	if err != nil {
		return nil, FileEntry{}, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, FileEntry{}, err
	}
	return file, entry, nil
}

func (f *fakeFiles) Create(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

func (f *fakeFiles) Mkdir(path string) error  { return os.MkdirAll(path, 0o755) }
func (f *fakeFiles) Remove(path string) error { return os.RemoveAll(path) }

func (f *fakeFiles) Storage() (StorageInfo, error) {
	return StorageInfo{Internal: VolumeInfo{TotalBytes: 100, FreeBytes: 60, UsedBytes: 40}}, nil
}

type fakeDevice struct{}

func (fakeDevice) Info() (map[string]string, error) {
	return map[string]string{"model": "testbox", "os": "testos"}, nil
}
func (fakeDevice) Battery() (BatteryStatus, error) {
	return BatteryStatus{Level: 73, Charging: true}, nil
}
func (fakeDevice) Properties() (map[string]string, error) {
	return map[string]string{"ro.product.model": "testbox"}, nil
}
func (fakeDevice) Screenshot() ([]byte, error)   { return nil, ErrUnsupported }
func (fakeDevice) Permissions() ([]string, error) { return []string{"INTERNET"}, nil }

type fakeContacts struct {
	contacts  []Contact
	failNames map[string]bool
}

func (c *fakeContacts) List() ([]Contact, error) { return c.contacts, nil }
func (c *fakeContacts) Insert(contact Contact) error {
	if c.failNames[contact.Name] {
		return errors.New("provider rejected entry")
	}
	c.contacts = append(c.contacts, contact)
	return nil
}

type fakeSMS struct {
	messages []SMSMessage
	failIdx  map[int]bool
	inserted int
}

func (s *fakeSMS) List(limit, offset int) ([]SMSMessage, error) {
	msgs := s.messages
	if offset >= len(msgs) {
		return nil, nil
	}
	msgs = msgs[offset:]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *fakeSMS) Count() (int, error) { return len(s.messages), nil }

func (s *fakeSMS) Insert(m SMSMessage) error {
	if s.failIdx[s.inserted] {
		s.inserted++
		return errors.New("provider insert failed")
	}
	s.inserted++
	s.messages = append(s.messages, m)
	return nil
}

type fakeShell struct {
	lastCmd string
}

func (s *fakeShell) Exec(ctx context.Context, cmd string) (*ExecResult, error) {
	s.lastCmd = cmd
	if cmd == "false" {
		return &ExecResult{ExitCode: 1, Stderr: "failed"}, nil
	}
	return &ExecResult{Stdout: "ran: " + cmd}, nil
}

func (s *fakeShell) Stream(ctx context.Context, cmd string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader([]byte("line1\nline2\n"))), nil
}

func (s *fakeShell) GetProp(name string) (string, error) { return "value-of-" + name, nil }
func (s *fakeShell) GetSetting(ns, key string) (string, error) {
	return ns + ":" + key, nil
}
func (s *fakeShell) PutSetting(ns, key, value string) error { return nil }

type fakeSecurity struct{ secure bool }

func (f fakeSecurity) DeviceSecure() bool { return f.secure }

type capturedEvents struct {
	events []string
}

func (c *capturedEvents) Publish(eventType string, data map[string]any) {
	c.events = append(c.events, eventType)
}
