package host

import (
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/adbtoolkit/agent/api"
)

// MemoryContacts is an in-memory address book. Hosts have no native
// contact store; development and import/export testing run against this.
type MemoryContacts struct {
	mu       sync.RWMutex
	contacts []api.Contact
	nextID   int
}

// NewMemoryContacts creates an empty address book.
func NewMemoryContacts() *MemoryContacts {
	return &MemoryContacts{nextID: 1}
}

// List implements api.ContactsProvider.
func (m *MemoryContacts) List() ([]api.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]api.Contact, len(m.contacts))
	copy(out, m.contacts)
	return out, nil
}

// Insert implements api.ContactsProvider.
func (m *MemoryContacts) Insert(c api.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = strconv.Itoa(m.nextID)
		m.nextID++
	}
	m.contacts = append(m.contacts, c)
	return nil
}

// MemorySMS is an in-memory message store with thread assignment by
// address.
type MemorySMS struct {
	mu       sync.RWMutex
	messages []api.SMSMessage
	threads  map[string]int64
	nextID   int64
}

// NewMemorySMS creates an empty message store.
func NewMemorySMS() *MemorySMS {
	return &MemorySMS{threads: make(map[string]int64), nextID: 1}
}

// List implements api.SMSProvider; messages come back newest first.
func (m *MemorySMS) List(limit, offset int) ([]api.SMSMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := make([]api.SMSMessage, len(m.messages))
	copy(sorted, m.messages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DateMs > sorted[j].DateMs })

	if offset >= len(sorted) {
		return []api.SMSMessage{}, nil
	}
	sorted = sorted[offset:]
	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

// Count implements api.SMSProvider.
func (m *MemorySMS) Count() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages), nil
}

// Insert implements api.SMSProvider. Messages without a thread get one
// assigned per address.
func (m *MemorySMS) Insert(msg api.SMSMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == 0 {
		msg.ID = m.nextID
		m.nextID++
	}
	if msg.ThreadID == 0 {
		tid, ok := m.threads[msg.Address]
		if !ok {
			tid = int64(len(m.threads) + 1)
			m.threads[msg.Address] = tid
		}
		msg.ThreadID = tid
	}
	m.messages = append(m.messages, msg)
	return nil
}

// Apps is the host package provider. Hosts have no package manager, so
// every operation reports ErrUnsupported.
type Apps struct{}

// NewApps creates the provider.
func NewApps() *Apps { return &Apps{} }

// List implements api.AppsProvider.
func (Apps) List(bool) ([]api.AppInfo, error) { return nil, api.ErrUnsupported }

// Info implements api.AppsProvider.
func (Apps) Info(string) (*api.AppInfo, error) { return nil, api.ErrUnsupported }

// OpenAPK implements api.AppsProvider.
func (Apps) OpenAPK(string) (io.ReadCloser, int64, error) { return nil, 0, api.ErrUnsupported }

// Install implements api.AppsProvider.
func (Apps) Install(string) error { return api.ErrUnsupported }

// Uninstall implements api.AppsProvider.
func (Apps) Uninstall(string) error { return api.ErrUnsupported }

// DataDirs implements api.AppsProvider.
func (Apps) DataDirs(string) ([]api.DataDir, error) { return nil, api.ErrUnsupported }
