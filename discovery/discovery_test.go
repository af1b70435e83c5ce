package discovery

import (
	"net"
	"testing"

	"github.com/brutella/dnssd"
	"github.com/stretchr/testify/assert"
)

// Network-facing registration/browsing needs a real multicast interface
// and is exercised in integration environments; these tests cover the
// pure mapping logic.

func TestInstanceNameDerivation(t *testing.T) {
	s := New("AbCdEfGhIjKlMnOp", 15555, nil)
	assert.Equal(t, "agent-AbCdEfGhIjKl", s.instanceName())

	short := New("xyz", 15555, nil)
	assert.Equal(t, "agent-xyz", short.instanceName())
}

func TestEntryToPeer(t *testing.T) {
	s := New("self", 15555, nil)
	p := s.entryToPeer(dnssd.BrowseEntry{
		Name: "agent-remote",
		Host: "remotebox",
		Port: 15555,
		IPs:  []net.IP{net.ParseIP("192.168.1.50")},
		Text: map[string]string{"device_id": "remote-device"},
	})
	assert.Equal(t, "agent-remote", p.Name)
	assert.Equal(t, "remote-device", p.DeviceID)
	assert.Equal(t, "192.168.1.50:15555", p.Address)
}

func TestSelfEventsIgnored(t *testing.T) {
	s := New("selfselfselfself", 15555, nil)
	s.onAdd(dnssd.BrowseEntry{Name: s.instanceName(), Port: 15555})
	assert.Empty(t, s.Peers())

	s.onAdd(dnssd.BrowseEntry{
		Name: "agent-other", Host: "other", Port: 15555,
		IPs: []net.IP{net.ParseIP("10.0.0.2")},
	})
	assert.Len(t, s.Peers(), 1)

	// the add produced an event
	select {
	case ev := <-s.Events():
		assert.Equal(t, OpAdd, ev.Op)
		assert.Equal(t, "agent-other", ev.Peer.Name)
	default:
		t.Fatal("expected a buffered event")
	}

	s.onRemove(dnssd.BrowseEntry{Name: "agent-other"})
	assert.Empty(t, s.Peers())
}
