package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adbtoolkit/agent/discovery"
)

func TestWatchDiscoveryUpdatesAddresses(t *testing.T) {
	o, store := newOrchestrator(t)
	pairPeer(t, store, "roamer", "10.0.0.1:15555")

	events := make(chan discovery.Event, 4)
	done := make(chan struct{})
	go func() {
		o.WatchDiscovery(events)
		close(done)
	}()

	// A paired peer shows up at a new address.
	events <- discovery.Event{Op: discovery.OpAdd, Peer: discovery.Peer{
		DeviceID: "roamer", Address: "10.0.0.9:15555",
	}}
	// An unpaired device is ignored.
	events <- discovery.Event{Op: discovery.OpAdd, Peer: discovery.Peer{
		DeviceID: "stranger", Address: "10.0.0.2:15555",
	}}
	// Removals do not touch the stored address.
	events <- discovery.Event{Op: discovery.OpRemove, Peer: discovery.Peer{
		DeviceID: "roamer", Address: "10.0.0.9:15555",
	}}
	close(events)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not drain")
	}

	d := store.Get("roamer")
	require.NotNil(t, d)
	assert.Equal(t, "10.0.0.9:15555", d.Address)
	assert.Nil(t, store.Get("stranger"))
}
