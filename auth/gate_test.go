package auth

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adbtoolkit/agent/crypto"
	"github.com/adbtoolkit/agent/pairing"
)

type fakeDirectory struct {
	devices map[string]*pairing.PairedDevice
	touched []string
}

func (f *fakeDirectory) Get(peerID string) *pairing.PairedDevice {
	return f.devices[peerID]
}

func (f *fakeDirectory) TouchSeen(peerID string) {
	f.touched = append(f.touched, peerID)
}

func newPeerGate(t *testing.T, token string) (*Gate, []byte) {
	t.Helper()
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}
	dir := &fakeDirectory{devices: map[string]*pairing.PairedDevice{
		"peer-1": {PeerID: "peer-1", SharedSecret: secret, Trusted: true},
	}}
	g := NewGate(func() string { return token }, dir)
	t.Cleanup(g.Close)
	return g, secret
}

func signedRequest(secret []byte, method, uri string, at time.Time) *http.Request {
	r := httptest.NewRequest(method, uri, nil)
	SignRequest(r, "peer-1", secret, at)
	return r
}

func TestTokenScheme(t *testing.T) {
	g, _ := newPeerGate(t, "sekrit")

	r := httptest.NewRequest("GET", "/api/files/list?path=/", nil)
	_, err := g.Authenticate(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	r.Header.Set(HeaderToken, "wrong")
	_, err = g.Authenticate(r)
	assert.ErrorIs(t, err, ErrInvalidToken)

	r.Header.Set(HeaderToken, "sekrit")
	v, err := g.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, SchemeController, v.Scheme)

	// Query parameter form.
	r2 := httptest.NewRequest("GET", "/api/files/list?path=/&token=sekrit", nil)
	_, err = g.Authenticate(r2)
	assert.NoError(t, err)
}

func TestEmptyTokenLoopbackOnly(t *testing.T) {
	g, _ := newPeerGate(t, "")

	r := httptest.NewRequest("GET", "/api/files/list", nil)
	r.RemoteAddr = "127.0.0.1:40000"
	_, err := g.Authenticate(r)
	assert.NoError(t, err)

	r.RemoteAddr = "[::1]:40000"
	_, err = g.Authenticate(r)
	assert.NoError(t, err)

	r.RemoteAddr = "192.168.1.20:40000"
	_, err = g.Authenticate(r)
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestPeerHMACAccepted(t *testing.T) {
	g, secret := newPeerGate(t, "sekrit")

	r := signedRequest(secret, "GET", "/api/ping", time.Now())
	v, err := g.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, SchemePeer, v.Scheme)
	assert.Equal(t, "peer-1", v.PeerID)
}

func TestPeerHMACPrecedence(t *testing.T) {
	// With both schemes presented, a bad peer signature fails the request
	// even when the token is valid.
	g, secret := newPeerGate(t, "sekrit")

	r := signedRequest(secret, "GET", "/api/ping", time.Now())
	r.Header.Set(HeaderToken, "sekrit")
	r.Header.Set(HeaderSignature, "00"+r.Header.Get(HeaderSignature)[2:])
	_, err := g.Authenticate(r)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestStaleTimestamp(t *testing.T) {
	g, secret := newPeerGate(t, "")

	r := signedRequest(secret, "GET", "/api/ping", time.Now().Add(-10*time.Minute))
	_, err := g.Authenticate(r)
	assert.ErrorIs(t, err, ErrStaleTimestamp)

	// Future skew is equally rejected.
	r = signedRequest(secret, "GET", "/api/ping", time.Now().Add(10*time.Minute))
	_, err = g.Authenticate(r)
	assert.ErrorIs(t, err, ErrStaleTimestamp)
}

func TestTamperedSignature(t *testing.T) {
	g, secret := newPeerGate(t, "")

	r := signedRequest(secret, "GET", "/api/ping", time.Now())
	sig := r.Header.Get(HeaderSignature)
	if sig[0] == '0' {
		sig = "1" + sig[1:]
	} else {
		sig = "0" + sig[1:]
	}
	r.Header.Set(HeaderSignature, sig)
	_, err := g.Authenticate(r)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestSignatureCoversURI(t *testing.T) {
	g, secret := newPeerGate(t, "")

	r := signedRequest(secret, "GET", "/api/files/list?path=/a", time.Now())
	// Re-target the request without re-signing.
	r2 := httptest.NewRequest("GET", "/api/files/list?path=/etc", nil)
	r2.Header = r.Header.Clone()
	_, err := g.Authenticate(r2)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestUnknownPeer(t *testing.T) {
	g, secret := newPeerGate(t, "")

	r := httptest.NewRequest("GET", "/api/ping", nil)
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	r.Header.Set(HeaderPeerID, "stranger")
	r.Header.Set(HeaderTimestamp, ts)
	r.Header.Set(HeaderSignature, crypto.Sign(secret, "GET|/api/ping|"+ts))
	_, err := g.Authenticate(r)
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestMalformedPeerHeaders(t *testing.T) {
	g, _ := newPeerGate(t, "")

	r := httptest.NewRequest("GET", "/api/ping", nil)
	r.Header.Set(HeaderPeerID, "peer-1")
	_, err := g.Authenticate(r)
	assert.ErrorIs(t, err, ErrMalformedPeer)

	r.Header.Set(HeaderSignature, "abcd")
	r.Header.Set(HeaderTimestamp, "not-a-number")
	_, err = g.Authenticate(r)
	assert.ErrorIs(t, err, ErrMalformedPeer)
}

func TestReplayRejected(t *testing.T) {
	g, secret := newPeerGate(t, "")

	r := signedRequest(secret, "GET", "/api/ping", time.Now())
	_, err := g.Authenticate(r)
	require.NoError(t, err)

	// The identical signed request a second time is a replay.
	_, err = g.Authenticate(r)
	assert.ErrorIs(t, err, ErrReplay)
}

func TestVerifyDetachedFrame(t *testing.T) {
	g, secret := newPeerGate(t, "")

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	msg := CanonicalFrame("push", "/sdcard/x.bin", ts)
	sig := crypto.Sign(secret, msg)

	v, err := g.VerifyDetached("peer-1", sig, ts, msg)
	require.NoError(t, err)
	assert.Equal(t, "peer-1", v.PeerID)

	_, err = g.VerifyDetached("peer-1", sig, ts, CanonicalFrame("pull", "/sdcard/x.bin", ts))
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyDetachedToken(t *testing.T) {
	g, _ := newPeerGate(t, "sekrit")

	_, err := g.VerifyDetachedToken("sekrit", "10.0.0.2:1")
	assert.NoError(t, err)
	_, err = g.VerifyDetachedToken("nope", "10.0.0.2:1")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = g.VerifyDetachedToken("", "10.0.0.2:1")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestReplayGuardScopedPerPeer(t *testing.T) {
	g, _ := newPeerGate(t, "")
	now := time.Now().UnixMilli()
	exp := now + Window.Milliseconds()

	assert.False(t, g.markSeen("p", "sig1", exp))
	assert.True(t, g.markSeen("p", "sig1", exp))
	assert.False(t, g.markSeen("p", "sig2", exp))
	assert.False(t, g.markSeen("q", "sig1", exp))

	g.DropPeer("p")
	assert.False(t, g.markSeen("p", "sig1", exp))
}

func TestReplayGuardEntriesExpireWithWindow(t *testing.T) {
	g, _ := newPeerGate(t, "")

	base := time.Now()
	g.now = func() time.Time { return base }
	exp := base.UnixMilli() + Window.Milliseconds()

	require.False(t, g.markSeen("p", "sig1", exp))
	require.True(t, g.markSeen("p", "sig1", exp))

	// Once the signature's timestamp has left the window, the entry no
	// longer counts as a replay: the freshness check owns rejection now.
	g.now = func() time.Time { return base.Add(Window + time.Second) }
	assert.False(t, g.markSeen("p", "sig1", exp))
}

func TestReplayGuardPrunesDeadEntries(t *testing.T) {
	g, _ := newPeerGate(t, "")

	base := time.Now()
	g.now = func() time.Time { return base }
	exp := base.UnixMilli() + Window.Milliseconds()
	g.markSeen("p", "sig1", exp)
	g.markSeen("q", "sig2", exp)

	// The first call after a full window sweeps everything dead.
	g.now = func() time.Time { return base.Add(2 * Window) }
	g.markSeen("r", "sig3", base.UnixMilli()+3*Window.Milliseconds())

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.NotContains(t, g.seen, "p")
	assert.NotContains(t, g.seen, "q")
	assert.Contains(t, g.seen, "r")
}
