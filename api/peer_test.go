package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adbtoolkit/agent/auth"
	"github.com/adbtoolkit/agent/crypto"
	"github.com/adbtoolkit/agent/pairing"
)

type peerFixture struct {
	handler  *PeerHandler
	store    *pairing.Store
	gate     *auth.Gate
	events   *capturedEvents
	security *fakeSecurity
	// initiator side
	initiatorKey *crypto.KeyPair
}

func newPeerFixture(t *testing.T) *peerFixture {
	t.Helper()
	store := newStore(t)
	gate := auth.NewGate(func() string { return "tok" }, store)
	t.Cleanup(gate.Close)
	events := &capturedEvents{}
	security := &fakeSecurity{secure: true}

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	return &peerFixture{
		handler: &PeerHandler{
			Store:    store,
			Gate:     gate,
			Security: security,
			Events:   events,
			Files:    &fakeFiles{root: t.TempDir()},
			Platform: "android",
		},
		store:        store,
		gate:         gate,
		events:       events,
		security:     security,
		initiatorKey: kp,
	}
}

func (f *peerFixture) post(t *testing.T, action string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	r := httptest.NewRequest("POST", "/api/peer/"+action, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	f.handler.Handle(rec, r, action, "")
	return rec
}

func (f *peerFixture) pairInit(t *testing.T) map[string]any {
	t.Helper()
	rec := f.post(t, "pair-init", map[string]any{
		"device_id":  "initiator-1",
		"label":      "Alice's phone",
		"public_key": base64.StdEncoding.EncodeToString(f.initiatorKey.PublicKeyBytes()),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody(t, rec)
}

func TestPairingFlow(t *testing.T) {
	f := newPeerFixture(t)

	// pair-init creates a pending record and returns the responder key
	// plus the confirmation code.
	body := f.pairInit(t)
	assert.Equal(t, "pending_approval", body["status"])
	challengeID := body["challenge_id"].(string)
	require.NotEmpty(t, challengeID)

	responderKey, err := base64.StdEncoding.DecodeString(body["public_key"].(string))
	require.NoError(t, err)

	// Both sides derive the same confirmation code independently.
	assert.Equal(t, body["confirm_code"],
		crypto.ConfirmCode(f.initiatorKey.PublicKeyBytes(), responderKey))

	// The local UI got a pairing_request event.
	assert.Contains(t, f.events.events, "pairing_request")

	// pending lists it
	rec := httptest.NewRecorder()
	f.handler.Handle(rec, httptest.NewRequest("GET", "/api/peer/pair-pending", nil), "pair-pending", "")
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	// approve with the biometric assertion
	rec = f.post(t, "pair-approve", map[string]any{
		"challenge_id":       challengeID,
		"biometric_verified": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeBody(t, rec)
	peer := approved["peer"].(map[string]any)
	assert.Equal(t, "initiator-1", peer["peer_id"])
	// the shared secret never leaves the store
	assert.Empty(t, peer["shared_secret"])

	// Signed requests from the initiator now pass the gate.
	secret, err := f.initiatorKey.SharedSecret(responderKey)
	require.NoError(t, err)
	signed := httptest.NewRequest("GET", "/api/ping", nil)
	auth.SignRequest(signed, "initiator-1", secret, time.Now())
	_, err = f.gate.Authenticate(signed)
	assert.NoError(t, err)
}

func TestPairApproveRequiresBiometric(t *testing.T) {
	f := newPeerFixture(t)
	body := f.pairInit(t)

	rec := f.post(t, "pair-approve", map[string]any{
		"challenge_id":       body["challenge_id"],
		"biometric_verified": false,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "biometric_required")

	// the refusal happens before the pending record is consumed, so a
	// properly asserted approval can still follow
	rec = f.post(t, "pair-approve", map[string]any{
		"challenge_id":       body["challenge_id"],
		"biometric_verified": true,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPairApproveInsecureDevice(t *testing.T) {
	f := newPeerFixture(t)
	f.security.secure = false
	body := f.pairInit(t)

	rec := f.post(t, "pair-approve", map[string]any{
		"challenge_id":       body["challenge_id"],
		"biometric_verified": true,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "insecure_device")
}

func TestPairApproveUnknownChallenge(t *testing.T) {
	f := newPeerFixture(t)
	rec := f.post(t, "pair-approve", map[string]any{
		"challenge_id":       "nonexistent",
		"biometric_verified": true,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPairInitAlreadyPaired(t *testing.T) {
	f := newPeerFixture(t)
	body := f.pairInit(t)
	rec := f.post(t, "pair-approve", map[string]any{
		"challenge_id":       body["challenge_id"],
		"biometric_verified": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body = f.pairInit(t)
	assert.Equal(t, "already_paired", body["status"])
	assert.NotEmpty(t, body["public_key"])
}

func TestPairReject(t *testing.T) {
	f := newPeerFixture(t)
	body := f.pairInit(t)

	rec := f.post(t, "pair-reject", map[string]any{"challenge_id": body["challenge_id"]})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.post(t, "pair-approve", map[string]any{
		"challenge_id":       body["challenge_id"],
		"biometric_verified": true,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPairedRequiresAuth(t *testing.T) {
	f := newPeerFixture(t)

	r := httptest.NewRequest("GET", "/api/peer/paired", nil)
	rec := httptest.NewRecorder()
	f.handler.Handle(rec, r, "paired", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	r = httptest.NewRequest("GET", "/api/peer/paired", nil)
	r.Header.Set(auth.HeaderToken, "tok")
	rec = httptest.NewRecorder()
	f.handler.Handle(rec, r, "paired", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRevokeLifecycle(t *testing.T) {
	f := newPeerFixture(t)
	body := f.pairInit(t)
	rec := f.post(t, "pair-approve", map[string]any{
		"challenge_id":       body["challenge_id"],
		"biometric_verified": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// revoke without the biometric assertion is refused
	data, _ := json.Marshal(map[string]any{"peer_id": "initiator-1"})
	r := httptest.NewRequest("POST", "/api/peer/revoke", bytes.NewReader(data))
	r.Header.Set(auth.HeaderToken, "tok")
	rec = httptest.NewRecorder()
	f.handler.Handle(rec, r, "revoke", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	data, _ = json.Marshal(map[string]any{"peer_id": "initiator-1", "biometric_verified": true})
	r = httptest.NewRequest("POST", "/api/peer/revoke", bytes.NewReader(data))
	r.Header.Set(auth.HeaderToken, "tok")
	rec = httptest.NewRecorder()
	f.handler.Handle(rec, r, "revoke", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, f.store.Get("initiator-1"))
}

func TestPeerSendRequiresHMAC(t *testing.T) {
	f := newPeerFixture(t)

	// Even a valid controller token is not enough for the data plane.
	r := httptest.NewRequest("POST", "/api/peer/send?path=/drop.bin", bytes.NewReader([]byte("x")))
	r.Header.Set(auth.HeaderToken, "tok")
	rec := httptest.NewRecorder()
	f.handler.Handle(rec, r, "send", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code) // no peer headers at all
}

func TestPeerSendWritesFile(t *testing.T) {
	f := newPeerFixture(t)
	body := f.pairInit(t)
	rec := f.post(t, "pair-approve", map[string]any{
		"challenge_id":       body["challenge_id"],
		"biometric_verified": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	responderKey, _ := base64.StdEncoding.DecodeString(body["public_key"].(string))
	secret, err := f.initiatorKey.SharedSecret(responderKey)
	require.NoError(t, err)

	r := httptest.NewRequest("POST", "/api/peer/send?path=/incoming/drop.bin",
		bytes.NewReader([]byte("payload bytes")))
	auth.SignRequest(r, "initiator-1", secret, time.Now())
	rec = httptest.NewRecorder()
	f.handler.Handle(rec, r, "send", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(len("payload bytes")), decodeBody(t, rec)["written"])
}

func TestPeerRelayNotImplemented(t *testing.T) {
	f := newPeerFixture(t)
	rec := httptest.NewRecorder()
	f.handler.Handle(rec, httptest.NewRequest("POST", "/api/peer/relay", nil), "relay", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestPeerIdentity(t *testing.T) {
	f := newPeerFixture(t)
	rec := httptest.NewRecorder()
	f.handler.Handle(rec, httptest.NewRequest("GET", "/api/peer/identity", nil), "identity", "")
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["device_id"])
	assert.NotEmpty(t, body["public_key"])
	assert.Equal(t, "android", body["platform"])
}
