package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adbtoolkit/agent/auth"
	"github.com/adbtoolkit/agent/config"
	"github.com/adbtoolkit/agent/crypto"
	"github.com/adbtoolkit/agent/internal/logger"
	"github.com/adbtoolkit/agent/pairing"
)

type peerDirectory struct {
	devices map[string]*pairing.PairedDevice
}

func (d *peerDirectory) Get(id string) *pairing.PairedDevice { return d.devices[id] }
func (d *peerDirectory) TouchSeen(string)                    {}

type fixture struct {
	server *Server
	addr   string
	root   string
	secret []byte
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	root := t.TempDir()

	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i * 3)
	}
	dir := &peerDirectory{devices: map[string]*pairing.PairedDevice{
		"peer-x": {PeerID: "peer-x", SharedSecret: secret, Trusted: true},
	}}
	gate := auth.NewGate(func() string { return token }, dir)
	t.Cleanup(gate.Close)

	cfg := &config.TransferConfig{
		Port:          0,
		MaxConcurrent: 2,
		BufferSize:    64 * 1024,
		IdleTimeout:   config.Duration(10 * time.Second),
	}
	resolve := func(clientPath string) (string, error) {
		return filepath.Join(root, filepath.Clean("/"+clientPath)), nil
	}
	srv := NewServer(cfg, gate, resolve, logger.NewLogger(io.Discard, logger.ErrorLevel))
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	return &fixture{
		server: srv,
		addr:   "127.0.0.1:" + strconv.Itoa(srv.Port()),
		root:   root,
		secret: secret,
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := &Header{Op: OpPush, Path: "/x", Size: 42, Token: "t"}
	require.NoError(t, WriteHeader(&buf, in))
	assert.Equal(t, HeaderSize, buf.Len())

	out, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, in.Op, out.Op)
	assert.Equal(t, in.Path, out.Path)
	assert.Equal(t, in.Size, out.Size)
}

func TestHeaderTooLarge(t *testing.T) {
	var buf bytes.Buffer
	err := WriteHeader(&buf, &Header{Path: string(bytes.Repeat([]byte("a"), 600))})
	assert.ErrorIs(t, err, ErrHeaderTooLarge)
}

func TestReadHeaderMalformed(t *testing.T) {
	frame := make([]byte, HeaderSize)
	copy(frame, "{not json")
	_, err := ReadHeader(bytes.NewReader(frame))
	assert.Error(t, err)

	_, err = ReadHeader(bytes.NewReader(make([]byte, HeaderSize)))
	assert.Error(t, err, "all-NUL header")

	_, err = ReadHeader(bytes.NewReader([]byte("short")))
	assert.Error(t, err)
}

func TestPushPullRoundTrip(t *testing.T) {
	f := newFixture(t, "tok")
	client := NewClient()
	creds := Credentials{Token: "tok"}

	payload := make([]byte, 3*1024*1024+17)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	wantHash := sha256.Sum256(payload)

	resp, err := client.Push(context.Background(), f.addr, "/data/blob.bin",
		bytes.NewReader(payload), int64(len(payload)), creds)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, int64(len(payload)), resp.Written)
	assert.Equal(t, hex.EncodeToString(wantHash[:]), resp.Hash)

	// The bytes really are on disk.
	onDisk, err := os.ReadFile(filepath.Join(f.root, "data", "blob.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, onDisk))

	// Pull it back byte-for-byte.
	var got bytes.Buffer
	resp, err = client.Pull(context.Background(), f.addr, "/data/blob.bin", &got, creds)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, int64(len(payload)), resp.Size)
	assert.Equal(t, hex.EncodeToString(wantHash[:]), resp.Hash)
	assert.True(t, bytes.Equal(payload, got.Bytes()))

	assert.Equal(t, int64(2*len(payload)), f.server.BytesTransferred())
}

func TestPushHashMismatchReported(t *testing.T) {
	f := newFixture(t, "tok")

	conn, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte("correct payload")
	require.NoError(t, WriteHeader(conn, &Header{
		Op: OpPush, Path: "/f.bin", Size: int64(len(payload)), Token: "tok",
	}))
	_, err = conn.Write(payload)
	require.NoError(t, err)

	// wrong trailer
	bad := sha256.Sum256([]byte("different bytes"))
	_, err = conn.Write(bad[:])
	require.NoError(t, err)

	resp, err := ReadHeader(conn)
	require.NoError(t, err)
	assert.Equal(t, StatusHashMismatch, resp.Status)
	assert.Equal(t, int64(len(payload)), resp.Written)
}

func TestPushZeroTrailerAccepted(t *testing.T) {
	f := newFixture(t, "tok")

	conn, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte("unverified payload")
	require.NoError(t, WriteHeader(conn, &Header{
		Op: OpPush, Path: "/u.bin", Size: int64(len(payload)), Token: "tok",
	}))
	conn.Write(payload)
	conn.Write(make([]byte, HashSize)) // all-zero: client did not compute

	resp, err := ReadHeader(conn)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
}

func TestStat(t *testing.T) {
	f := newFixture(t, "tok")
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "present"), []byte("12345"), 0o600))

	client := NewClient()
	creds := Credentials{Token: "tok"}

	resp, err := client.Stat(context.Background(), f.addr, "/present", creds)
	require.NoError(t, err)
	assert.True(t, resp.Exists)
	assert.Equal(t, int64(5), resp.Size)
	assert.False(t, resp.Dir)
	assert.NotZero(t, resp.ModifiedMs)

	resp, err = client.Stat(context.Background(), f.addr, "/absent", creds)
	require.NoError(t, err)
	assert.False(t, resp.Exists)
}

func TestPullMissingFile(t *testing.T) {
	f := newFixture(t, "tok")
	client := NewClient()
	var sink bytes.Buffer
	resp, err := client.Pull(context.Background(), f.addr, "/nope", &sink, Credentials{Token: "tok"})
	require.Error(t, err)
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "not found")
}

func TestTokenRejected(t *testing.T) {
	f := newFixture(t, "tok")
	client := NewClient()
	_, err := client.Stat(context.Background(), f.addr, "/x", Credentials{Token: "wrong"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_token")
}

func TestPeerHMACAuth(t *testing.T) {
	f := newFixture(t, "tok")
	client := NewClient()
	creds := Credentials{PeerID: "peer-x", Secret: f.secret}

	payload := []byte("peer payload")
	resp, err := client.Push(context.Background(), f.addr, "/peer.bin",
		bytes.NewReader(payload), int64(len(payload)), creds)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
}

func TestPeerHMACFullValidation(t *testing.T) {
	// A valid timestamp with a bad signature must be rejected: the
	// signature is verified, not just the timestamp freshness.
	f := newFixture(t, "tok")

	conn, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	defer conn.Close()

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	require.NoError(t, WriteHeader(conn, &Header{
		Op: OpStat, Path: "/x", PeerID: "peer-x",
		Timestamp: ts,
		Signature: crypto.Sign([]byte("wrong secret"), fmt.Sprintf("stat|/x|%s", ts)),
	}))
	resp, err := ReadHeader(conn)
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "hmac_verification_failed")
}

func TestPeerHMACStaleTimestamp(t *testing.T) {
	f := newFixture(t, "tok")

	conn, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	defer conn.Close()

	ts := strconv.FormatInt(time.Now().Add(-10*time.Minute).UnixMilli(), 10)
	require.NoError(t, WriteHeader(conn, &Header{
		Op: OpStat, Path: "/x", PeerID: "peer-x",
		Timestamp: ts,
		Signature: crypto.Sign(f.secret, fmt.Sprintf("stat|/x|%s", ts)),
	}))
	resp, err := ReadHeader(conn)
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "timestamp_expired")
}

func TestUnknownOp(t *testing.T) {
	f := newFixture(t, "tok")
	conn, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, WriteHeader(conn, &Header{Op: "explode", Path: "/x", Token: "tok"}))
	resp, err := ReadHeader(conn)
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)
}

func FuzzReadHeader(f *testing.F) {
	valid := make([]byte, HeaderSize)
	copy(valid, `{"op":"stat","path":"/x"}`)
	f.Add(valid)
	f.Fuzz(func(t *testing.T, frame []byte) {
		// must never panic regardless of frame contents
		ReadHeader(bytes.NewReader(frame))
	})
}
