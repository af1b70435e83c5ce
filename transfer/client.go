package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/adbtoolkit/agent/crypto"
)

// Credentials authenticate one transfer operation. Token auth and peer
// auth are mutually exclusive; peer auth wins when both are set.
type Credentials struct {
	Token  string
	PeerID string
	Secret []byte
}

// Client speaks the transfer frame protocol to a remote agent.
type Client struct {
	BufferSize int
	Timeout    time.Duration
}

// NewClient returns a client with the default buffer size and timeout.
func NewClient() *Client {
	return &Client{BufferSize: 256 * 1024, Timeout: 2 * time.Minute}
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transfer dial %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
		tcp.SetReadBuffer(c.BufferSize)
		tcp.SetWriteBuffer(c.BufferSize)
	}
	conn.SetDeadline(time.Now().Add(c.Timeout))
	return conn, nil
}

func (c *Client) sign(h *Header, creds Credentials) {
	if creds.PeerID != "" {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		h.PeerID = creds.PeerID
		h.Timestamp = ts
		h.Signature = crypto.Sign(creds.Secret,
			fmt.Sprintf("%s|%s|%s", h.Op, h.Path, ts))
		return
	}
	h.Token = creds.Token
}

// Push streams size bytes from src into remotePath on the agent at addr,
// sending the SHA-256 trailer, and returns the server's response header.
func (c *Client) Push(ctx context.Context, addr, remotePath string, src io.Reader, size int64, creds Credentials) (*Header, error) {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	h := &Header{Op: OpPush, Path: remotePath, Size: size}
	c.sign(h, creds)
	if err := WriteHeader(conn, h); err != nil {
		return nil, err
	}

	digest := sha256.New()
	buf := make([]byte, c.BufferSize)
	if _, err := io.CopyBuffer(io.MultiWriter(conn, digest), io.LimitReader(src, size), buf); err != nil {
		return nil, fmt.Errorf("push payload: %w", err)
	}
	if _, err := conn.Write(digest.Sum(nil)); err != nil {
		return nil, fmt.Errorf("push trailer: %w", err)
	}

	resp, err := ReadHeader(conn)
	if err != nil {
		return nil, fmt.Errorf("push response: %w", err)
	}
	if resp.Status == StatusError {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

// Pull streams remotePath from the agent at addr into dst and verifies
// the server's trailer against the received bytes. The returned header
// carries the server-declared size; Hash is set to the locally computed
// digest.
func (c *Client) Pull(ctx context.Context, addr, remotePath string, dst io.Writer, creds Credentials) (*Header, error) {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	h := &Header{Op: OpPull, Path: remotePath}
	c.sign(h, creds)
	if err := WriteHeader(conn, h); err != nil {
		return nil, err
	}

	resp, err := ReadHeader(conn)
	if err != nil {
		return nil, fmt.Errorf("pull response: %w", err)
	}
	if resp.Status == StatusError {
		return resp, errors.New(resp.Error)
	}

	digest := sha256.New()
	buf := make([]byte, c.BufferSize)
	if _, err := io.CopyBuffer(io.MultiWriter(dst, digest), io.LimitReader(conn, resp.Size), buf); err != nil {
		return nil, fmt.Errorf("pull payload: %w", err)
	}

	trailer := make([]byte, HashSize)
	if _, err := io.ReadFull(conn, trailer); err != nil {
		return nil, fmt.Errorf("pull trailer: %w", err)
	}
	local := digest.Sum(nil)
	if !isZeroHash(trailer) && !hashEqual(trailer, local) {
		resp.Status = StatusHashMismatch
	}
	resp.Hash = hex.EncodeToString(local)
	return resp, nil
}

// Stat asks the agent at addr to describe remotePath.
func (c *Client) Stat(ctx context.Context, addr, remotePath string, creds Credentials) (*Header, error) {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	h := &Header{Op: OpStat, Path: remotePath}
	c.sign(h, creds)
	if err := WriteHeader(conn, h); err != nil {
		return nil, err
	}
	resp, err := ReadHeader(conn)
	if err != nil {
		return nil, fmt.Errorf("stat response: %w", err)
	}
	if resp.Status == StatusError {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}
