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

package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/adbtoolkit/agent/auth"
	"github.com/adbtoolkit/agent/config"
	"github.com/adbtoolkit/agent/internal/logger"
	"github.com/adbtoolkit/agent/internal/metrics"
)

// Resolver maps a client-supplied path into the sandbox, rejecting
// escapes. The files provider supplies one.
type Resolver func(clientPath string) (string, error)

// Server is the bulk transfer listener. Each accepted connection carries
// exactly one operation; a bounded semaphore caps concurrent push/pull
// work while excess connections queue.
type Server struct {
	cfg     *config.TransferConfig
	gate    *auth.Gate
	resolve Resolver
	log     logger.Logger

	ln    net.Listener
	idle  time.Duration
	sem   *semaphore.Weighted
	wg    sync.WaitGroup
	done  chan struct{}
	bytes atomic.Int64
	active atomic.Int64
}

// NewServer creates the transfer service.
func NewServer(cfg *config.TransferConfig, gate *auth.Gate, resolve Resolver, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Server{
		cfg:     cfg,
		gate:    gate,
		resolve: resolve,
		log:     log.WithFields(logger.String("component", "transfer")),
		idle:    cfg.IdleTimeout.Std(),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		done:    make(chan struct{}),
	}
}

// Start binds the listener and accepts in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transfer listen on %s: %w", addr, err)
	}
	s.ln = ln
	s.wg.Add(1)
	go s.acceptLoop()
	s.log.Info("transfer listening", logger.String("addr", ln.Addr().String()))
	return nil
}

// Stop closes the listener, unblocking accept, and waits for in-flight
// transfers up to the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	close(s.done)
	if s.ln != nil {
		s.ln.Close()
	}
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Port returns the bound port.
func (s *Server) Port() int {
	if s.ln == nil {
		return s.cfg.Port
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// BytesTransferred reports total payload bytes moved since start.
func (s *Server) BytesTransferred() int64 { return s.bytes.Load() }

// ActiveTransfers reports transfers currently in flight.
func (s *Server) ActiveTransfers() int64 { return s.active.Load() }

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.log.Warn("accept failed", logger.Error(err))
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) tuneConn(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
		tcp.SetReadBuffer(s.cfg.BufferSize)
		tcp.SetWriteBuffer(s.cfg.BufferSize)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	s.tuneConn(conn)
	conn.SetDeadline(time.Now().Add(s.idle))

	h, err := ReadHeader(conn)
	if err != nil {
		// Malformed or truncated header: nothing sane to answer.
		s.log.Debug("bad header frame", logger.Error(err))
		return
	}

	if err := s.authenticate(conn, h); err != nil {
		s.fail(conn, err.Error())
		return
	}

	target, err := s.resolve(h.Path)
	if err != nil {
		s.fail(conn, "invalid path: "+err.Error())
		return
	}

	// stat is cheap and exempt from the concurrency cap.
	if h.Op == OpStat {
		s.stat(conn, target)
		return
	}

	// Queue behind the transfer cap. The connection deadline bounds how
	// long a queued client waits.
	ctx, cancel := context.WithTimeout(context.Background(), s.idle)
	err = s.sem.Acquire(ctx, 1)
	cancel()
	if err != nil {
		s.fail(conn, "transfer capacity exhausted")
		return
	}
	defer s.sem.Release(1)

	s.active.Add(1)
	metrics.TransfersActive.Inc()
	defer func() {
		s.active.Add(-1)
		metrics.TransfersActive.Dec()
	}()

	switch h.Op {
	case OpPush:
		s.push(conn, h, target)
	case OpPull:
		s.pull(conn, target)
	default:
		s.fail(conn, "unknown op")
	}
}

// authenticate mirrors the HTTP gate: a token satisfies controller auth;
// peer_id+signature+timestamp must carry a valid HMAC over
// "op|path|timestamp".
func (s *Server) authenticate(conn net.Conn, h *Header) error {
	if h.PeerID != "" || h.Signature != "" {
		msg := auth.CanonicalFrame(h.Op, h.Path, h.Timestamp)
		_, err := s.gate.VerifyDetached(h.PeerID, h.Signature, h.Timestamp, msg)
		return err
	}
	_, err := s.gate.VerifyDetachedToken(h.Token, conn.RemoteAddr().String())
	return err
}

func (s *Server) fail(conn net.Conn, msg string) {
	WriteHeader(conn, &Header{Status: StatusError, Error: msg})
}

// push receives exactly h.Size payload bytes into the target file while
// hashing, then checks the client's 32-byte trailer. An all-zero trailer
// means the client did not compute a hash and is accepted.
func (s *Server) push(conn net.Conn, h *Header, target string) {
	if h.Size < 0 {
		s.fail(conn, "negative size")
		return
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		s.fail(conn, "cannot create parent directory")
		return
	}
	f, err := os.Create(target)
	if err != nil {
		s.fail(conn, "cannot open target: "+err.Error())
		return
	}

	digest := sha256.New()
	buf := make([]byte, s.cfg.BufferSize)
	var written int64
	src := io.LimitReader(conn, h.Size)
	for {
		conn.SetReadDeadline(time.Now().Add(s.idle))
		n, rerr := src.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				s.fail(conn, "write failed: "+werr.Error())
				return
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			s.log.Warn("push aborted mid-payload",
				logger.String("path", target), logger.Error(rerr))
			return
		}
	}
	if err := f.Close(); err != nil {
		s.fail(conn, "close failed: "+err.Error())
		return
	}
	if written != h.Size {
		s.fail(conn, "short payload")
		return
	}

	trailer := make([]byte, HashSize)
	conn.SetReadDeadline(time.Now().Add(s.idle))
	if _, err := io.ReadFull(conn, trailer); err != nil {
		s.log.Warn("push missing trailer", logger.Error(err))
		return
	}

	serverHash := digest.Sum(nil)
	status := StatusOK
	if !isZeroHash(trailer) && !hashEqual(trailer, serverHash) {
		status = StatusHashMismatch
		metrics.HashMismatches.Inc()
	}

	s.bytes.Add(written)
	metrics.TransferBytes.WithLabelValues(OpPush).Add(float64(written))
	s.log.Info("push complete",
		logger.String("path", target),
		logger.Int64("bytes", written),
		logger.String("status", status))

	conn.SetWriteDeadline(time.Now().Add(s.idle))
	WriteHeader(conn, &Header{
		Status:  status,
		Written: written,
		Hash:    hex.EncodeToString(serverHash),
	})
}

// pull streams the target file followed by its SHA-256 trailer.
func (s *Server) pull(conn net.Conn, target string) {
	f, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			s.fail(conn, "file not found")
		} else {
			s.fail(conn, "cannot open: "+err.Error())
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		s.fail(conn, "not a regular file")
		return
	}

	conn.SetWriteDeadline(time.Now().Add(s.idle))
	if err := WriteHeader(conn, &Header{Status: StatusOK, Size: info.Size()}); err != nil {
		return
	}

	digest := sha256.New()
	buf := make([]byte, s.cfg.BufferSize)
	var sent int64
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
			conn.SetWriteDeadline(time.Now().Add(s.idle))
			if _, werr := conn.Write(buf[:n]); werr != nil {
				s.log.Warn("pull aborted mid-payload",
					logger.String("path", target), logger.Error(werr))
				return
			}
			sent += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return
		}
	}

	conn.SetWriteDeadline(time.Now().Add(s.idle))
	conn.Write(digest.Sum(nil))

	s.bytes.Add(sent)
	metrics.TransferBytes.WithLabelValues(OpPull).Add(float64(sent))
	s.log.Info("pull complete",
		logger.String("path", target), logger.Int64("bytes", sent))
}

// stat answers a single header frame describing the path, no payload.
func (s *Server) stat(conn net.Conn, target string) {
	info, err := os.Stat(target)
	if err != nil {
		WriteHeader(conn, &Header{Status: StatusOK, Exists: false})
		return
	}
	WriteHeader(conn, &Header{
		Status:     StatusOK,
		Exists:     true,
		Size:       info.Size(),
		Dir:        info.IsDir(),
		ModifiedMs: info.ModTime().UnixMilli(),
	})
}

func hashEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
