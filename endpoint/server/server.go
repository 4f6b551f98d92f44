/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package server is the listening half of the endpoint layer (spec §4):
// it accepts descriptors off a registered transport, places each on the
// reactor's least-loaded worker, drives the DSHP handshake to
// completion, and hands the resulting Stream/Mux pair to the
// application.
package server

import (
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sabouaram/streamcore/channel"
	libcrypto "github.com/sabouaram/streamcore/crypto"
	liberr "github.com/sabouaram/streamcore/errors"
	"github.com/sabouaram/streamcore/handshake"
	liblog "github.com/sabouaram/streamcore/logger"
	"github.com/sabouaram/streamcore/metrics"
	"github.com/sabouaram/streamcore/nodeaddr"
	"github.com/sabouaram/streamcore/reactor"
	"github.com/sabouaram/streamcore/session"
	"github.com/sabouaram/streamcore/size"
	"github.com/sabouaram/streamcore/stream"
	"github.com/sabouaram/streamcore/transport"
)

const (
	ErrAddrLimitExceeded = liberr.MinPkgEndpoint + 1
	ErrHandshakeTimeout  = liberr.MinPkgEndpoint + 2
	ErrNoPump            = liberr.MinPkgEndpoint + 3
	ErrNoListener        = liberr.MinPkgEndpoint + 4
)

func init() {
	msg := map[liberr.CodeError]string{
		ErrAddrLimitExceeded: "remote address already has the maximum allowed connections",
		ErrHandshakeTimeout:  "DSHP handshake did not complete before the deadline",
		ErrNoPump:            "transport has no Ops.Pump, cannot drive a live descriptor",
		ErrNoListener:        "server has no listening descriptor configured",
	}
	for code, text := range msg {
		c, t := code, text
		liberr.RegisterIdFctMessage(c, func(liberr.CodeError) string { return t })
	}
	liberr.RegisterCategory(ErrAddrLimitExceeded, liberr.CategoryResource)
	liberr.RegisterCategory(ErrHandshakeTimeout, liberr.CategoryTimeout)
	liberr.RegisterCategory(ErrNoPump, liberr.CategoryConfig)
	liberr.RegisterCategory(ErrNoListener, liberr.CategoryConfig)
}

// Config wires a Server to its registered transport, worker pool, and
// session/crypto tables.
type Config struct {
	// Listener is an already-opened listening Descriptor (e.g. from
	// tcp.Listen or udp.Bind); nil if descriptors only ever arrive via
	// HandleAccepted (the push model an http.Handler-based transport uses).
	Listener  *reactor.Descriptor
	Transport *transport.Transport
	Pool      *reactor.Pool
	Sessions  *session.Store
	Crypto    *libcrypto.Registry

	Local nodeaddr.Addr

	MaxBuf size.Size

	// MaxConnPerAddr caps live connections sharing one remote host, 0 means
	// unlimited (spec §7 resource policy, SPEC_FULL §3 supplemented limit).
	MaxConnPerAddr int

	HandshakeTimeout time.Duration

	AcceptancePolicy handshake.AcceptancePolicy

	// OnSession fires once a Stream reaches the streaming state, handing
	// the application its Mux to open channels on.
	OnSession func(*stream.Stream, *channel.Mux)

	// Log receives accept/handshake lifecycle events; nil is valid
	// (logger.Logger's methods are safe on a nil interface only through
	// logger.Nop(), so New below substitutes it when Log is unset).
	Log liblog.Logger

	// Metrics is optional; a nil *metrics.Collectors no-ops every call.
	Metrics *metrics.Collectors
}

// Server accepts connections on one transport/listener pair.
type Server struct {
	cfg Config

	mu          sync.Mutex
	connsByAddr map[string]int

	draining int32
	wg       sync.WaitGroup
}

// New builds a Server from cfg. Call Start to begin accepting.
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = liblog.Nop()
	}
	return &Server{cfg: cfg, connsByAddr: make(map[string]int)}
}

// Start launches the accept loop on its own goroutine when the server
// has a polling Listener/Accept pair; transports that push accepted
// descriptors instead (an http.Handler's onAccept) should call
// HandleAccepted directly and never call Start.
func (s *Server) Start() error {
	if s.cfg.Listener == nil || s.cfg.Transport.Ops.Accept == nil {
		return liberr.New(ErrNoListener, "")
	}
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	for atomic.LoadInt32(&s.draining) == 0 {
		d, err := s.cfg.Transport.Ops.Accept(s.cfg.Listener)
		if err != nil {
			if atomic.LoadInt32(&s.draining) != 0 {
				return
			}
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.HandleAccepted(d)
		}()
	}
}

// HandleAccepted runs the full accept path for one freshly accepted
// Descriptor: per-address admission control, worker placement, the DSHP
// handshake, and Stream/Mux construction. Transports that hand
// descriptors to the application via a callback (http-tunnel, websocket)
// call this directly instead of going through Start's poll loop.
func (s *Server) HandleAccepted(d *reactor.Descriptor) error {
	host := hostOf(d.Remote)

	if s.cfg.MaxConnPerAddr > 0 {
		s.mu.Lock()
		if s.connsByAddr[host] >= s.cfg.MaxConnPerAddr {
			s.mu.Unlock()
			s.closeQuiet(d)
			s.cfg.Log.Warn("rejected accept over per-address connection limit", liblog.Fields{"remote": host})
			return liberr.New(ErrAddrLimitExceeded, host)
		}
		s.connsByAddr[host]++
		s.mu.Unlock()
	}

	release := func() {
		if s.cfg.MaxConnPerAddr > 0 {
			s.mu.Lock()
			s.connsByAddr[host]--
			s.mu.Unlock()
		}
	}

	w := s.cfg.Pool.LeastLoaded()
	if w == nil {
		release()
		return liberr.New(ErrNoListener, "worker pool is empty")
	}
	if err := w.Ctx.Add(d); err != nil {
		release()
		return err
	}
	workerLabel := strconv.Itoa(w.Index)
	s.cfg.Metrics.WorkerLoadSet(workerLabel, w.Ctx.DescriptorCount())

	ctx, cancel := context.WithCancel(context.Background())
	prevOnDelete := d.Cb.OnDelete
	d.Cb.OnDelete = func(desc *reactor.Descriptor) {
		release()
		cancel()
		s.cfg.Metrics.WorkerLoadSet(workerLabel, w.Ctx.DescriptorCount())
		if prevOnDelete != nil {
			prevOnDelete(desc)
		}
	}

	if s.cfg.Transport.Ops.Pump != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.cfg.Transport.Ops.Pump(ctx, d)
		}()
	}

	if err := s.runHandshake(ctx, d); err != nil {
		if s.cfg.Transport.Ops.Close != nil {
			_ = s.cfg.Transport.Ops.Close(d)
		}
		w.Ctx.Delete(d, false)
		s.cfg.Log.Warn("handshake failed, descriptor closed", liblog.Fields{"remote": host, "error": err.Error()})
		s.cfg.Metrics.HandshakeFailed()
		return err
	}
	s.cfg.Log.Info("session established", liblog.Fields{"remote": host, "worker": w.Index})
	return nil
}

// runHandshake drives the server-side DSHP state machine to completion
// over d's ingress/egress buffers, then installs the Stream/Mux pair as
// d's steady-state read handler.
func (s *Server) runHandshake(ctx context.Context, d *reactor.Descriptor) error {
	started := time.Now()
	hs := handshake.NewServer(s.cfg.Crypto, s.cfg.AcceptancePolicy)

	steps := make(chan step, 4)

	d.Cb.OnRead = func(d *reactor.Descriptor) {
		raw, err := io.ReadAll(d.Ingress())
		if err != nil {
			steps <- step{err: err}
			return
		}
		if len(raw) == 0 {
			return
		}
		steps <- step{raw: raw}
	}

	deadline := s.cfg.HandshakeTimeout
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var sessID uint32
	var encType uint8

	// Step 1: handshake_request.
	st, err := waitStep(steps, timer.C, ctx)
	if err != nil {
		return err
	}
	id, err := s.cfg.Sessions.Reserve()
	if err != nil {
		return err
	}
	sessID = id

	resp, err := hs.HandleRequest(st.raw, sessID)
	if len(resp) > 0 {
		_, _ = d.Egress().Write(resp)
	}
	if err != nil {
		return err
	}
	encType = hs.EncType

	// Step 2: session_create.
	st, err = waitStep(steps, timer.C, ctx)
	if err != nil {
		return err
	}
	scr, err := hs.HandleSessionCreate(st.raw)
	if len(scr) > 0 {
		_, _ = d.Egress().Write(scr)
	}
	if err != nil {
		return err
	}

	channels := parseChannels(hs.Channels)
	sess := s.cfg.Sessions.Commit(sessID, encType, channels, hs.Key)

	var cipher libcrypto.AEAD
	if encType != libcrypto.CipherNone {
		cipher, _ = s.cfg.Crypto.Cipher(encType)
	}

	strm := stream.New(d, sess, cipher, s.cfg.Local, nodeaddr.Broadcast)
	m := s.cfg.Metrics
	strm.OnDecryptFailure = func() {
		if m != nil {
			m.DecryptFailures.Inc()
		}
	}
	strm.OnBytesRead = func(n int) {
		if m != nil {
			m.BytesRead.Add(float64(n))
		}
	}
	strm.OnBytesWritten = func(n int) {
		if m != nil {
			m.BytesWritten.Add(float64(n))
		}
	}
	mux := channel.NewMux(strm)
	for _, ch := range channels {
		_, _ = mux.Open(ch, 0)
	}

	d.Cb.OnRead = strm.OnRead

	if m != nil {
		m.HandshakeDuration.Observe(time.Since(started).Seconds())
	}
	if s.cfg.OnSession != nil {
		s.cfg.OnSession(strm, mux)
	}
	return nil
}

func waitStep(steps <-chan step, timeout <-chan time.Time, ctx context.Context) (step, error) {
	select {
	case st := <-steps:
		return st, st.err
	case <-timeout:
		return step{}, liberr.New(ErrHandshakeTimeout, "")
	case <-ctx.Done():
		return step{}, ctx.Err()
	}
}

type step struct {
	raw []byte
	err error
}

func (s *Server) closeQuiet(d *reactor.Descriptor) {
	if s.cfg.Transport.Ops.Close != nil {
		_ = s.cfg.Transport.Ops.Close(d)
	}
}

// Drain stops accepting new connections and waits for in-flight
// connections to finish (their descriptors to be deleted) or for ctx to
// expire, whichever comes first (SPEC_FULL §3 supplemented graceful
// shutdown).
func (s *Server) Drain(ctx context.Context) error {
	atomic.StoreInt32(&s.draining, 1)
	if s.cfg.Listener != nil && s.cfg.Transport.Ops.Close != nil {
		_ = s.cfg.Transport.Ops.Close(s.cfg.Listener)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func hostOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func parseChannels(s string) []byte {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]byte, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			continue
		}
		out = append(out, byte(n))
	}
	return out
}
