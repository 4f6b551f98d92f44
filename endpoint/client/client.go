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

// Package client is the dialing half of the endpoint layer (spec §4): it
// connects a transport's Descriptor, drives the client side of the DSHP
// handshake, and reconnects with backoff across both transient failures
// and the idle drops spec §8 scenario 4 describes.
package client

import (
	"context"
	"io"
	"math/rand"
	"strconv"
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
	ErrHandshakeTimeout = liberr.MinPkgEndpoint + 5
	ErrNoConnect        = liberr.MinPkgEndpoint + 6
	ErrClosed           = liberr.MinPkgEndpoint + 7
)

func init() {
	msg := map[liberr.CodeError]string{
		ErrHandshakeTimeout: "DSHP handshake did not complete before the deadline",
		ErrNoConnect:        "transport has no Ops.Connect, cannot dial",
		ErrClosed:           "client is closed",
	}
	for code, text := range msg {
		c, t := code, text
		liberr.RegisterIdFctMessage(c, func(liberr.CodeError) string { return t })
	}
	liberr.RegisterCategory(ErrHandshakeTimeout, liberr.CategoryTimeout)
	liberr.RegisterCategory(ErrNoConnect, liberr.CategoryConfig)
	liberr.RegisterCategory(ErrClosed, liberr.CategoryInvalidState)
}

// Backoff configures the reconnect delay schedule of spec §8 scenario 4:
// delays grow geometrically from Initial to Max, jittered to avoid a
// thundering herd of clients retrying in lockstep.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func (b Backoff) next(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = 250 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 30 * time.Second
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2
	}

	d := float64(initial)
	for i := 0; i < attempt; i++ {
		d *= mult
		if d >= float64(max) {
			d = float64(max)
			break
		}
	}
	jittered := d * (0.5 + rand.Float64()*0.5)
	return time.Duration(jittered)
}

// Config wires a Client to its transport, worker, and crypto registry.
type Config struct {
	Addr      string
	Local     nodeaddr.Addr
	Transport *transport.Transport
	Worker    *reactor.Worker
	Crypto    *libcrypto.Registry

	MaxBuf size.Size

	EncType uint8
	KEMType uint8

	// Channels is the set of channel ids opened once streaming begins.
	Channels []byte

	HandshakeTimeout time.Duration
	Backoff          Backoff

	// OnSession fires each time a handshake completes (including after a
	// reconnect), handing the application its fresh Stream/Mux pair.
	OnSession func(*stream.Stream, *channel.Mux)

	// OnDisconnect fires when a live session drops, before Run attempts
	// to reconnect.
	OnDisconnect func(err error)

	Log     liblog.Logger
	Metrics *metrics.Collectors
}

// Client dials one remote endpoint and keeps it connected across
// transient failures, per spec §8 scenario 4.
type Client struct {
	cfg Config

	mu     sync.Mutex
	stream *stream.Stream
	mux    *channel.Mux

	closed int32
}

// New builds a Client. Call Run to dial and keep reconnecting until ctx
// is canceled or Close is called.
func New(cfg Config) *Client {
	if cfg.Log == nil {
		cfg.Log = liblog.Nop()
	}
	return &Client{cfg: cfg}
}

// Run dials, completes the DSHP handshake, and blocks until ctx is
// canceled or Close is called. A dropped connection never ends Run:
// there is no option to turn reconnection off, and Backoff fields at
// their zero value retry forever with the package's default schedule.
// Each failed connection triggers OnDisconnect and a fresh Connect
// attempt after a backoff delay.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		if atomic.LoadInt32(&c.closed) != 0 {
			return liberr.New(ErrClosed, "")
		}

		err := c.connectOnce(ctx)
		if err == nil {
			attempt = 0
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if atomic.LoadInt32(&c.closed) != 0 {
			return liberr.New(ErrClosed, "")
		}

		if c.cfg.OnDisconnect != nil {
			c.cfg.OnDisconnect(err)
		}

		delay := c.cfg.Backoff.next(attempt)
		attempt++
		c.cfg.Log.Warn("connection dropped, reconnecting", liblog.Fields{
			"addr": c.cfg.Addr, "attempt": attempt, "delay": delay.String(), "error": err.Error(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// connectOnce dials, handshakes, and then blocks until the descriptor is
// torn down (its OnDelete fires) or ctx is canceled.
func (c *Client) connectOnce(ctx context.Context) error {
	if c.cfg.Transport.Ops.Connect == nil {
		return liberr.New(ErrNoConnect, "")
	}

	d, err := c.cfg.Transport.Ops.Connect(ctx, c.cfg.Addr)
	if err != nil {
		return err
	}

	if err := c.cfg.Worker.Ctx.Add(d); err != nil {
		return err
	}
	workerLabel := strconv.Itoa(c.cfg.Worker.Index)
	c.cfg.Metrics.WorkerLoadSet(workerLabel, c.cfg.Worker.Ctx.DescriptorCount())

	runCtx, cancel := context.WithCancel(ctx)
	dropped := make(chan struct{}, 1)
	prevOnDelete := d.Cb.OnDelete
	d.Cb.OnDelete = func(desc *reactor.Descriptor) {
		cancel()
		c.cfg.Metrics.WorkerLoadSet(workerLabel, c.cfg.Worker.Ctx.DescriptorCount())
		select {
		case dropped <- struct{}{}:
		default:
		}
		if prevOnDelete != nil {
			prevOnDelete(desc)
		}
	}

	if c.cfg.Transport.Ops.Pump != nil {
		go func() {
			_ = c.cfg.Transport.Ops.Pump(runCtx, d)
			c.cfg.Worker.Ctx.Delete(d, false)
		}()
	}

	strm, mux, err := c.handshake(runCtx, d)
	if err != nil {
		cancel()
		if c.cfg.Transport.Ops.Close != nil {
			_ = c.cfg.Transport.Ops.Close(d)
		}
		c.cfg.Worker.Ctx.Delete(d, false)
		return err
	}

	c.mu.Lock()
	c.stream = strm
	c.mux = mux
	c.mu.Unlock()

	c.cfg.Log.Info("session established", liblog.Fields{"addr": c.cfg.Addr})

	if c.cfg.OnSession != nil {
		c.cfg.OnSession(strm, mux)
	}

	select {
	case <-dropped:
		return liberr.New(ErrHandshakeTimeout, "connection dropped")
	case <-ctx.Done():
		cancel()
		return nil
	}
}

// handshake drives the client side of DSHP to completion over d's
// ingress/egress buffers: handshake_request, wait for handshake_response,
// session_create, wait for session_create_response.
func (c *Client) handshake(ctx context.Context, d *reactor.Descriptor) (*stream.Stream, *channel.Mux, error) {
	started := time.Now()
	kem, err := c.cfg.Crypto.KEM(c.cfg.KEMType)
	if err != nil {
		return nil, nil, err
	}

	alicePub, alicePriv, err := kem.GenerateKeypair()
	if err != nil {
		return nil, nil, err
	}

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

	deadline := c.cfg.HandshakeTimeout
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	reqBuf, err := handshake.EncodeRequest(handshake.Request{
		EncType:     c.cfg.EncType,
		KEMType:     c.cfg.KEMType,
		KEMSize:     uint32(len(alicePub)),
		AlicePubKey: alicePub,
	})
	if err != nil {
		return nil, nil, err
	}
	if _, err := d.Egress().Write(reqBuf); err != nil {
		return nil, nil, err
	}

	st, err := waitStep(steps, timer.C, ctx)
	if err != nil {
		return nil, nil, err
	}
	resp, err := handshake.DecodeResponse(st.raw)
	if err != nil {
		return nil, nil, err
	}

	shared, err := kem.Decapsulate(alicePriv, resp.BobPubKey)
	if err != nil {
		return nil, nil, err
	}

	scBuf, err := handshake.EncodeSessionCreate(handshake.SessionCreate{
		Channels:   joinChannels(c.cfg.Channels),
		EncType:    c.cfg.EncType,
		EncKeySize: uint32(len(shared)),
	})
	if err != nil {
		return nil, nil, err
	}
	if _, err := d.Egress().Write(scBuf); err != nil {
		return nil, nil, err
	}

	st, err = waitStep(steps, timer.C, ctx)
	if err != nil {
		return nil, nil, err
	}
	scr, err := handshake.DecodeSessionCreateResponse(st.raw)
	if err != nil {
		return nil, nil, err
	}

	var cipher libcrypto.AEAD
	if c.cfg.EncType != libcrypto.CipherNone {
		cipher, _ = c.cfg.Crypto.Cipher(c.cfg.EncType)
	}

	chSet := make(map[byte]struct{}, len(c.cfg.Channels))
	for _, ch := range c.cfg.Channels {
		chSet[ch] = struct{}{}
	}
	sess := &session.Session{
		ID:         scr.SessionID,
		Key:        shared,
		Channels:   chSet,
		CipherID:   c.cfg.EncType,
		CreateTime: time.Now(),
	}
	sess.SetAttached(true)

	strm := stream.New(d, sess, cipher, c.cfg.Local, nodeaddr.Broadcast)
	m := c.cfg.Metrics
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
	for _, ch := range c.cfg.Channels {
		_, _ = mux.Open(ch, 0)
	}

	d.Cb.OnRead = strm.OnRead

	if m != nil {
		m.HandshakeDuration.Observe(time.Since(started).Seconds())
	}

	return strm, mux, nil
}

// Stream returns the currently active Stream, or nil between a drop and
// the next successful reconnect.
func (c *Client) Stream() *stream.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// Mux returns the currently active channel Mux, or nil between a drop
// and the next successful reconnect.
func (c *Client) Mux() *channel.Mux {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mux
}

// Close marks the client closed; Run returns once its current connect
// attempt (if any) unwinds.
func (c *Client) Close() {
	atomic.StoreInt32(&c.closed, 1)
}

type step struct {
	raw []byte
	err error
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

func joinChannels(channels []byte) string {
	if len(channels) == 0 {
		return ""
	}
	out := make([]byte, 0, len(channels)*2)
	for i, ch := range channels {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, []byte(itoa(ch))...)
	}
	return string(out)
}

func itoa(b byte) string {
	if b == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for b > 0 {
		i--
		buf[i] = '0' + b%10
		b /= 10
	}
	return string(buf[i:])
}
