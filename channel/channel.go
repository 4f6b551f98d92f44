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

// Package channel implements the per-stream multiplexing layer of spec
// §3: up to 256 channels per Stream, each with its own outbound queue,
// byte/packet counters, and ordered notifier chains.
package channel

import (
	"sync"

	liberr "github.com/sabouaram/streamcore/errors"
	"github.com/sabouaram/streamcore/intrusive"
	"github.com/sabouaram/streamcore/stream"
)

const (
	ErrUnknownChannel = liberr.MinPkgChannel + 1
	ErrAlreadyBound   = liberr.MinPkgChannel + 2
)

func init() {
	msg := map[liberr.CodeError]string{
		ErrUnknownChannel: "channel id is not bound on this stream",
		ErrAlreadyBound:   "channel id is already bound on this stream",
	}
	for code, text := range msg {
		c, t := code, text
		liberr.RegisterIdFctMessage(c, func(liberr.CodeError) string { return t })
		liberr.RegisterCategory(c, liberr.CategoryInvalidState)
	}
}

// outboundFrame is the intrusive.List element type for a channel's
// pending-write queue.
type outboundFrame struct {
	packetType uint8
	encType    uint8
	payload    []byte
}

// Stat holds per-channel counters, including the PacketsByType breakdown
// supplemented from the original C implementation's packet accounting.
type Stat struct {
	mu            sync.Mutex
	BytesRead     uint64
	BytesWrite    uint64
	PacketsByType map[uint8]uint64
}

func newStat() *Stat {
	return &Stat{PacketsByType: make(map[uint8]uint64)}
}

func (s *Stat) recordRead(typ uint8, n int) {
	s.mu.Lock()
	s.BytesRead += uint64(n)
	s.PacketsByType[typ]++
	s.mu.Unlock()
}

func (s *Stat) recordWrite(typ uint8, n int) {
	s.mu.Lock()
	s.BytesWrite += uint64(n)
	s.PacketsByType[typ]++
	s.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the counters.
func (s *Stat) Snapshot() Stat {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[uint8]uint64, len(s.PacketsByType))
	for k, v := range s.PacketsByType {
		cp[k] = v
	}
	return Stat{BytesRead: s.BytesRead, BytesWrite: s.BytesWrite, PacketsByType: cp}
}

// InNotifier is invoked for every payload arriving on a channel, in the
// order frames were received (spec §8 invariant: in-notifier calls occur
// in send order).
type InNotifier func(payload []byte)

// OutNotifier is invoked after a payload has been queued for write.
type OutNotifier func(payload []byte)

// Channel is one multiplexed lane of a Stream (spec §3 Channel).
type Channel struct {
	ID   byte
	Type uint8

	Stat *Stat

	queueMu sync.Mutex
	queue   *intrusive.List[outboundFrame]

	notifyMu     sync.Mutex
	inNotifiers  []InNotifier
	outNotifiers []OutNotifier

	// Inheritor is an application-defined back-pointer, opaque so this
	// package never depends on its callers.
	Inheritor any
}

func newChannel(id byte, typ uint8) *Channel {
	return &Channel{
		ID:    id,
		Type:  typ,
		Stat:  newStat(),
		queue: intrusive.New[outboundFrame](),
	}
}

// OnIn registers a notifier invoked for inbound payloads. Registration
// order is call order: OnIn is append-only so replaying already attached
// notifiers in send order (spec §8) needs no separate bookkeeping.
func (c *Channel) OnIn(fn InNotifier) {
	c.notifyMu.Lock()
	c.inNotifiers = append(c.inNotifiers, fn)
	c.notifyMu.Unlock()
}

// OnOut registers a notifier invoked after payloads are queued for write.
func (c *Channel) OnOut(fn OutNotifier) {
	c.notifyMu.Lock()
	c.outNotifiers = append(c.outNotifiers, fn)
	c.notifyMu.Unlock()
}

func (c *Channel) dispatchIn(payload []byte) {
	c.notifyMu.Lock()
	notifiers := append([]InNotifier(nil), c.inNotifiers...)
	c.notifyMu.Unlock()
	for _, fn := range notifiers {
		fn(payload)
	}
}

func (c *Channel) dispatchOut(payload []byte) {
	c.notifyMu.Lock()
	notifiers := append([]OutNotifier(nil), c.outNotifiers...)
	c.notifyMu.Unlock()
	for _, fn := range notifiers {
		fn(payload)
	}
}

// enqueue pushes a pending outbound frame, returning its queue depth.
func (c *Channel) enqueue(f outboundFrame) int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	c.queue.PushBack(f)
	return c.queue.Len()
}

// drain pops every queued outbound frame in FIFO order.
func (c *Channel) drain() []outboundFrame {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	out := make([]outboundFrame, 0, c.queue.Len())
	for {
		f, ok := c.queue.PopFront()
		if !ok {
			break
		}
		out = append(out, f)
	}
	return out
}

// Mux binds up to stream.MaxChannels Channels onto one Stream, wiring
// stream.Stream.Dispatch into per-channel in-notifiers and exposing
// Write as the per-channel half of the stream write path.
type Mux struct {
	s *stream.Stream

	mu       sync.RWMutex
	channels [stream.MaxChannels]*Channel
}

// NewMux creates a Mux and wires it as s's frame dispatcher. A Stream may
// have at most one Mux at a time.
func NewMux(s *stream.Stream) *Mux {
	m := &Mux{s: s}
	s.Dispatch = m.dispatch
	return m
}

// Open binds a fresh Channel at id. Returns ErrAlreadyBound if id is
// already in use.
func (m *Mux) Open(id byte, typ uint8) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channels[id] != nil {
		return nil, liberr.New(ErrAlreadyBound, "")
	}
	ch := newChannel(id, typ)
	m.channels[id] = ch
	return ch, nil
}

// Close unbinds the channel at id, if any.
func (m *Mux) Close(id byte) {
	m.mu.Lock()
	m.channels[id] = nil
	m.mu.Unlock()
}

// Find returns the channel bound at id, or ErrUnknownChannel.
func (m *Mux) Find(id byte) (*Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch := m.channels[id]
	if ch == nil {
		return nil, liberr.New(ErrUnknownChannel, "")
	}
	return ch, nil
}

// Write queues payload for write on the given channel and immediately
// flushes it onto the underlying Stream (spec §4.5 write path, fed
// through the per-channel queue so a future priority scheduler can
// reorder before flush without touching this call site).
func (m *Mux) Write(id byte, packetType uint8, encType uint8, payload []byte) error {
	ch, err := m.Find(id)
	if err != nil {
		return err
	}

	ch.enqueue(outboundFrame{packetType: packetType, encType: encType, payload: payload})
	for _, f := range ch.drain() {
		if werr := m.s.Write(id, f.packetType, f.encType, f.payload); werr != nil {
			return werr
		}
		ch.Stat.recordWrite(f.packetType, len(f.payload))
		ch.dispatchOut(f.payload)
	}
	return nil
}

// dispatch is wired as the Stream's FrameDispatcher: it looks up the
// target channel, updates its stats, and invokes its in-notifiers in
// arrival order.
func (m *Mux) dispatch(h stream.ChannelHeader, payload []byte) {
	ch, err := m.Find(h.ID)
	if err != nil {
		return
	}
	ch.Stat.recordRead(h.Type, len(payload))
	ch.dispatchIn(payload)
}
