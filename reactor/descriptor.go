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

// Package reactor implements the multi-threaded event loop described in
// spec §4.1: one Context per OS thread, owning descriptors, timers, and
// cross-thread queues, with safe concurrent attach/detach across workers.
package reactor

import (
	"bytes"
	"sync/atomic"
	"time"

	"github.com/sabouaram/streamcore/ioutils/bufferReadCloser"
	"github.com/sabouaram/streamcore/size"
)

// Kind tags a Descriptor's role (spec §3 Descriptor).
type Kind uint8

const (
	KindListenTCP Kind = iota
	KindAcceptTCP
	KindOutgoingTCP
	KindUDP
	KindPipe
	KindEvent
	KindQueue
	KindTimer
	KindUserFile
)

func (k Kind) String() string {
	switch k {
	case KindListenTCP:
		return "listen-tcp"
	case KindAcceptTCP:
		return "accept-tcp"
	case KindOutgoingTCP:
		return "outgoing-tcp"
	case KindUDP:
		return "udp"
	case KindPipe:
		return "pipe"
	case KindEvent:
		return "event"
	case KindQueue:
		return "queue"
	case KindTimer:
		return "timer"
	case KindUserFile:
		return "user-file"
	default:
		return "unknown"
	}
}

// Flags holds the readiness/lifecycle bits of spec §3. It is only ever
// mutated by the owning Context's thread, except through queued messages
// the Context drains itself.
type Flags struct {
	WantRead     bool
	WantWrite    bool
	Connecting   bool
	ClosePending bool
	InContext    bool
}

// Callbacks is the protocol-handler table spec §9 maps from the source's
// type-erased callback table: one method per lifecycle event. Transports
// and the stream layer implement the entries they need; nil entries are
// skipped.
type Callbacks struct {
	OnNew       func(d *Descriptor)
	OnRead      func(d *Descriptor)
	OnWrite     func(d *Descriptor)
	OnAccept    func(d *Descriptor, accepted *Descriptor)
	OnConnected func(d *Descriptor)
	OnError     func(d *Descriptor, err error)
	OnDelete    func(d *Descriptor)
}

var nextDescriptorID uint64

// Descriptor wraps one OS handle with buffers, flags, and callbacks
// (spec §3). It is owned by at most one Context at a time.
type Descriptor struct {
	ID     uint64
	Kind   Kind
	Remote string

	// Fd is the raw OS handle backing this descriptor, if any (unset for
	// queue/timer/event descriptors, which have no poll-able fd).
	Fd int

	Flags Flags
	Cb    Callbacks

	ingressRaw *bytes.Buffer
	egressRaw  *bytes.Buffer
	ingress    bufferReadCloser.Buffer
	egress     bufferReadCloser.Buffer
	maxBuf     size.Size

	ctx *Context

	// Server/Stream back-pointers and an application-defined inheritor are
	// declared as `any` because the reactor package must not import the
	// endpoint or stream packages (they import reactor).
	Server    any
	Stream    any
	Inheritor any

	lastActiveNano int64
}

// NewDescriptor allocates a Descriptor with empty ingress/egress buffers
// capped at maxBuf bytes. The id is process-unique and stable for the
// descriptor's lifetime.
func NewDescriptor(kind Kind, maxBuf size.Size) *Descriptor {
	ingressRaw := &bytes.Buffer{}
	egressRaw := &bytes.Buffer{}
	d := &Descriptor{
		ID:         atomic.AddUint64(&nextDescriptorID, 1),
		Kind:       kind,
		ingressRaw: ingressRaw,
		egressRaw:  egressRaw,
		ingress:    bufferReadCloser.New(ingressRaw),
		egress:     bufferReadCloser.New(egressRaw),
		maxBuf:     maxBuf,
	}
	d.atomicTouch()
	return d
}

// Ingress returns the descriptor's read-side buffer. Only the owning
// Context's thread may call this.
func (d *Descriptor) Ingress() bufferReadCloser.Buffer {
	return d.ingress
}

// Egress returns the descriptor's write-side buffer. Only the owning
// Context's thread may call this.
func (d *Descriptor) Egress() bufferReadCloser.Buffer {
	return d.egress
}

// EgressLen reports how many bytes are queued for write.
func (d *Descriptor) EgressLen() int {
	return d.egressRaw.Len()
}

// OverCap reports whether either buffer has grown past the per-descriptor
// cap; callers treat this as a resource-error (spec §7).
func (d *Descriptor) OverCap() bool {
	if d.maxBuf <= 0 {
		return false
	}
	return d.ingressRaw.Len() > d.maxBuf.Int() || d.egressRaw.Len() > d.maxBuf.Int()
}

// Context returns the Context currently owning this descriptor, or nil.
func (d *Descriptor) Context() *Context {
	return d.ctx
}

// LastActive returns the last time this descriptor saw ingress activity,
// used by the aging scan (spec §4.1 step 5).
func (d *Descriptor) LastActive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&d.lastActiveNano))
}

func (d *Descriptor) atomicTouch() {
	atomic.StoreInt64(&d.lastActiveNano, time.Now().UnixNano())
}
