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

// Package transport implements the pluggable named-transport layer of
// spec §4.6: a process-wide registry of wire implementations (raw TCP,
// HTTP-tunnel, WebSocket, UDP, DNS-tunnel), each declaring a capability
// bitset, with an optional obfuscation engine chained above write/read.
package transport

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/sabouaram/streamcore/reactor"

	liberr "github.com/sabouaram/streamcore/errors"
)

const (
	ErrDuplicateTag  = liberr.MinPkgTransport + 1
	ErrUnknownTag    = liberr.MinPkgTransport + 2
	ErrNoObfuscation = liberr.MinPkgTransport + 3
)

func init() {
	msg := map[liberr.CodeError]string{
		ErrDuplicateTag:  "transport tag already registered",
		ErrUnknownTag:    "no transport registered under this tag",
		ErrNoObfuscation: "transport has no obfuscation engine attached",
	}
	for code, text := range msg {
		c, t := code, text
		liberr.RegisterIdFctMessage(c, func(liberr.CodeError) string { return t })
		liberr.RegisterCategory(c, liberr.CategoryProtocol)
	}
}

// Capability bits, one per Test()-able bit of a Transport's bitset (spec
// §4.6: "reliable, ordered, preserves-message-boundaries,
// supports-obfuscation").
const (
	CapReliable uint = iota
	CapOrdered
	CapPreservesBoundaries
	CapSupportsObfuscation
)

// NewCapabilities builds a capability bitset from the given bits.
func NewCapabilities(bits ...uint) *bitset.BitSet {
	b := bitset.New(4)
	for _, bit := range bits {
		b.Set(bit)
	}
	return b
}

// Ops is the wire-level operation table every transport implements (spec
// §4.6). accept is only meaningful for connection-oriented, listening
// transports; connection-less ones (UDP) leave it nil.
type Ops struct {
	Init    func() error
	Deinit  func() error
	Connect func(ctx context.Context, addr string) (*reactor.Descriptor, error)
	Accept  func(listener *reactor.Descriptor) (*reactor.Descriptor, error)
	Close   func(d *reactor.Descriptor) error

	// Pump bridges a live Descriptor's ingress/egress buffers with this
	// transport's underlying wire until the peer disconnects or ctx is
	// canceled. Endpoint code runs it on its own goroutine per accepted or
	// connected Descriptor, so every transport can be driven uniformly
	// regardless of what it stashed in Descriptor.Inheritor.
	Pump func(ctx context.Context, d *reactor.Descriptor) error
}

// ObfuscationEngine is the opaque apply/remove transform spec §4.6
// chains above a transport's raw write/read. Obfuscation may change
// byte-count in either direction; callers must treat returned sizes as
// opaque.
type ObfuscationEngine interface {
	Apply(plain []byte) (obfuscated []byte, err error)
	Remove(obfuscated []byte) (plain []byte, err error)
}

// Transport is one registered wire implementation (spec §4.6 Transport
// type): a tag, a name, a capability set, its Ops table, and an optional
// obfuscation engine.
type Transport struct {
	Tag          uint8
	Name         string
	Capabilities *bitset.BitSet
	Ops          Ops
	Obfuscation  ObfuscationEngine

	// Inheritor is an application-defined back-pointer, left opaque like
	// every other Inheritor field in this module.
	Inheritor any
}

// HasCapability reports whether bit is set on this transport's bitset.
func (t *Transport) HasCapability(bit uint) bool {
	if t.Capabilities == nil {
		return false
	}
	return t.Capabilities.Test(bit)
}

// WriteObfuscated applies the transport's obfuscation engine (if any)
// before handing buf to w, per spec §4.6's write_obfuscated. w is
// typically a descriptor's egress buffer Write.
func (t *Transport) WriteObfuscated(w func([]byte) (int, error), buf []byte) (int, error) {
	if t.Obfuscation == nil {
		return w(buf)
	}
	obf, err := t.Obfuscation.Apply(buf)
	if err != nil {
		return 0, err
	}
	if _, err := w(obf); err != nil {
		return 0, err
	}
	// Spec §4.6: on success, report the caller's original request size,
	// not the (possibly larger or smaller) obfuscated size.
	return len(buf), nil
}

// ReadDeobfuscated reverses WriteObfuscated: raw is the freshly read,
// still-obfuscated bytes; the return value is the recovered plaintext.
func (t *Transport) ReadDeobfuscated(raw []byte) ([]byte, error) {
	if t.Obfuscation == nil {
		return raw, nil
	}
	return t.Obfuscation.Remove(raw)
}

// Registry is the process-wide, tag-keyed set of registered transports
// (spec §4.6: "rejects duplicate tags", read-only after startup per spec
// §7's locking discipline rule 1).
type Registry struct {
	mu    sync.RWMutex
	byTag map[uint8]*Transport
	byName map[string]*Transport
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byTag:  make(map[uint8]*Transport),
		byName: make(map[string]*Transport),
	}
}

// Register adds t under its tag, calling t.Ops.Init if set. A second
// registration under the same tag is rejected and the first
// registration remains (spec §8 invariant).
func (r *Registry) Register(t *Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byTag[t.Tag]; ok {
		return liberr.New(ErrDuplicateTag, t.Name)
	}
	if t.Ops.Init != nil {
		if err := t.Ops.Init(); err != nil {
			return err
		}
	}
	r.byTag[t.Tag] = t
	r.byName[t.Name] = t
	return nil
}

// ByTag returns the transport registered under tag.
func (r *Registry) ByTag(tag uint8) (*Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byTag[tag]
	if !ok {
		return nil, liberr.New(ErrUnknownTag, "")
	}
	return t, nil
}

// ByName returns the transport registered under name.
func (r *Registry) ByName(name string) (*Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	if !ok {
		return nil, liberr.New(ErrUnknownTag, name)
	}
	return t, nil
}

// Names returns every registered transport's name. Order is unspecified.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

// Deinit calls Ops.Deinit on every registered transport, ignoring (but
// collecting) individual errors so one misbehaving transport does not
// block shutdown of the others.
func (r *Registry) Deinit() []error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, t := range r.byTag {
		if t.Ops.Deinit == nil {
			continue
		}
		if err := t.Ops.Deinit(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
