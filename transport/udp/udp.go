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

// Package udp is the connection-less datagram transport (spec §4.6):
// unreliable, unordered, but preserves message boundaries per
// sendto/recvfrom call, unlike the stream transports.
package udp

import (
	"context"
	"net"

	liberr "github.com/sabouaram/streamcore/errors"
	"github.com/sabouaram/streamcore/reactor"
	"github.com/sabouaram/streamcore/size"
	"github.com/sabouaram/streamcore/transport"
)

const Tag uint8 = 0x04

const ErrNotBound = liberr.MinPkgTransport + 11

func init() {
	liberr.RegisterIdFctMessage(ErrNotBound, func(liberr.CodeError) string {
		return "descriptor has no bound UDP socket"
	})
	liberr.RegisterCategory(ErrNotBound, liberr.CategoryProtocol)
}

type sock struct {
	c *net.UDPConn
}

// New builds the UDP Transport. Capabilities deliberately omit both
// CapReliable and CapOrdered (spec §4.6: UDP transports MAY enforce
// ordering at the transport layer, but this one does not).
func New(maxBuf size.Size) *transport.Transport {
	return &transport.Transport{
		Tag:          Tag,
		Name:         "udp",
		Capabilities: transport.NewCapabilities(transport.CapPreservesBoundaries),
		Ops: transport.Ops{
			Connect: func(ctx context.Context, addr string) (*reactor.Descriptor, error) {
				raddr, err := net.ResolveUDPAddr("udp", addr)
				if err != nil {
					return nil, err
				}
				c, err := net.DialUDP("udp", nil, raddr)
				if err != nil {
					return nil, err
				}
				desc := reactor.NewDescriptor(reactor.KindUDP, maxBuf)
				desc.Remote = raddr.String()
				desc.Inheritor = &sock{c: c}
				return desc, nil
			},
			Close: func(d *reactor.Descriptor) error {
				if s, ok := d.Inheritor.(*sock); ok && s.c != nil {
					return s.c.Close()
				}
				return nil
			},
			Pump: Pump,
		},
	}
}

// maxDatagram bounds one ReadDatagram call inside Pump; larger inbound
// packets are truncated by the kernel before we see them.
const maxDatagram = 64 * 1024

// Pump loops ReadDatagram/WriteDatagram until ctx is canceled or the
// socket errors, giving UDP the same Ops.Pump shape every other
// transport exposes.
func Pump(ctx context.Context, d *reactor.Descriptor) error {
	errCh := make(chan error, 1)
	go func() {
		for {
			if err := ReadDatagram(d, maxDatagram); err != nil {
				errCh <- err
				return
			}
		}
	}()

	for {
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.EgressLen() == 0 {
			continue
		}
		if err := WriteDatagram(d); err != nil {
			return err
		}
	}
}

// Bind opens a local UDP socket (used for both listening and connected
// peer-to-peer exchange, since UDP has no accept()).
func Bind(maxBuf size.Size, laddr string) (*reactor.Descriptor, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	c, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	desc := reactor.NewDescriptor(reactor.KindUDP, maxBuf)
	desc.Remote = c.LocalAddr().String()
	desc.Inheritor = &sock{c: c}
	return desc, nil
}

// ReadDatagram reads one datagram into the descriptor's ingress buffer
// and invokes OnRead. One call corresponds to one message boundary (spec
// §4.6 CapPreservesBoundaries).
func ReadDatagram(d *reactor.Descriptor, maxDatagram int) error {
	s, ok := d.Inheritor.(*sock)
	if !ok || s.c == nil {
		return liberr.New(ErrNotBound, "")
	}
	buf := make([]byte, maxDatagram)
	n, _, err := s.c.ReadFromUDP(buf)
	if err != nil {
		return err
	}
	if _, err := d.Ingress().Write(buf[:n]); err != nil {
		return err
	}
	if d.Cb.OnRead != nil {
		d.Cb.OnRead(d)
	}
	return nil
}

// WriteDatagram flushes the entire egress buffer as one datagram,
// matching UDP's message-boundary-preserving semantics: a fragmented
// stream-layer write must not be split across WriteDatagram calls if the
// peer is to reassemble it (spec §4.6 note on transport semantics).
func WriteDatagram(d *reactor.Descriptor) error {
	s, ok := d.Inheritor.(*sock)
	if !ok || s.c == nil {
		return liberr.New(ErrNotBound, "")
	}
	n := d.EgressLen()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	if _, err := d.Egress().Read(buf); err != nil {
		return err
	}
	_, err := s.c.Write(buf)
	return err
}
