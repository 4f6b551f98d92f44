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

// Package tcp is the raw-TCP transport (spec §4.6), the reliable,
// ordered, byte-stream-preserving baseline every other transport is
// measured against.
package tcp

import (
	"context"
	"net"
	"sync"

	liberr "github.com/sabouaram/streamcore/errors"
	"github.com/sabouaram/streamcore/reactor"
	"github.com/sabouaram/streamcore/size"
	"github.com/sabouaram/streamcore/transport"
)

// Tag is this transport's wire-registry identifier.
const Tag uint8 = 0x01

const ErrNotListening = liberr.MinPkgTransport + 10

func init() {
	liberr.RegisterIdFctMessage(ErrNotListening, func(liberr.CodeError) string {
		return "descriptor is not a listening TCP socket"
	})
	liberr.RegisterCategory(ErrNotListening, liberr.CategoryProtocol)
}

// conn is stashed in a Descriptor's Inheritor field so Accept/Close can
// reach the underlying net.Conn/net.Listener without the reactor package
// needing to know about either.
type conn struct {
	c net.Conn
	l net.Listener
}

// New builds the raw-TCP Transport and registers it, ready to hand to a
// transport.Registry. maxBuf bounds each accepted Descriptor's ingress
// and egress buffers (spec §7 resource policy).
func New(maxBuf size.Size) *transport.Transport {
	t := &transport.Transport{
		Tag:  Tag,
		Name: "tcp",
		Capabilities: transport.NewCapabilities(
			transport.CapReliable,
			transport.CapOrdered,
		),
	}

	t.Ops = transport.Ops{
		Connect: func(ctx context.Context, addr string) (*reactor.Descriptor, error) {
			var d net.Dialer
			c, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return nil, err
			}
			desc := reactor.NewDescriptor(reactor.KindOutgoingTCP, maxBuf)
			desc.Remote = c.RemoteAddr().String()
			desc.Inheritor = &conn{c: c}
			return desc, nil
		},
		Accept: func(listener *reactor.Descriptor) (*reactor.Descriptor, error) {
			lc, ok := listener.Inheritor.(*conn)
			if !ok || lc.l == nil {
				return nil, liberr.New(ErrNotListening, "")
			}
			c, err := lc.l.Accept()
			if err != nil {
				return nil, err
			}
			desc := reactor.NewDescriptor(reactor.KindAcceptTCP, maxBuf)
			desc.Remote = c.RemoteAddr().String()
			desc.Inheritor = &conn{c: c}
			return desc, nil
		},
		Close: func(d *reactor.Descriptor) error {
			if cn, ok := d.Inheritor.(*conn); ok {
				if cn.c != nil {
					return cn.c.Close()
				}
				if cn.l != nil {
					return cn.l.Close()
				}
			}
			return nil
		},
		Pump: Pump,
	}
	return t
}

// Listen opens a listening socket and returns the KindListenTCP
// Descriptor fronting it; pass the result's Accept loop to Ops.Accept.
func Listen(maxBuf size.Size, addr string) (*reactor.Descriptor, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	desc := reactor.NewDescriptor(reactor.KindListenTCP, maxBuf)
	desc.Remote = l.Addr().String()
	desc.Inheritor = &conn{l: l}
	return desc, nil
}

// Pump copies bytes between a Descriptor's buffers and its underlying
// net.Conn until ctx is canceled or the connection errors. It is the
// bridge a Context's worker loop runs per live TCP descriptor, since the
// reactor package itself never imports net.
func Pump(ctx context.Context, d *reactor.Descriptor) error {
	cn, ok := d.Inheritor.(*conn)
	if !ok || cn.c == nil {
		return liberr.New(ErrNotListening, "descriptor has no live connection")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		buf := make([]byte, 32*1024)
		for {
			n, err := cn.c.Read(buf)
			if n > 0 {
				if _, werr := d.Ingress().Write(buf[:n]); werr != nil {
					errCh <- werr
					return
				}
				if d.Cb.OnRead != nil {
					d.Cb.OnRead(d)
				}
			}
			if err != nil {
				errCh <- err
				return
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}
			if d.EgressLen() == 0 {
				continue
			}
			n, err := d.Egress().WriteTo(cn.c)
			_ = n
			if err != nil {
				errCh <- err
				return
			}
		}
	}()

	err := <-errCh
	wg.Wait()
	return err
}
