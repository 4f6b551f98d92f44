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

// Package wsocket is the WebSocket transport (spec §4.6), built on
// gorilla/websocket and optionally TLS-secured via the certificates
// package, preserving message boundaries per frame the way UDP does.
package wsocket

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	libtls "github.com/sabouaram/streamcore/certificates"
	liberr "github.com/sabouaram/streamcore/errors"
	"github.com/sabouaram/streamcore/reactor"
	"github.com/sabouaram/streamcore/size"
	"github.com/sabouaram/streamcore/transport"
)

const Tag uint8 = 0x03

const ErrNotConnected = liberr.MinPkgTransport + 13

func init() {
	liberr.RegisterIdFctMessage(ErrNotConnected, func(liberr.CodeError) string {
		return "descriptor has no live websocket connection"
	})
	liberr.RegisterCategory(ErrNotConnected, liberr.CategoryProtocol)
}

type conn struct {
	ws *websocket.Conn
}

// New builds the WebSocket Transport.
func New(tlsCfg *libtls.Config, maxBuf size.Size) *transport.Transport {
	dialer := websocket.DefaultDialer
	if tlsCfg != nil {
		d := *websocket.DefaultDialer
		t := tlsCfg.New()
		d.TLSClientConfig = t.TlsConfig("")
		dialer = &d
	}

	return &transport.Transport{
		Tag:  Tag,
		Name: "websocket",
		Capabilities: transport.NewCapabilities(
			transport.CapReliable,
			transport.CapOrdered,
			transport.CapPreservesBoundaries,
			transport.CapSupportsObfuscation,
		),
		Ops: transport.Ops{
			Connect: func(ctx context.Context, addr string) (*reactor.Descriptor, error) {
				ws, _, err := dialer.DialContext(ctx, addr, nil)
				if err != nil {
					return nil, err
				}
				desc := reactor.NewDescriptor(reactor.KindOutgoingTCP, maxBuf)
				desc.Remote = addr
				desc.Inheritor = &conn{ws: ws}
				return desc, nil
			},
			Close: func(d *reactor.Descriptor) error {
				if c, ok := d.Inheritor.(*conn); ok && c.ws != nil {
					return c.ws.Close()
				}
				return nil
			},
			Pump: func(ctx context.Context, d *reactor.Descriptor) error {
				return Pump(d)
			},
		},
	}
}

// upgrader is shared across Handler invocations; its buffer sizes match
// the default stream fragment size so a typical channel packet fits one
// WebSocket frame.
var upgrader = websocket.Upgrader{ReadBufferSize: 16 * 1024, WriteBufferSize: 16 * 1024}

// Handler upgrades an incoming HTTP request to a WebSocket connection,
// builds the accepted Descriptor, and hands it to onAccept before
// pumping frames until the peer disconnects.
func Handler(maxBuf size.Size, onAccept func(*reactor.Descriptor)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		desc := reactor.NewDescriptor(reactor.KindAcceptTCP, maxBuf)
		desc.Remote = r.RemoteAddr
		desc.Inheritor = &conn{ws: ws}

		if onAccept != nil {
			onAccept(desc)
		}

		_ = Pump(desc)
	}
}

// Pump reads WebSocket binary frames into the descriptor's ingress
// buffer (one frame per message boundary, spec §4.6
// CapPreservesBoundaries) and flushes the egress buffer as outgoing
// binary frames, until the connection closes.
func Pump(d *reactor.Descriptor) error {
	c, ok := d.Inheritor.(*conn)
	if !ok || c.ws == nil {
		return liberr.New(ErrNotConnected, "")
	}

	done := make(chan error, 1)
	go func() {
		for {
			_, msg, err := c.ws.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			if _, werr := d.Ingress().Write(msg); werr != nil {
				done <- werr
				return
			}
			if d.Cb.OnRead != nil {
				d.Cb.OnRead(d)
			}
		}
	}()

	for {
		select {
		case err := <-done:
			return err
		default:
		}
		if d.EgressLen() == 0 {
			continue
		}
		buf := make([]byte, d.EgressLen())
		if _, err := d.Egress().Read(buf); err != nil {
			return err
		}
		if err := c.ws.WriteMessage(websocket.BinaryMessage, buf); err != nil {
			return err
		}
	}
}
