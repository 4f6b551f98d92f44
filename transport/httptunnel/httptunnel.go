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

// Package httptunnel carries stream bytes inside chunked HTTP POST
// bodies (spec §4.6): one long-lived request for the client-to-server
// direction, one long-lived response body for server-to-client, both
// over a TLS connection configured by the certificates package.
package httptunnel

import (
	"context"
	"io"
	"net/http"

	libtls "github.com/sabouaram/streamcore/certificates"
	liberr "github.com/sabouaram/streamcore/errors"
	"github.com/sabouaram/streamcore/reactor"
	"github.com/sabouaram/streamcore/size"
	"github.com/sabouaram/streamcore/transport"
)

const Tag uint8 = 0x02

const ErrNotTunneled = liberr.MinPkgTransport + 12

func init() {
	liberr.RegisterIdFctMessage(ErrNotTunneled, func(liberr.CodeError) string {
		return "descriptor has no live HTTP tunnel body"
	})
	liberr.RegisterCategory(ErrNotTunneled, liberr.CategoryProtocol)
}

// tunnel pairs the client-to-server request body writer with the
// server-to-client response body reader (or the server-side mirror of
// both, for the accept path).
type tunnel struct {
	body io.ReadCloser
	pipe io.WriteCloser
}

func (t *tunnel) Close() error {
	var err error
	if t.body != nil {
		err = t.body.Close()
	}
	if t.pipe != nil {
		if e := t.pipe.Close(); err == nil {
			err = e
		}
	}
	return err
}

// New builds the HTTP-tunnel Transport, reliable and ordered like the
// raw TCP it rides on top of, but without message-boundary preservation
// (the chunked body is one continuous stream).
func New(tlsCfg *libtls.Config, maxBuf size.Size) *transport.Transport {
	return &transport.Transport{
		Tag:  Tag,
		Name: "http-tunnel",
		Capabilities: transport.NewCapabilities(
			transport.CapReliable,
			transport.CapOrdered,
			transport.CapSupportsObfuscation,
		),
		Ops: transport.Ops{
			Connect: func(ctx context.Context, addr string) (*reactor.Descriptor, error) {
				pr, pw := io.Pipe()
				client := &http.Client{}
				if tlsCfg != nil {
					t := tlsCfg.New()
					client.Transport = &http.Transport{TLSClientConfig: t.TlsConfig(addr)}
				}

				req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+addr+"/tunnel", pr)
				if err != nil {
					pw.Close()
					return nil, err
				}

				resp, err := client.Do(req)
				if err != nil {
					pw.Close()
					return nil, err
				}

				desc := reactor.NewDescriptor(reactor.KindOutgoingTCP, maxBuf)
				desc.Remote = addr
				desc.Inheritor = &tunnel{body: resp.Body, pipe: pw}
				return desc, nil
			},
			Close: func(d *reactor.Descriptor) error {
				if t, ok := d.Inheritor.(*tunnel); ok {
					return t.Close()
				}
				return nil
			},
			Pump: Pump,
		},
	}
}

// Pump bridges a client-side tunnel's response body into the
// descriptor's ingress buffer and the descriptor's egress buffer into
// the request body pipe, until ctx is canceled or either side closes.
func Pump(ctx context.Context, d *reactor.Descriptor) error {
	t, ok := d.Inheritor.(*tunnel)
	if !ok || t.body == nil || t.pipe == nil {
		return liberr.New(ErrNotTunneled, "")
	}

	errCh := make(chan error, 2)
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := t.body.Read(buf)
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
		}
	}()
	go func() {
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
			if _, err := d.Egress().WriteTo(t.pipe); err != nil {
				errCh <- err
				return
			}
		}
	}()

	return <-errCh
}

// Handler returns an http.HandlerFunc that accepts the server side of a
// tunnel: it creates a fresh Descriptor, wires req.Body as the ingress
// source and the response writer as the egress sink, and hands the
// Descriptor to onAccept before blocking until the client disconnects.
func Handler(maxBuf size.Size, onAccept func(*reactor.Descriptor)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)

		desc := reactor.NewDescriptor(reactor.KindAcceptTCP, maxBuf)
		desc.Remote = r.RemoteAddr
		desc.Inheritor = &tunnel{body: r.Body}

		if onAccept != nil {
			onAccept(desc)
		}

		buf := make([]byte, 32*1024)
		for {
			n, err := r.Body.Read(buf)
			if n > 0 {
				if _, werr := desc.Ingress().Write(buf[:n]); werr != nil {
					return
				}
				if desc.Cb.OnRead != nil {
					desc.Cb.OnRead(desc)
				}
			}
			if desc.EgressLen() > 0 {
				if _, werr := desc.Egress().WriteTo(w); werr == nil && flusher != nil {
					flusher.Flush()
				}
			}
			if err != nil {
				return
			}
		}
	}
}
