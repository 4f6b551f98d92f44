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

package cmd

import (
	libtls "github.com/sabouaram/streamcore/certificates"
	libcfg "github.com/sabouaram/streamcore/config"
	liberr "github.com/sabouaram/streamcore/errors"
	"github.com/sabouaram/streamcore/size"
	"github.com/sabouaram/streamcore/transport"
	"github.com/sabouaram/streamcore/transport/dnstunnel"
	"github.com/sabouaram/streamcore/transport/httptunnel"
	"github.com/sabouaram/streamcore/transport/tcp"
	"github.com/sabouaram/streamcore/transport/udp"
	"github.com/sabouaram/streamcore/transport/wsocket"
)

const ErrUnknownTransport = liberr.MinPkgEndpoint + 10

func init() {
	liberr.RegisterIdFctMessage(ErrUnknownTransport, func(liberr.CodeError) string {
		return "settings name an unregistered transport"
	})
	liberr.RegisterCategory(ErrUnknownTransport, liberr.CategoryConfig)
}

const defaultMaxBuf = 4 * size.MiB

// buildTransport resolves s.TransportName to a concrete *transport.Transport,
// the one point the CLI has to know every registered transport's package.
// tlsCfg is nil unless the caller has already built one from
// s.TLSCertFile/TLSKeyFile via the certificates package's own loader;
// http-tunnel and websocket both accept a nil config and fall back to
// their package defaults (plain TLS dial, no client cert).
func buildTransport(s *libcfg.Settings, tlsCfg *libtls.Config) (*transport.Transport, error) {
	switch s.TransportName {
	case "tcp":
		return tcp.New(defaultMaxBuf), nil
	case "udp":
		return udp.New(defaultMaxBuf), nil
	case "http-tunnel":
		return httptunnel.New(tlsCfg, defaultMaxBuf), nil
	case "websocket":
		return wsocket.New(tlsCfg, defaultMaxBuf), nil
	case "dns-tunnel":
		return dnstunnel.New(s.DNSServer, s.DNSZone, defaultMaxBuf), nil
	default:
		return nil, liberr.New(ErrUnknownTransport, s.TransportName)
	}
}
