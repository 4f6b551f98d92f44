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

// Package dnstunnel carries stream bytes as base32-encoded labels inside
// TXT queries and responses (spec §4.6), the slowest and least reliable
// of the registered transports but the one most likely to cross a
// captive, DNS-only egress path.
package dnstunnel

import (
	"context"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	liberr "github.com/sabouaram/streamcore/errors"
	"github.com/sabouaram/streamcore/reactor"
	"github.com/sabouaram/streamcore/size"
	"github.com/sabouaram/streamcore/transport"
)

const Tag uint8 = 0x05

const (
	ErrNoAnswer    = liberr.MinPkgTransport + 14
	ErrChunkTooBig = liberr.MinPkgTransport + 15
)

func init() {
	msg := map[liberr.CodeError]string{
		ErrNoAnswer:    "DNS tunnel query returned no usable answer",
		ErrChunkTooBig: "payload chunk exceeds one DNS label's capacity",
	}
	for code, text := range msg {
		c, t := code, text
		liberr.RegisterIdFctMessage(c, func(liberr.CodeError) string { return t })
		liberr.RegisterCategory(c, liberr.CategoryProtocol)
	}
}

// maxLabelPayload is conservative headroom under DNS's 63-byte label
// limit once base32-encoded (5 input bytes -> 8 output chars).
const maxLabelPayload = 35

var enc = base32.StdEncoding.WithPadding(base32.NoPadding)

type tunnelState struct {
	client   *dns.Client
	server   string
	zone     string
	sessionID string
}

// New builds the DNS-tunnel Transport. zone is the domain suffix the
// peer's authoritative nameserver answers for (e.g. "tun.example.com").
// server is the resolver to query, "host:port".
func New(server, zone string, maxBuf size.Size) *transport.Transport {
	return &transport.Transport{
		Tag:  Tag,
		Name: "dns-tunnel",
		Capabilities: transport.NewCapabilities(
			transport.CapPreservesBoundaries,
			transport.CapSupportsObfuscation,
		),
		Ops: transport.Ops{
			Connect: func(ctx context.Context, addr string) (*reactor.Descriptor, error) {
				desc := reactor.NewDescriptor(reactor.KindOutgoingTCP, maxBuf)
				desc.Remote = addr
				desc.Inheritor = &tunnelState{
					client: &dns.Client{},
					server: server,
					zone:   zone,
				}
				return desc, nil
			},
			Pump: Pump,
		},
	}
}

// pollInterval is how often Pump drains the egress buffer into query
// chunks; DNS-tunnel has no push channel, so it is necessarily a polling
// transport (spec §4.6 notes this as the slowest registered option).
const pollInterval = 100 * time.Millisecond

// Pump drains the descriptor's egress buffer in maxLabelPayload-sized
// chunks, sending each as a query and writing any reply chunk into
// ingress, until ctx is canceled.
func Pump(ctx context.Context, d *reactor.Descriptor) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		n := d.EgressLen()
		if n == 0 {
			continue
		}
		if n > maxLabelPayload {
			n = maxLabelPayload
		}
		chunk := make([]byte, n)
		if _, err := d.Egress().Read(chunk); err != nil {
			return err
		}

		reply, err := SendChunk(d, seq, chunk)
		seq++
		if err != nil {
			return err
		}
		if len(reply) > 0 {
			if _, werr := d.Ingress().Write(reply); werr != nil {
				return werr
			}
			if d.Cb.OnRead != nil {
				d.Cb.OnRead(d)
			}
		}
	}
}

// encodeChunk renders one chunk of payload as the first label of a query
// name under zone, followed by the session id and "s<seq>", e.g.
// "mfrgg.<sessionID>.s0.tun.example.com.".
func encodeChunk(zone, sessionID string, seq int, chunk []byte) (string, error) {
	if len(chunk) > maxLabelPayload {
		return "", liberr.New(ErrChunkTooBig, "")
	}
	label := enc.EncodeToString(chunk)
	return fmt.Sprintf("%s.%s.s%d.%s.", strings.ToLower(label), sessionID, seq, zone), nil
}

// SendChunk transmits one payload chunk (at most maxLabelPayload bytes)
// as a TXT query and decodes the response's answer section as the
// tunnel's reply chunk, if any.
func SendChunk(d *reactor.Descriptor, seq int, chunk []byte) ([]byte, error) {
	ts, ok := d.Inheritor.(*tunnelState)
	if !ok {
		return nil, liberr.New(ErrNoAnswer, "descriptor is not a DNS tunnel")
	}

	qname, err := encodeChunk(ts.zone, ts.sessionID, seq, chunk)
	if err != nil {
		return nil, err
	}

	m := new(dns.Msg)
	m.SetQuestion(qname, dns.TypeTXT)
	m.RecursionDesired = true

	resp, _, err := ts.client.Exchange(m, ts.server)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Answer) == 0 {
		return nil, liberr.New(ErrNoAnswer, "")
	}

	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok && len(txt.Txt) > 0 {
			return enc.DecodeString(strings.ToUpper(txt.Txt[0]))
		}
	}
	return nil, liberr.New(ErrNoAnswer, "")
}

// ServeChunk implements the authoritative side: given an incoming TXT
// query name, it decodes the client's chunk, hands it to onChunk, and
// returns the TXT record to answer with (onChunk's return value,
// base32-encoded).
func ServeChunk(q *dns.Msg, onChunk func(sessionID string, seq int, chunk []byte) []byte) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(q)

	if len(q.Question) == 0 {
		return resp
	}
	name := q.Question[0].Name
	labels := dns.SplitDomainName(name)
	if len(labels) < 3 {
		return resp
	}

	chunk, err := enc.DecodeString(strings.ToUpper(labels[0]))
	if err != nil {
		return resp
	}
	sessionID := labels[1]
	var seq int
	fmt.Sscanf(labels[2], "s%d", &seq)

	reply := onChunk(sessionID, seq, chunk)
	rr := &dns.TXT{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 0},
		Txt: []string{strings.ToLower(enc.EncodeToString(reply))},
	}
	resp.Answer = append(resp.Answer, rr)
	return resp
}
