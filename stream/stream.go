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

package stream

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
	"time"

	libcrypto "github.com/sabouaram/streamcore/crypto"
	liberr "github.com/sabouaram/streamcore/errors"
	"github.com/sabouaram/streamcore/nodeaddr"
	"github.com/sabouaram/streamcore/reactor"
	"github.com/sabouaram/streamcore/session"
)

const (
	// MaxChannels is the multiplexing ceiling of spec §3: channel ids are a
	// single byte, 0-255.
	MaxChannels = 256

	// DefaultMaxFragmentPayload bounds the channel_packet fragment slice
	// size before a write is split across multiple stream packets.
	DefaultMaxFragmentPayload = 16 * 1024

	// defaultMaxReassembly caps how large a fragmented channel packet may
	// grow while being reassembled (spec §9 open question).
	defaultMaxReassembly = 16 << 20

	// decryptErrorThreshold is how many AEAD Open failures within
	// decryptErrorWindow a Stream tolerates before it tears itself down
	// (spec §7 CategoryCrypto policy, SPEC_FULL §4 decrypt_error_threshold
	// / decrypt_error_window_sec).
	decryptErrorThreshold = 8

	// decryptErrorWindow bounds how far back a failure still counts
	// toward decryptErrorThreshold; failures older than this age out
	// instead of accumulating forever.
	decryptErrorWindow = 10 * time.Second
)

// FrameDispatcher receives one fully reassembled, decrypted channel packet
// read off the wire. It is the seam the channel package hooks into.
type FrameDispatcher func(chHeader ChannelHeader, payload []byte)

// Stream is spec §3's framed, authenticated, encrypted byte stream bound
// to exactly one Descriptor and one Session. It owns the read-path
// reassembly state and the write-path sequence counter; the channel
// package supplies the dispatch table and per-channel queues above it.
type Stream struct {
	Local  nodeaddr.Addr
	Remote nodeaddr.Addr

	descriptor *reactor.Descriptor
	sess       *session.Session
	cipher     libcrypto.AEAD

	maxFragmentPayload int

	seq uint64

	mu          sync.Mutex
	reassembler map[byte]*Reassembler
	carry       bytes.Buffer // undecoded bytes left over from a short read

	decryptMu       sync.Mutex
	decryptFailures []time.Time

	Dispatch FrameDispatcher

	// OnDecryptFailure, if set, fires once per AEAD Open failure, letting
	// a higher layer (e.g. metrics.Collectors) observe the rate without
	// this package depending on anything above it.
	OnDecryptFailure func()

	// OnBytesRead and OnBytesWritten, if set, fire with the plaintext
	// byte count of every successfully decoded frame and every accepted
	// Write call respectively, the same hook pattern as OnDecryptFailure.
	OnBytesRead    func(n int)
	OnBytesWritten func(n int)

	// Inheritor is an application-defined back-pointer, left opaque so the
	// stream package never depends on its callers (mirrors Descriptor's own
	// Inheritor field).
	Inheritor any
}

const (
	ErrUnknownChannel  = liberr.MinPkgStream + 5
	ErrUnknownPacket   = liberr.MinPkgStream + 6
	ErrDecryptExceeded = liberr.MinPkgStream + 7
)

func init() {
	msg := map[liberr.CodeError]string{
		ErrUnknownChannel:  "channel_packet references an unregistered channel id",
		ErrUnknownPacket:   "stream packet carries an unrecognized type",
		ErrDecryptExceeded: "consecutive decrypt failures exceeded threshold, tearing down stream",
	}
	for code, text := range msg {
		c, t := code, text
		liberr.RegisterIdFctMessage(c, func(liberr.CodeError) string { return t })
		liberr.RegisterCategory(c, liberr.CategoryCrypto)
	}
}

// New binds a Stream to a descriptor and a session. cipher may be nil,
// meaning the negotiated cipher id was CipherNone (spec §9 open
// question: plaintext streams are permitted for loopback/testing).
func New(d *reactor.Descriptor, sess *session.Session, cipher libcrypto.AEAD, local, remote nodeaddr.Addr) *Stream {
	return &Stream{
		Local:              local,
		Remote:             remote,
		descriptor:         d,
		sess:               sess,
		cipher:             cipher,
		maxFragmentPayload: DefaultMaxFragmentPayload,
		reassembler:        make(map[byte]*Reassembler),
	}
}

// bumpDecryptFailures records a failure and returns how many failures
// fall within the trailing decryptErrorWindow, pruning older entries as
// it goes so a burst long in the past can't trip the threshold.
func (s *Stream) bumpDecryptFailures() int {
	now := time.Now()
	cutoff := now.Add(-decryptErrorWindow)

	s.decryptMu.Lock()
	defer s.decryptMu.Unlock()

	live := s.decryptFailures[:0]
	for _, t := range s.decryptFailures {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	live = append(live, now)
	s.decryptFailures = live
	return len(live)
}

// resetDecryptFailures clears the failure window after a successful
// decrypt.
func (s *Stream) resetDecryptFailures() {
	s.decryptMu.Lock()
	s.decryptFailures = s.decryptFailures[:0]
	s.decryptMu.Unlock()
}

// Session returns the session this stream is currently attached to.
func (s *Stream) Session() *session.Session { return s.sess }

// Descriptor returns the reactor descriptor carrying this stream's bytes.
func (s *Stream) Descriptor() *reactor.Descriptor { return s.descriptor }

// NextSeq returns the next outgoing per-stream sequence number.
func (s *Stream) NextSeq() uint64 { return atomic.AddUint64(&s.seq, 1) }

// Write frames, optionally fragments, optionally encrypts, and queues
// payload for channel id on this stream's descriptor egress buffer (spec
// §4.5 write path). It does not flush the descriptor itself; the reactor
// does that on the next writable readiness.
func (s *Stream) Write(channelID byte, packetType uint8, encType uint8, payload []byte) error {
	ch := ChannelHeader{
		ID:      channelID,
		Type:    packetType,
		EncType: encType,
		SeqID:   s.NextSeq(),
	}

	var key []byte
	if s.sess != nil {
		key = s.sess.Key
	}

	plan, err := PlanWrite(s.Local, s.Remote, ch, payload, s.maxFragmentPayload, s.cipher, key)
	if err != nil {
		return err
	}

	for _, frame := range plan.Frames {
		if _, err = s.descriptor.Egress().Write(frame); err != nil {
			return err
		}
	}
	if s.sess != nil {
		s.sess.Touch()
	}
	if s.OnBytesWritten != nil {
		s.OnBytesWritten(len(payload))
	}
	return nil
}

// OnRead drains the descriptor's ingress buffer, scans for the fixed
// 8-byte signature to find each stream packet's start, decrypts it,
// reassembles fragments, and invokes Dispatch for each completed channel
// packet (spec §4.5 read path). Bytes before a recognized signature are
// junk and are discarded, letting a resynchronizing or momentarily
// corrupted peer recover on the next signature match rather than on any
// application-level delimiter.
func (s *Stream) OnRead(d *reactor.Descriptor) error {
	raw, err := io.ReadAll(d.Ingress())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.carry.Write(raw)
	buf := s.carry.Bytes()

	var consumed int
	for {
		rest := buf[consumed:]

		off := FindSignature(rest)
		if off < 0 {
			// No signature anywhere in what's buffered: keep at most the
			// last len(Signature)-1 bytes, since they might be the start
			// of a signature split across two reads, and discard the
			// rest as junk.
			if len(rest) >= len(Signature) {
				consumed = len(buf) - (len(Signature) - 1)
			}
			break
		}
		consumed += off // drop any junk preceding the signature

		h, _, n, err := DecodeHeader(buf[consumed:])
		if err != nil {
			code := liberr.Get(err).GetCode()
			if code == liberr.CodeError(ErrTruncated) {
				// Not enough bytes buffered yet for a full header; wait
				// for the next read rather than discarding anything.
				break
			}
			// A signature that doesn't open a valid frame (size
			// mismatch): skip past it and keep scanning. Spec §4.5:
			// "everything before the signature is junk and discarded".
			consumed += len(Signature)
			continue
		}

		if err := s.handleFrame(h, buf[consumed:consumed+n]); err != nil {
			s.mu.Unlock()
			return err
		}
		consumed += n
	}

	remainder := append([]byte(nil), buf[consumed:]...)
	s.carry.Reset()
	s.carry.Write(remainder)
	s.mu.Unlock()
	return nil
}

// handleFrame decrypts and dispatches one already-decoded stream packet.
// Caller holds s.mu.
func (s *Stream) handleFrame(h Header, frame []byte) error {
	_, body, _, err := DecodeHeader(frame)
	if err != nil {
		return nil
	}

	switch h.Type {
	case PacketKeepalive:
		if s.sess != nil {
			s.sess.Touch()
		}
		return nil
	case PacketService:
		return nil
	case PacketData, PacketFragment:
		// fall through below
	default:
		return liberr.New(ErrUnknownPacket, "")
	}

	var key []byte
	if s.sess != nil {
		key = s.sess.Key
	}

	plaintext := body
	if s.cipher != nil {
		plaintext, err = s.cipher.Open(key, body)
		if err != nil {
			if s.OnDecryptFailure != nil {
				s.OnDecryptFailure()
			}
			if s.bumpDecryptFailures() >= decryptErrorThreshold {
				return liberr.New(ErrDecryptExceeded, "")
			}
			return nil
		}
		s.resetDecryptFailures()
	}

	if s.sess != nil {
		s.sess.Touch()
	}

	if h.Type == PacketData {
		ch, payload, err := DecodeChannelPacket(plaintext)
		if err != nil {
			return nil
		}
		if s.OnBytesRead != nil {
			s.OnBytesRead(len(payload))
		}
		if s.Dispatch != nil {
			s.Dispatch(ch, payload)
		}
		return nil
	}

	fh, slice, err := DecodeFragment(plaintext)
	if err != nil {
		return nil
	}

	reasm := s.reassemblerFor(fh)
	complete, ok, rErr := s.feedFragment(reasm, fh, slice)
	if rErr != nil {
		return rErr
	}
	if !ok || !complete.ready {
		return nil
	}

	ch, payload, err := DecodeChannelPacket(complete.buf)
	if err != nil {
		return nil
	}
	if s.OnBytesRead != nil {
		s.OnBytesRead(len(payload))
	}
	if s.Dispatch != nil {
		s.Dispatch(ch, payload)
	}
	return nil
}

// reassemblerFor returns the Reassembler accumulating fragments for the
// channel packet currently in flight. Fragments do not carry their own
// channel id (it is inside the encrypted channel_packet_header they
// reassemble into), so one Reassembler per stream direction suffices;
// keyed here by a constant slot to keep the map shape open for a future
// per-priority-lane reassembler without another field.
func (s *Stream) reassemblerFor(FragmentHeader) *Reassembler {
	const slot = 0
	r, ok := s.reassembler[slot]
	if !ok {
		r = NewReassembler(defaultMaxReassembly)
		s.reassembler[slot] = r
	}
	return r
}

type reassembly struct {
	buf   []byte
	ready bool
}

func (s *Stream) feedFragment(r *Reassembler, fh FragmentHeader, slice []byte) (reassembly, bool, error) {
	buf, complete, ok, err := r.Add(fh, slice)
	if err != nil {
		return reassembly{}, false, err
	}
	return reassembly{buf: buf, ready: complete}, ok, nil
}
