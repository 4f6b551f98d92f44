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
	"time"

	libcrypto "github.com/sabouaram/streamcore/crypto"
	liberr "github.com/sabouaram/streamcore/errors"
	"github.com/sabouaram/streamcore/nodeaddr"
)

// WritePlan is the result of planning an outgoing channel packet (spec
// §4.5 write path): either one data packet or several fragments, each
// already framed and encrypted, ready to append to a descriptor's egress
// buffer. Frames are raw binary on the wire so the read side can resync
// on the fixed signature after any corruption (spec §4.5 read path).
type WritePlan struct {
	Frames [][]byte
}

// PlanWrite implements spec §4.5 write path steps 1-4. payload must be
// non-empty (step "empty payload write: reject").
func PlanWrite(src, dst nodeaddr.Addr, chHeader ChannelHeader, payload []byte, maxFragmentPayload int, cipher libcrypto.AEAD, key []byte) (WritePlan, error) {
	if len(payload) == 0 {
		return WritePlan{}, liberr.New(ErrTruncated, "empty payload rejected")
	}

	chPkt := EncodeChannelPacket(chHeader, payload)

	if len(chPkt) <= maxFragmentPayload {
		frame, err := sealFrame(src, dst, PacketData, chPkt, cipher, key)
		if err != nil {
			return WritePlan{}, err
		}
		return WritePlan{Frames: [][]byte{frame}}, nil
	}

	var frames [][]byte
	full := uint32(len(chPkt))
	for shift := uint32(0); shift < full; shift += uint32(maxFragmentPayload) {
		end := shift + uint32(maxFragmentPayload)
		if end > full {
			end = full
		}
		slice := chPkt[shift:end]
		body := EncodeFragment(FragmentHeader{
			FullSize:     full,
			FragmentSize: uint32(len(slice)),
			MemShift:     shift,
		}, slice)

		frame, err := sealFrame(src, dst, PacketFragment, body, cipher, key)
		if err != nil {
			return WritePlan{}, err
		}
		frames = append(frames, frame)
	}
	return WritePlan{Frames: frames}, nil
}

func sealFrame(src, dst nodeaddr.Addr, typ PacketType, body []byte, cipher libcrypto.AEAD, key []byte) ([]byte, error) {
	var encrypted []byte
	var err error
	if cipher != nil {
		encrypted, err = cipher.Seal(key, body)
		if err != nil {
			return nil, err
		}
	} else {
		encrypted = body
	}

	return EncodeHeader(Header{
		TimestampNsec: uint64(time.Now().UnixNano()),
		Type:          typ,
		Src:           src,
		Dst:           dst,
	}, encrypted), nil
}

// Reassembler accumulates PacketFragment bodies for one in-flight
// channel packet, keyed by mem_shift (spec §3, §4.5).
type Reassembler struct {
	fullSize  uint32
	received  uint32
	buf       []byte
	active    bool
	maxSize   int
}

// NewReassembler returns a Reassembler capping accumulated size at
// maxSize (spec §9 open question: "impose a hard cap, default 16 MiB").
func NewReassembler(maxSize int) *Reassembler {
	return &Reassembler{maxSize: maxSize}
}

// ErrReassemblyOverflow marks a fragment whose full_size exceeds the cap.
const ErrReassemblyOverflow = liberr.MinPkgStream + 4

func init() {
	liberr.RegisterIdFctMessage(ErrReassemblyOverflow, func(c liberr.CodeError) string {
		if c == ErrReassemblyOverflow {
			return "reassembly buffer would exceed max_reassembly_size"
		}
		return ""
	})
	liberr.RegisterCategory(ErrReassemblyOverflow, liberr.CategoryResource)
}

// Add feeds one fragment. If mem_shift is inconsistent with the
// in-progress reassembly, the buffer resets and the fragment is dropped
// (spec §4.5 edge cases), reported via ok=false, err=nil. When the
// fragment completes the full payload, complete=true and buf holds the
// reassembled channel packet.
func (r *Reassembler) Add(h FragmentHeader, fragment []byte) (buf []byte, complete bool, ok bool, err error) {
	if int(h.FullSize) > r.maxSize {
		return nil, false, false, liberr.New(ErrReassemblyOverflow, "")
	}

	if !r.active {
		r.active = true
		r.fullSize = h.FullSize
		r.buf = make([]byte, h.FullSize)
		r.received = 0
	} else if h.FullSize != r.fullSize || h.MemShift != r.received {
		r.reset()
		return nil, false, false, nil
	}

	copy(r.buf[h.MemShift:], fragment)
	r.received += uint32(len(fragment))

	if r.received == r.fullSize {
		done := r.buf
		r.reset()
		return done, true, true, nil
	}
	return nil, false, true, nil
}

func (r *Reassembler) reset() {
	r.active = false
	r.fullSize = 0
	r.received = 0
	r.buf = nil
}
