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

// Package stream implements the framed, authenticated, encrypted byte
// stream of spec §3/§4.5: packet header encode/decode, fragmentation,
// reassembly, and wire framing. Frames go on the wire as raw binary; no
// base64 encoding is applied on either path. The multiplexing/dispatch half
// lives in the sibling channel package.
package stream

import (
	"encoding/binary"

	liberr "github.com/sabouaram/streamcore/errors"
	"github.com/sabouaram/streamcore/nodeaddr"
)

// Signature is the fixed 8-byte marker that opens every stream packet
// (spec §6).
var Signature = [8]byte{0xDA, 0x4A, 0x1A, 0x48, 0x53, 0x54, 0x52, 0x4D}

// PacketType tags a stream_packet_header's type field (spec §6).
type PacketType uint8

const (
	PacketData PacketType = iota
	PacketFragment
	PacketKeepalive
	PacketService
)

func (t PacketType) String() string {
	switch t {
	case PacketData:
		return "data"
	case PacketFragment:
		return "fragment"
	case PacketKeepalive:
		return "keepalive"
	case PacketService:
		return "service"
	default:
		return "unknown"
	}
}

const streamHeaderSize = 8 + 4 + 8 + 1 + 8 + 8 + 3 // signature,total_size,timestamp,type,src,dst,pad-to-8

// Header is the decoded stream_packet_header of spec §6.
type Header struct {
	TotalSize     uint32
	TimestampNsec uint64
	Type          PacketType
	Src           nodeaddr.Addr
	Dst           nodeaddr.Addr
}

const (
	ErrBadSignature = liberr.MinPkgStream + 1
	ErrTruncated    = liberr.MinPkgStream + 2
	ErrSizeMismatch = liberr.MinPkgStream + 3
)

func init() {
	msg := map[liberr.CodeError]string{
		ErrBadSignature: "stream packet signature mismatch",
		ErrTruncated:    "stream packet truncated",
		ErrSizeMismatch: "stream packet total_size does not fit buffer",
	}
	for code, text := range msg {
		c, t := code, text
		liberr.RegisterIdFctMessage(c, func(liberr.CodeError) string { return t })
		liberr.RegisterCategory(c, liberr.CategoryProtocol)
	}
}

// EncodeHeader writes a Header followed by encryptedBody, little-endian
// per spec §6.
func EncodeHeader(h Header, encryptedBody []byte) []byte {
	out := make([]byte, streamHeaderSize+len(encryptedBody))
	copy(out[0:8], Signature[:])
	binary.LittleEndian.PutUint32(out[8:12], uint32(streamHeaderSize+len(encryptedBody)))
	binary.LittleEndian.PutUint64(out[12:20], h.TimestampNsec)
	out[20] = byte(h.Type)
	binary.LittleEndian.PutUint64(out[21:29], h.Src.Uint64())
	binary.LittleEndian.PutUint64(out[29:37], h.Dst.Uint64())
	// out[37:40] reserved padding, left zero
	copy(out[streamHeaderSize:], encryptedBody)
	return out
}

// FindSignature returns the offset of Signature in buf, or -1. Bytes
// before the signature are junk per spec §4.5 read path and are
// discarded by the caller.
func FindSignature(buf []byte) int {
	if len(buf) < len(Signature) {
		return -1
	}
	for i := 0; i+len(Signature) <= len(buf); i++ {
		if match(buf[i:i+len(Signature)], Signature[:]) {
			return i
		}
	}
	return -1
}

func match(a, b []byte) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DecodeHeader reads a Header from the front of buf (which must already
// be positioned at the signature) and returns it along with the
// encrypted body slice and total bytes consumed.
func DecodeHeader(buf []byte) (Header, []byte, int, error) {
	if len(buf) < streamHeaderSize {
		return Header{}, nil, 0, liberr.New(ErrTruncated, "")
	}
	if !match(buf[0:8], Signature[:]) {
		return Header{}, nil, 0, liberr.New(ErrBadSignature, "")
	}

	total := binary.LittleEndian.Uint32(buf[8:12])
	if int(total) < streamHeaderSize || int(total) > len(buf) {
		return Header{}, nil, 0, liberr.New(ErrSizeMismatch, "")
	}

	h := Header{
		TotalSize:     total,
		TimestampNsec: binary.LittleEndian.Uint64(buf[12:20]),
		Type:          PacketType(buf[20]),
		Src:           nodeaddr.Addr(binary.LittleEndian.Uint64(buf[21:29])),
		Dst:           nodeaddr.Addr(binary.LittleEndian.Uint64(buf[29:37])),
	}

	body := buf[streamHeaderSize:total]
	return h, body, int(total), nil
}

const channelHeaderSize = 1 + 1 + 1 + 1 + 4 + 8

// ChannelHeader is the decrypted body layout for PacketData (spec §6).
type ChannelHeader struct {
	ID       byte
	Type     uint8
	EncType  uint8
	DataSize uint32
	SeqID    uint64
}

// EncodeChannelPacket builds {channel_packet_header, payload}.
func EncodeChannelPacket(h ChannelHeader, payload []byte) []byte {
	out := make([]byte, channelHeaderSize+len(payload))
	out[0] = h.ID
	out[1] = h.Type
	out[2] = h.EncType
	out[3] = 0 // reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint64(out[8:16], h.SeqID)
	copy(out[channelHeaderSize:], payload)
	return out
}

// DecodeChannelPacket reads a ChannelHeader and its payload.
func DecodeChannelPacket(buf []byte) (ChannelHeader, []byte, error) {
	if len(buf) < channelHeaderSize {
		return ChannelHeader{}, nil, liberr.New(ErrTruncated, "")
	}
	h := ChannelHeader{
		ID:      buf[0],
		Type:    buf[1],
		EncType: buf[2],
	}
	dataSize := binary.LittleEndian.Uint32(buf[4:8])
	h.DataSize = dataSize
	h.SeqID = binary.LittleEndian.Uint64(buf[8:16])

	if len(buf) < channelHeaderSize+int(dataSize) {
		return ChannelHeader{}, nil, liberr.New(ErrTruncated, "")
	}
	return h, buf[channelHeaderSize : channelHeaderSize+int(dataSize)], nil
}

const fragmentHeaderSize = 4 + 4 + 4 + 4

// FragmentHeader is the decrypted body layout for PacketFragment (spec
// §6).
type FragmentHeader struct {
	FullSize     uint32
	FragmentSize uint32
	MemShift     uint32
}

// EncodeFragment builds {fragment_header, bytes}.
func EncodeFragment(h FragmentHeader, bytesSlice []byte) []byte {
	out := make([]byte, fragmentHeaderSize+len(bytesSlice))
	binary.LittleEndian.PutUint32(out[0:4], h.FullSize)
	binary.LittleEndian.PutUint32(out[4:8], h.FragmentSize)
	binary.LittleEndian.PutUint32(out[8:12], h.MemShift)
	// out[12:16] reserved
	copy(out[fragmentHeaderSize:], bytesSlice)
	return out
}

// DecodeFragment reads a FragmentHeader and its bytes.
func DecodeFragment(buf []byte) (FragmentHeader, []byte, error) {
	if len(buf) < fragmentHeaderSize {
		return FragmentHeader{}, nil, liberr.New(ErrTruncated, "")
	}
	h := FragmentHeader{
		FullSize:     binary.LittleEndian.Uint32(buf[0:4]),
		FragmentSize: binary.LittleEndian.Uint32(buf[4:8]),
		MemShift:     binary.LittleEndian.Uint32(buf[8:12]),
	}
	if len(buf) < fragmentHeaderSize+int(h.FragmentSize) {
		return FragmentHeader{}, nil, liberr.New(ErrTruncated, "")
	}
	return h, buf[fragmentHeaderSize : fragmentHeaderSize+int(h.FragmentSize)], nil
}
