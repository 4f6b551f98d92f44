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

// Package tlv implements the type-length-value codec used to frame DSHP
// (spec §4.7, §6): {type: u16 BE, length: u16 BE, value[length]}.
package tlv

import (
	"bytes"
	"encoding/binary"

	liberr "github.com/sabouaram/streamcore/errors"
)

const (
	ErrTruncated = liberr.MinPkgTLV + 1
	ErrTooLarge  = liberr.MinPkgTLV + 2
)

func init() {
	liberr.RegisterIdFctMessage(ErrTruncated, func(code liberr.CodeError) string {
		if code == ErrTruncated {
			return "truncated TLV record"
		}
		return ""
	})
	liberr.RegisterIdFctMessage(ErrTooLarge, func(code liberr.CodeError) string {
		if code == ErrTooLarge {
			return "TLV value exceeds u16 length"
		}
		return ""
	})
	liberr.RegisterCategory(ErrTruncated, liberr.CategoryProtocol)
	liberr.RegisterCategory(ErrTooLarge, liberr.CategoryProtocol)
}

// Type is a TLV record's type tag. DSHP reserves 0x0100-0x01FF for future
// use (spec §6).
type Type uint16

// Record is one decoded {type, length, value} triple. Value aliases the
// input buffer; callers that retain a Record past the buffer's lifetime
// must copy Value themselves.
type Record struct {
	Type  Type
	Value []byte
}

const headerSize = 4

// Encode appends one TLV record to dst and returns the extended slice.
func Encode(dst []byte, typ Type, value []byte) ([]byte, error) {
	if len(value) > 0xFFFF {
		return nil, liberr.New(ErrTooLarge, "")
	}

	var hdr [headerSize]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(typ))
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(value)))

	dst = append(dst, hdr[:]...)
	dst = append(dst, value...)
	return dst, nil
}

// EncodeBundle encodes a full ordered set of records, used to build a DSHP
// message body.
func EncodeBundle(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range records {
		enc, err := Encode(nil, r.Type, r.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(enc)
	}
	return buf.Bytes(), nil
}

// Decode reads one TLV record from the front of buf and returns it along
// with the number of bytes consumed.
func Decode(buf []byte) (Record, int, error) {
	if len(buf) < headerSize {
		return Record{}, 0, liberr.New(ErrTruncated, "")
	}

	typ := Type(binary.BigEndian.Uint16(buf[0:2]))
	length := int(binary.BigEndian.Uint16(buf[2:4]))

	if len(buf) < headerSize+length {
		return Record{}, 0, liberr.New(ErrTruncated, "")
	}

	return Record{Type: typ, Value: buf[headerSize : headerSize+length]}, headerSize + length, nil
}

// DecodeBundle decodes every record in buf, failing if any trailing bytes
// are insufficient to form a complete record.
func DecodeBundle(buf []byte) ([]Record, error) {
	var out []Record
	for len(buf) > 0 {
		rec, n, err := Decode(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		buf = buf[n:]
	}
	return out, nil
}

// Find returns the first record of the given type in records, if present.
func Find(records []Record, typ Type) (Record, bool) {
	for _, r := range records {
		if r.Type == typ {
			return r, true
		}
	}
	return Record{}, false
}
