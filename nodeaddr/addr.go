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

// Package nodeaddr implements the 64-bit node identity used by the stream
// layer to tag packet source/destination, formatted as four 16-bit hex
// groups joined by "::" (spec §6 "Node-address string format").
package nodeaddr

import (
	"fmt"
	"strconv"
	"strings"

	liberr "github.com/sabouaram/streamcore/errors"
)

const ErrParse = liberr.MinPkgNodeAddr + 1

func init() {
	liberr.RegisterIdFctMessage(ErrParse, func(code liberr.CodeError) string {
		if code == ErrParse {
			return "malformed node address"
		}
		return ""
	})
	liberr.RegisterCategory(ErrParse, liberr.CategoryProtocol)
}

// Addr is a 64-bit node identity. It is never treated as a string
// internally; String/Parse are the only boundary conversions.
type Addr uint64

// Broadcast is the destination value meaning "any recipient".
const Broadcast Addr = 0

// String renders the address as four 16-bit hex groups, e.g.
// "0001::0002::0003::0004".
func (a Addr) String() string {
	return fmt.Sprintf("%04X::%04X::%04X::%04X",
		uint16(a>>48), uint16(a>>32), uint16(a>>16), uint16(a))
}

// Uint64 returns the raw 64-bit value.
func (a Addr) Uint64() uint64 {
	return uint64(a)
}

// IsZero reports whether the address is the broadcast/unset value.
func (a Addr) IsZero() bool {
	return a == Broadcast
}

// Parse accepts the same syntax as String, case-insensitively.
func Parse(s string) (Addr, error) {
	parts := strings.Split(strings.TrimSpace(s), "::")
	if len(parts) != 4 {
		return 0, liberr.New(ErrParse, "expected 4 groups separated by '::', got "+strconv.Itoa(len(parts)))
	}

	var out uint64
	for _, p := range parts {
		if len(p) == 0 || len(p) > 4 {
			return 0, liberr.New(ErrParse, "group out of range: "+p)
		}
		v, err := strconv.ParseUint(p, 16, 16)
		if err != nil {
			return 0, liberr.NewErrorTrace(int(ErrParse), "invalid hex group: "+p, "addr.go", 0, err)
		}
		out = out<<16 | v
	}

	return Addr(out), nil
}

// New builds an Addr from four 16-bit groups, most-significant first.
func New(g0, g1, g2, g3 uint16) Addr {
	return Addr(uint64(g0)<<48 | uint64(g1)<<32 | uint64(g2)<<16 | uint64(g3))
}
