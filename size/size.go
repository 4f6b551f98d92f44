/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
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

// Package size provides a small byte-count type used for buffer sizing
// across the reactor (per-descriptor buffer caps), the stream codec
// (max fragment payload, max reassembly size) and the delim reader.
package size

import "strconv"

// Size is a count of bytes. It exists so buffer-sizing APIs take a typed
// value instead of a bare int64, and so call sites read naturally:
// 64*size.SizeKilo rather than 65536.
type Size int64

const (
	SizeUnit Size = 1
	SizeKilo      = SizeUnit * 1024
	SizeMega      = SizeKilo * 1024
	SizeGiga      = SizeMega * 1024

	// KiB, MiB, GiB are aliases matching common documentation shorthand.
	KiB = SizeKilo
	MiB = SizeMega
	GiB = SizeGiga
)

func (s Size) Int64() int64 {
	return int64(s)
}

func (s Size) Int() int {
	return int(s)
}

func (s Size) String() string {
	return strconv.FormatInt(s.Int64(), 10)
}
