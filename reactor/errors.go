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

package reactor

import liberr "github.com/sabouaram/streamcore/errors"

const (
	ErrAlreadyOwned = liberr.MinPkgReactor + 1
	ErrStopping     = liberr.MinPkgReactor + 2
	ErrNotFound     = liberr.MinPkgReactor + 3
	ErrWrongThread  = liberr.MinPkgReactor + 4
	ErrPollFailed   = liberr.MinPkgReactor + 5
	ErrConnTimeout  = liberr.MinPkgReactor + 6
)

func init() {
	msg := map[liberr.CodeError]string{
		ErrAlreadyOwned: "descriptor already owned by another context",
		ErrStopping:     "context is stopping, add rejected",
		ErrNotFound:     "descriptor not found in context",
		ErrWrongThread:  "operation attempted from outside the owning context's thread",
		ErrPollFailed:   "poll primitive failed",
		ErrConnTimeout:  "descriptor exceeded connection timeout",
	}
	for code, text := range msg {
		c := code
		t := text
		liberr.RegisterIdFctMessage(c, func(_ liberr.CodeError) string { return t })
	}

	liberr.RegisterCategory(ErrAlreadyOwned, liberr.CategoryInvalidState)
	liberr.RegisterCategory(ErrStopping, liberr.CategoryInvalidState)
	liberr.RegisterCategory(ErrNotFound, liberr.CategoryInvalidState)
	liberr.RegisterCategory(ErrWrongThread, liberr.CategoryInvalidState)
	liberr.RegisterCategory(ErrPollFailed, liberr.CategoryOS)
	liberr.RegisterCategory(ErrConnTimeout, liberr.CategoryTimeout)
}
