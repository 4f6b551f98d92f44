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

package errors

// Code ranges, one block per subsystem, mirroring the component table of
// the system overview. Each subsystem reserves 100 codes; subsystem-local
// error constants are declared close to their subsystem package and use
// these as their base.
const (
	MinPkgReactor   = 100
	MinPkgWorker    = 200
	MinPkgQueue     = 300
	MinPkgEndpoint  = 400
	MinPkgSession   = 500
	MinPkgStream    = 600
	MinPkgChannel   = 700
	MinPkgTransport = 800
	MinPkgHandshake = 900
	MinPkgCrypto    = 1000
	MinPkgConfig    = 1100
	MinPkgTLV       = 1200
	MinPkgNodeAddr  = 1300
	MinPkgIOUtils      = 1400
	MinPkgCertificate  = 1500
	MinPkgCrypt        = 1600

	MinAvailable = 2000
)

// Category groups error codes by the taxonomy of spec.md §7. A Category
// does not replace a CodeError; it classifies one for propagation policy
// (which callback receives it, whether it is fatal to a descriptor, a
// worker, or the whole process).
type Category uint8

const (
	// CategoryOS covers read/write/poll failures carrying an errno; fatal
	// to the descriptor, never to the worker.
	CategoryOS Category = iota + 1
	// CategoryProtocol covers malformed framing, bad magic/version,
	// missing required TLV; closes the descriptor.
	CategoryProtocol
	// CategoryCrypto covers decryption or signature failures; threshold
	// triggered tear-down of the stream.
	CategoryCrypto
	// CategoryTimeout covers connection aging, handshake stalls, and
	// exhausted reconnect backoff.
	CategoryTimeout
	// CategoryResource covers allocation failures and full queues;
	// descriptor-level fatal.
	CategoryResource
	// CategoryConfig covers invalid or missing configuration; fatal only
	// at init.
	CategoryConfig
	// CategoryInvalidState covers API misuse such as operating on a
	// descriptor owned by another worker from the wrong thread.
	CategoryInvalidState
)

func (c Category) String() string {
	switch c {
	case CategoryOS:
		return "os-error"
	case CategoryProtocol:
		return "protocol-error"
	case CategoryCrypto:
		return "crypto-error"
	case CategoryTimeout:
		return "timeout"
	case CategoryResource:
		return "resource-error"
	case CategoryConfig:
		return "config-error"
	case CategoryInvalidState:
		return "invalid-state"
	default:
		return "unknown"
	}
}

var categoryOf = make(map[CodeError]Category)

// RegisterCategory associates a CodeError with a taxonomy Category. Package
// init()s call this once per code they own so that Classify can answer
// without every caller threading a Category alongside every CodeError.
func RegisterCategory(code CodeError, cat Category) {
	categoryOf[code] = cat
}

// Classify returns the Category registered for err's code, or 0 if err is
// not an Error or its code was never registered.
func Classify(err error) Category {
	e := Get(err)
	if e == nil {
		return 0
	}

	if cat, ok := categoryOf[e.GetCode()]; ok {
		return cat
	}

	return 0
}
