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

import "time"

// ReadyFlags is the OS-neutral translation of poll primitive flags
// (spec §4.1 step 3): "translate OS flags to {readable, writable, error,
// eof, connected}".
type ReadyFlags struct {
	Readable  bool
	Writable  bool
	Error     bool
	EOF       bool
	Connected bool
}

// Event pairs a descriptor id with the readiness it reported.
type Event struct {
	ID    uint64
	Ready ReadyFlags
}

// Poller abstracts the OS I/O readiness primitive (kqueue, epoll, IOCP)
// behind one interface (spec §9): "callers never see the OS primitive
// directly." One Poller instance belongs to exactly one Context.
type Poller interface {
	// Watch registers fd under id with the given want-read/want-write
	// interest, replacing any prior registration for id.
	Watch(id uint64, fd int, wantRead, wantWrite bool) error

	// Forget removes id's registration without touching the OS handle.
	Forget(id uint64) error

	// Wait blocks up to timeout for ready events. timeout == 0 drains
	// currently-ready events and returns immediately (spec §8 boundary
	// behavior "Poll timeout = 0").
	Wait(timeout time.Duration) ([]Event, error)

	// Wake unblocks a concurrent Wait call, used when a descriptor is
	// added from another goroutine while the loop is blocked.
	Wake() error

	// Close releases the underlying OS primitive.
	Close() error
}
