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

//go:build unix

package reactor

import (
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// unixPoller implements Poller on top of poll(2) via golang.org/x/sys/unix,
// which is available across the unix platforms the teacher's
// golang.org/x/sys dependency targets, without committing to one of
// epoll/kqueue specifically (spec §9 "split into a Poller abstraction with
// per-OS implementations").
type unixPoller struct {
	mu      sync.Mutex
	fds     map[uint64]int
	want    map[uint64]ReadyFlags
	wakeR   *os.File
	wakeW   *os.File
}

// NewPoller returns the default unix poller for this platform.
func NewPoller() (Poller, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &unixPoller{
		fds:   make(map[uint64]int),
		want:  make(map[uint64]ReadyFlags),
		wakeR: r,
		wakeW: w,
	}, nil
}

func (p *unixPoller) Watch(id uint64, fd int, wantRead, wantWrite bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fds[id] = fd
	p.want[id] = ReadyFlags{Readable: wantRead, Writable: wantWrite}
	return nil
}

func (p *unixPoller) Forget(id uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, id)
	delete(p.want, id)
	return nil
}

func (p *unixPoller) Wake() error {
	_, err := p.wakeW.Write([]byte{0})
	return err
}

func (p *unixPoller) Close() error {
	p.wakeR.Close()
	p.wakeW.Close()
	return nil
}

// SO_ERROR retrieval on a connecting socket, per spec §4.1 step 3 ("the
// first writable event completes the connect: success if SO_ERROR is
// zero").
func getSocketError(fd int) error {
	val, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if val != 0 {
		return unix.Errno(val)
	}
	return nil
}

func (p *unixPoller) Wait(timeout time.Duration) ([]Event, error) {
	p.mu.Lock()
	ids := make([]uint64, 0, len(p.fds))
	pfds := make([]unix.PollFd, 0, len(p.fds)+1)
	pfds = append(pfds, unix.PollFd{Fd: int32(p.wakeR.Fd()), Events: unix.POLLIN})
	for id, fd := range p.fds {
		var ev int16
		w := p.want[id]
		if w.Readable {
			ev |= unix.POLLIN
		}
		if w.Writable {
			ev |= unix.POLLOUT
		}
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: ev})
		ids = append(ids, id)
	}
	p.mu.Unlock()

	ms := int(timeout / time.Millisecond)
	if timeout == 0 {
		ms = 0
	} else if ms == 0 {
		ms = 1
	}

	n, err := unix.Poll(pfds, ms)
	if err != nil && err != unix.EINTR {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	var out []Event
	if pfds[0].Revents != 0 {
		buf := make([]byte, 64)
		_, _ = p.wakeR.Read(buf)
	}
	for i, id := range ids {
		pf := pfds[i+1]
		if pf.Revents == 0 {
			continue
		}
		out = append(out, Event{ID: id, Ready: ReadyFlags{
			Readable:  pf.Revents&unix.POLLIN != 0,
			Writable:  pf.Revents&unix.POLLOUT != 0,
			Error:     pf.Revents&unix.POLLERR != 0,
			EOF:       pf.Revents&unix.POLLHUP != 0,
			Connected: pf.Revents&unix.POLLOUT != 0,
		}})
	}
	return out, nil
}
