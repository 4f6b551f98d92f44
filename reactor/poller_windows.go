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

//go:build windows

package reactor

import (
	"sync"
	"time"
)

// iocpPoller is a placeholder IOCP-equivalent backend (spec §9 calls for
// one Poller implementation per OS primitive). It implements Watch/Forget
// bookkeeping and a channel-based Wake, but Wait degrades to a short sleep
// rather than a true IOCP completion port: wiring GetQueuedCompletionStatus
// is future work, tracked so the Poller interface boundary stays stable.
type iocpPoller struct {
	mu    sync.Mutex
	fds   map[uint64]int
	wake  chan struct{}
	closed bool
}

// NewPoller returns the Windows IOCP-shaped poller stub.
func NewPoller() (Poller, error) {
	return &iocpPoller{
		fds:  make(map[uint64]int),
		wake: make(chan struct{}, 1),
	}, nil
}

func (p *iocpPoller) Watch(id uint64, fd int, wantRead, wantWrite bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fds[id] = fd
	return nil
}

func (p *iocpPoller) Forget(id uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, id)
	return nil
}

func (p *iocpPoller) Wake() error {
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *iocpPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *iocpPoller) Wait(timeout time.Duration) ([]Event, error) {
	select {
	case <-p.wake:
	case <-time.After(timeout):
	}
	return nil, nil
}

// getSocketError is unimplemented on the IOCP stub backend; connect
// completion is reported optimistically until GetQueuedCompletionStatus
// wiring lands.
func getSocketError(fd int) error {
	return nil
}
