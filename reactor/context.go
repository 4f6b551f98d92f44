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

import (
	"sync"
	"sync/atomic"
	"time"

	liberr "github.com/sabouaram/streamcore/errors"
	"github.com/sabouaram/streamcore/reactor/queue"
	"github.com/sabouaram/streamcore/reactor/timer"
)

// Context is the per-thread runtime state of spec §3: the poll
// primitive, a descriptor map, pending timers, and an is-running flag.
// A Context runs exactly one goroutine; Pool.Start pins that goroutine
// (via runtime.LockOSThread) to one OS thread.
type Context struct {
	poller Poller

	mu          sync.RWMutex
	descriptors map[uint64]*Descriptor
	timers      []*timer.Timer

	inbox *queue.Queue

	loopCount int64
	running   int32
	stopping  int32

	// ConnTimeout is the descriptor aging timeout (spec §4.1 step 5,
	// config `conn_timeout_sec`).
	ConnTimeout time.Duration

	lastAgingScan time.Time
}

// NewContext creates a Context with its own Poller and a cross-thread
// inbox of the given capacity.
func NewContext(inboxCapacity int, connTimeout time.Duration) (*Context, error) {
	p, err := NewPoller()
	if err != nil {
		return nil, err
	}
	c := &Context{
		poller:      p,
		descriptors: make(map[uint64]*Descriptor),
		inbox:       queue.New(inboxCapacity),
		ConnTimeout: connTimeout,
	}
	c.inbox.Wake = func() { _ = c.poller.Wake() }
	return c, nil
}

// Add attaches a descriptor to this context (spec §4.1 add). Fails if
// the descriptor is currently owned by another context.
func (c *Context) Add(d *Descriptor) error {
	if atomic.LoadInt32(&c.stopping) != 0 {
		return liberr.New(ErrStopping, "")
	}
	if d.ctx != nil && d.ctx != c {
		return liberr.New(ErrAlreadyOwned, "")
	}

	c.mu.Lock()
	d.ctx = c
	d.Flags.InContext = true
	c.descriptors[d.ID] = d
	c.mu.Unlock()

	if d.Fd != 0 {
		_ = c.poller.Watch(d.ID, d.Fd, d.Flags.WantRead, d.Flags.WantWrite)
	}
	_ = c.poller.Wake()

	if d.Cb.OnNew != nil {
		d.Cb.OnNew(d)
	}
	return nil
}

// Remove detaches a descriptor without closing its OS handle (spec
// §4.1 remove).
func (c *Context) Remove(d *Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.descriptors[d.ID]; !ok {
		return liberr.New(ErrNotFound, "")
	}
	delete(c.descriptors, d.ID)
	_ = c.poller.Forget(d.ID)
	d.ctx = nil
	d.Flags.InContext = false
	return nil
}

// PollUpdate recomputes the want-read/want-write registration after a
// flag change (spec §4.1 poll_update).
func (c *Context) PollUpdate(d *Descriptor) error {
	c.mu.RLock()
	_, ok := c.descriptors[d.ID]
	c.mu.RUnlock()
	if !ok {
		return liberr.New(ErrNotFound, "")
	}
	if d.Fd != 0 {
		return c.poller.Watch(d.ID, d.Fd, d.Flags.WantRead, d.Flags.WantWrite)
	}
	return nil
}

// Find returns the descriptor with this id if present in this context.
func (c *Context) Find(id uint64) *Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.descriptors[id]
}

// Delete removes and closes (unless preserveIO) a descriptor, firing its
// delete callback (spec §4.1 delete).
func (c *Context) Delete(d *Descriptor, preserveIO bool) {
	_ = c.Remove(d)
	if !preserveIO {
		_ = d.ingress.Close()
		_ = d.egress.Close()
	}
	if d.Cb.OnDelete != nil {
		d.Cb.OnDelete(d)
	}
}

// AddTimer schedules t to run on this context's loop.
func (c *Context) AddTimer(t *timer.Timer) {
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	_ = c.poller.Wake()
}

// Inbox returns this context's cross-thread message queue, the target
// of exec_on from other workers.
func (c *Context) Inbox() *queue.Queue {
	return c.inbox
}

// ExecOn posts fn to run on the context that owns it, from any thread
// (spec §4.1 exec_on). The caller supplies the target context directly
// since Go has no implicit "current worker" notion; Worker.ExecOn wraps
// this with the process-wide worker lookup.
func ExecOn(target *Context, fn func()) error {
	return target.inbox.Post(queue.Message{Type: queue.MsgGenericCallback, Call: fn})
}

// LoopCount returns the monotonically increasing poll-loop iteration
// counter, useful for tests asserting liveness.
func (c *Context) LoopCount() int64 {
	return atomic.LoadInt64(&c.loopCount)
}

// Running reports whether Run's loop is currently executing.
func (c *Context) Running() bool {
	return atomic.LoadInt32(&c.running) != 0
}

// Stop requests the loop to drain and exit (spec §4.1 Cancellation). It
// does not block; callers select on a completion signal of their own
// choosing (Run returns when it observes stopping).
func (c *Context) Stop() {
	atomic.StoreInt32(&c.stopping, 1)
	_ = c.poller.Wake()
}

const maxInboxDrainPerLoop = 256

// Run executes the poll loop until Stop is called (spec §4.1 steps 1-6).
// It is intended to run on its own goroutine for the lifetime of the
// Context; Pool.Start pins it to an OS thread.
func (c *Context) Run() error {
	atomic.StoreInt32(&c.running, 1)
	defer atomic.StoreInt32(&c.running, 0)
	defer c.poller.Close()

	c.lastAgingScan = time.Now()

	for atomic.LoadInt32(&c.stopping) == 0 {
		timeout := c.nextTimeout()

		events, err := c.poller.Wait(timeout)
		if err != nil {
			return liberr.NewErrorTrace(ErrPollFailed, err.Error(), "context.go", 0, err)
		}

		c.inbox.Drain(maxInboxDrainPerLoop, c.dispatchInbox)

		for _, ev := range events {
			c.dispatchEvent(ev)
		}

		c.fireDueTimers()
		c.scanAging()

		atomic.AddInt64(&c.loopCount, 1)
	}

	c.drainOnShutdown()
	return nil
}

func (c *Context) nextTimeout() time.Duration {
	const agingTick = time.Second
	next := agingTick

	c.mu.RLock()
	now := time.Now()
	for _, t := range c.timers {
		if t.Deleted() {
			continue
		}
		if d := t.Due(now); d {
			next = 0
			break
		}
	}
	c.mu.RUnlock()
	return next
}

func (c *Context) dispatchInbox(msg queue.Message) {
	switch msg.Type {
	case queue.MsgGenericCallback:
		if msg.Call != nil {
			msg.Call()
		}
	case queue.MsgIOWrite, queue.MsgChannelSend:
		if msg.Call != nil {
			msg.Call()
		}
	}
}

func (c *Context) dispatchEvent(ev Event) {
	d := c.Find(ev.ID)
	if d == nil {
		return
	}

	if d.Flags.Connecting && ev.Ready.Writable {
		d.Flags.Connecting = false
		if err := getSocketErrorSafe(d.Fd); err != nil {
			if d.Cb.OnError != nil {
				d.Cb.OnError(d, err)
			}
			d.Flags.ClosePending = true
		} else if d.Cb.OnConnected != nil {
			d.Cb.OnConnected(d)
		}
	} else {
		if ev.Ready.Readable && d.Cb.OnRead != nil {
			d.atomicTouch()
			d.Cb.OnRead(d)
		}
		if ev.Ready.Writable && d.Cb.OnWrite != nil {
			d.Cb.OnWrite(d)
		}
	}

	if (ev.Ready.Error || ev.Ready.EOF) && d.Cb.OnError != nil {
		d.Cb.OnError(d, liberr.New(ErrPollFailed, "descriptor reported error/eof"))
		d.Flags.ClosePending = true
	}

	if d.Flags.ClosePending {
		c.Delete(d, false)
	}
}

func (c *Context) fireDueTimers() {
	now := time.Now()
	c.mu.Lock()
	live := c.timers[:0]
	due := make([]*timer.Timer, 0)
	for _, t := range c.timers {
		if t.Due(now) {
			due = append(due, t)
		}
		if !t.Deleted() {
			live = append(live, t)
		}
	}
	c.timers = live
	c.mu.Unlock()

	for _, t := range due {
		t.Fire(now)
	}
}

// scanAging implements spec §4.1 step 5: every second, scan live
// descriptors for those whose last-active exceeds the connection
// timeout.
func (c *Context) scanAging() {
	if c.ConnTimeout <= 0 {
		return
	}
	now := time.Now()
	if now.Sub(c.lastAgingScan) < time.Second {
		return
	}
	c.lastAgingScan = now

	c.mu.RLock()
	stale := make([]*Descriptor, 0)
	for _, d := range c.descriptors {
		if now.Sub(d.LastActive()) > c.ConnTimeout {
			stale = append(stale, d)
		}
	}
	c.mu.RUnlock()

	for _, d := range stale {
		if d.Cb.OnError != nil {
			d.Cb.OnError(d, liberr.New(ErrConnTimeout, ""))
		}
		c.Delete(d, false)
	}
}

func (c *Context) drainOnShutdown() {
	c.mu.RLock()
	remaining := make([]*Descriptor, 0, len(c.descriptors))
	for _, d := range c.descriptors {
		remaining = append(remaining, d)
	}
	c.mu.RUnlock()

	for _, d := range remaining {
		c.Delete(d, false)
	}
}

func getSocketErrorSafe(fd int) error {
	if fd == 0 {
		return nil
	}
	return getSocketError(fd)
}
