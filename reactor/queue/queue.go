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

// Package queue implements the typed inter-thread MPSC queue of spec
// §4.2: producers post messages from any worker; the owning worker's
// drain handler dispatches them in FIFO-per-producer order.
package queue

import (
	liberr "github.com/sabouaram/streamcore/errors"
)

const ErrFull = liberr.MinPkgQueue + 1

func init() {
	liberr.RegisterIdFctMessage(ErrFull, func(c liberr.CodeError) string {
		if c == ErrFull {
			return "inter-thread queue is full"
		}
		return ""
	})
	liberr.RegisterCategory(ErrFull, liberr.CategoryResource)
}

// MsgType tags an inter-thread message's dispatch switch (spec §4.2:
// "io-write, channel-send, generic-callback").
type MsgType uint8

const (
	MsgIOWrite MsgType = iota
	MsgChannelSend
	MsgGenericCallback
)

// Message is the typed record carried through a Queue. Data is owned by
// the sender until enqueued; the drain handler is responsible for it
// afterward (spec §3 Inter-thread message memory-ownership note — Go's
// GC makes the explicit free a no-op, the ownership *transfer* still
// matters: the producer must not mutate Data after Post returns).
type Message struct {
	Type     MsgType
	ChanID   byte
	Data     []byte
	Flags    uint32
	Priority uint8
	Call     func()
}

// Queue is a bounded MPSC channel of Messages, backed by Go's native
// channel (the idiomatic replacement for the source's hand-rolled typed
// queue primitive, per spec §9 "tagged-union message type per queue").
// Wake is invoked after every successful Post so the owning Context's
// Poller can be woken if blocked (spec §4.1 "wakes the poll primitive if
// already blocked").
type Queue struct {
	ch   chan Message
	Wake func()
}

// New returns a Queue with the given capacity.
func New(capacity int) *Queue {
	return &Queue{ch: make(chan Message, capacity)}
}

// Post enqueues msg for the owning worker. It never blocks: if the queue
// is full, it returns ErrFull rather than stalling the producer thread.
func (q *Queue) Post(msg Message) error {
	select {
	case q.ch <- msg:
		if q.Wake != nil {
			q.Wake()
		}
		return nil
	default:
		return liberr.New(ErrFull, "")
	}
}

// Drain dispatches up to max queued messages via fn, returning the count
// dispatched. Called only from the owning Context's thread.
func (q *Queue) Drain(max int, fn func(Message)) int {
	n := 0
	for n < max {
		select {
		case msg := <-q.ch:
			fn(msg)
			n++
		default:
			return n
		}
	}
	return n
}

// Len reports the number of currently queued messages.
func (q *Queue) Len() int {
	return len(q.ch)
}
