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

// Package intrusive implements a generic intrusive doubly linked list, the
// language-neutral replacement (spec §9) for the teacher corpus's
// macro-driven C intrusive lists. It backs channel outbound queues (spec
// §3 Channel.queue); the reactor keeps its descriptors in a map instead.
package intrusive

// Node is embedded by value types stored in a List. Callers never touch
// next/prev directly; they exist so List can splice without an auxiliary
// allocation per element.
type Node[T any] struct {
	next, prev *Element[T]
}

// Element wraps a value with its list linkage. Pushed elements are owned
// by exactly one List at a time.
type Element[T any] struct {
	Node[T]
	list  *List[T]
	Value T
}

// Next returns the following element, or nil at the tail.
func (e *Element[T]) Next() *Element[T] {
	if n := e.next; e.list != nil && n != &e.list.root {
		return n
	}
	return nil
}

// Prev returns the preceding element, or nil at the head.
func (e *Element[T]) Prev() *Element[T] {
	if p := e.prev; e.list != nil && p != &e.list.root {
		return p
	}
	return nil
}

// List is a circular intrusive doubly linked list with a sentinel root
// element, following the container/list pattern. It is not safe for
// concurrent use; callers needing cross-thread access serialize it
// themselves (channel.Channel guards its queue with a mutex).
type List[T any] struct {
	root Element[T]
	len  int
}

// New returns an initialized empty list.
func New[T any]() *List[T] {
	l := &List[T]{}
	l.root.next = &l.root
	l.root.prev = &l.root
	return l
}

// Len returns the number of elements in the list.
func (l *List[T]) Len() int {
	return l.len
}

// Front returns the first element, or nil if the list is empty.
func (l *List[T]) Front() *Element[T] {
	if l.len == 0 {
		return nil
	}
	return l.root.next
}

// Back returns the last element, or nil if the list is empty.
func (l *List[T]) Back() *Element[T] {
	if l.len == 0 {
		return nil
	}
	return l.root.prev
}

func (l *List[T]) insert(e, at *Element[T]) *Element[T] {
	e.prev = at
	e.next = at.next
	e.prev.next = e
	e.next.prev = e
	e.list = l
	l.len++
	return e
}

// PushBack appends value to the tail of the list and returns its element.
func (l *List[T]) PushBack(value T) *Element[T] {
	return l.insert(&Element[T]{Value: value}, l.root.prev)
}

// PushFront prepends value to the head of the list and returns its element.
func (l *List[T]) PushFront(value T) *Element[T] {
	return l.insert(&Element[T]{Value: value}, &l.root)
}

// Remove unlinks e from the list. It is a no-op if e does not belong to l.
func (l *List[T]) Remove(e *Element[T]) {
	if e.list != l {
		return
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.next = nil
	e.prev = nil
	e.list = nil
	l.len--
}

// PopFront removes and returns the head element's value. ok is false if
// the list was empty.
func (l *List[T]) PopFront() (value T, ok bool) {
	e := l.Front()
	if e == nil {
		return value, false
	}
	l.Remove(e)
	return e.Value, true
}

// Each calls fn for every element from front to back. fn may not mutate
// the list.
func (l *List[T]) Each(fn func(*Element[T])) {
	for e := l.Front(); e != nil; e = e.Next() {
		fn(e)
	}
}
