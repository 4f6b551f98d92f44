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

// Package timer implements the reactor's one-shot/periodic timer
// descriptor (spec §4.2) with the coalesced re-arm behavior of
// dap_timerfd.c: a periodic timer whose callback runs longer than its
// own period is re-armed for now+period, skipping any missed ticks,
// instead of queueing a backlog of overdue fires.
package timer

import "time"

// Callback returns true to re-arm with the same period, false to let the
// reactor delete the timer (spec §4.2).
type Callback func(arg any) bool

// Timer is a reactor descriptor of type timer (spec §3 Descriptor.Kind).
type Timer struct {
	Period   time.Duration
	Callback Callback
	Arg      any
	periodic bool

	nextFire time.Time
	deleted  bool
}

// New creates a one-shot or periodic timer firing after period. If
// periodic is false, the first false/true return from Callback is
// ignored and the timer is deleted after one fire.
func New(period time.Duration, periodic bool, cb Callback, arg any) *Timer {
	return &Timer{
		Period:   period,
		Callback: cb,
		Arg:      arg,
		periodic: periodic,
		nextFire: time.Now().Add(period),
	}
}

// Due reports whether the timer's next fire time has passed as of now.
func (t *Timer) Due(now time.Time) bool {
	return !t.deleted && !now.Before(t.nextFire)
}

// Deleted reports whether the reactor has removed this timer.
func (t *Timer) Deleted() bool {
	return t.deleted
}

// Fire invokes the callback and re-arms using coalesced scheduling:
// the next fire is now+period, not lastFire+period, so a callback that
// overran its period by several ticks does not produce a burst of
// immediate re-fires to make up lost time.
func (t *Timer) Fire(now time.Time) {
	if t.deleted {
		return
	}

	rearm := t.Callback(t.Arg)
	if !t.periodic || !rearm {
		t.deleted = true
		return
	}
	t.nextFire = now.Add(t.Period)
}

// Reset reschedules the timer for now+period, safe to call from any
// thread via the owning Context's exec_on (spec §4.2).
func (t *Timer) Reset(now time.Time) {
	t.nextFire = now.Add(t.Period)
	t.deleted = false
}

// Delete marks the timer for removal; safe to call from any thread via
// exec_on.
func (t *Timer) Delete() {
	t.deleted = true
}
