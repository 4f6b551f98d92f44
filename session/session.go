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

// Package session implements the process-wide stream session table of
// spec §4.4: a session negotiates an encryption key and identity that
// may outlive the descriptor that created it, to permit reconnect
// within session_timeout_sec.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	liberr "github.com/sabouaram/streamcore/errors"
)

const (
	ErrNotFound  = liberr.MinPkgSession + 1
	ErrExhausted = liberr.MinPkgSession + 2
)

func init() {
	liberr.RegisterIdFctMessage(ErrNotFound, func(c liberr.CodeError) string {
		if c == ErrNotFound {
			return "session not found or expired"
		}
		return ""
	})
	liberr.RegisterIdFctMessage(ErrExhausted, func(c liberr.CodeError) string {
		if c == ErrExhausted {
			return "session id space exhausted"
		}
		return ""
	})
	liberr.RegisterCategory(ErrNotFound, liberr.CategoryInvalidState)
	liberr.RegisterCategory(ErrExhausted, liberr.CategoryResource)
}

// Session is spec §3's Stream session record.
type Session struct {
	ID         uint32
	Key        []byte
	Channels   map[byte]struct{}
	CipherID   uint8
	CreateTime time.Time

	mu         sync.Mutex
	lastActive time.Time
	attached   bool
}

// Touch records activity, resetting the eviction clock.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns the last recorded activity time.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// SetAttached marks whether a live descriptor currently serves this
// session; attached sessions are never evicted regardless of idle time
// (spec §4.4).
func (s *Session) SetAttached(attached bool) {
	s.mu.Lock()
	s.attached = attached
	s.mu.Unlock()
}

// Attached reports whether a descriptor currently owns this session.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// EventKind tags a session lifecycle notification (grounded on
// dap_notify_srv.c, supplemented per SPEC_FULL §3).
type EventKind uint8

const (
	EventOpened EventKind = iota
	EventClosed
	EventReattached
)

// Event is delivered to Store.Subscribe subscribers.
type Event struct {
	Kind EventKind
	ID   uint32
}

// Store is the process-wide session table of spec §4.4, guarded by an
// RWMutex (readers: Find; writers: Open, Close, the eviction sweep).
type Store struct {
	mu       sync.RWMutex
	sessions map[uint32]*Session
	timeout  time.Duration

	subMu sync.Mutex
	subs  []chan Event
}

// NewStore returns an empty Store evicting sessions idle past timeout.
func NewStore(timeout time.Duration) *Store {
	return &Store{sessions: make(map[uint32]*Session), timeout: timeout}
}

func (st *Store) freshID() (uint32, error) {
	for i := 0; i < 64; i++ {
		id := uuid.New().ID()
		if _, exists := st.sessions[id]; !exists {
			return id, nil
		}
	}
	return 0, liberr.New(ErrExhausted, "")
}

// Open creates a fresh session with a not-currently-present 32-bit id
// (spec §4.4 session_open).
func (st *Store) Open(cipherID uint8, channels []byte, key []byte) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	id, err := st.freshID()
	if err != nil {
		return nil, err
	}

	chSet := make(map[byte]struct{}, len(channels))
	for _, c := range channels {
		chSet[c] = struct{}{}
	}

	s := &Session{
		ID:         id,
		Key:        key,
		Channels:   chSet,
		CipherID:   cipherID,
		CreateTime: time.Now(),
		lastActive: time.Now(),
		attached:   true,
	}
	st.sessions[id] = s
	st.publish(Event{Kind: EventOpened, ID: id})
	return s, nil
}

// Reserve mints a session id without creating a session record yet. DSHP
// (spec §4.7) announces the session_id in handshake_response, before the
// later session_create message supplies the channel list; Reserve/Commit
// split Open across that boundary so the id the server quotes to the
// peer is the same id Commit later registers under.
func (st *Store) Reserve() (uint32, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.freshID()
}

// Commit registers a session under an id previously returned by Reserve,
// with the key derived at handshake_request time and the channel list
// supplied by session_create. Calling Commit with an id not obtained from
// Reserve still succeeds, recorded as a fresh entry.
func (st *Store) Commit(id uint32, cipherID uint8, channels []byte, key []byte) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	chSet := make(map[byte]struct{}, len(channels))
	for _, c := range channels {
		chSet[c] = struct{}{}
	}

	s := &Session{
		ID:         id,
		Key:        key,
		Channels:   chSet,
		CipherID:   cipherID,
		CreateTime: time.Now(),
		lastActive: time.Now(),
		attached:   true,
	}
	st.sessions[id] = s
	st.publish(Event{Kind: EventOpened, ID: id})
	return s
}

// Find returns the session if present and not expired (spec §4.4
// session_find).
func (st *Store) Find(id uint32) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, liberr.New(ErrNotFound, "")
	}
	if !s.Attached() && time.Since(s.LastActive()) > st.timeout {
		return nil, liberr.New(ErrNotFound, "")
	}
	return s, nil
}

// Close evicts a session outright. Calling it twice with the same id is
// a no-op on the second call (spec §8 idempotence).
func (st *Store) Close(id uint32) {
	st.mu.Lock()
	_, existed := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()

	if existed {
		st.publish(Event{Kind: EventClosed, ID: id})
	}
}

// Reattach marks a detached session as attached again (a reconnect
// within the timeout).
func (st *Store) Reattach(id uint32) (*Session, error) {
	s, err := st.Find(id)
	if err != nil {
		return nil, err
	}
	s.SetAttached(true)
	s.Touch()
	st.publish(Event{Kind: EventReattached, ID: id})
	return s, nil
}

// Sweep evicts every detached session whose last-active time exceeds the
// store's timeout (spec §4.4 eviction sweep, spec §8 invariant). It is
// intended to run on a periodic reactor timer.
func (st *Store) Sweep() int {
	now := time.Now()

	st.mu.Lock()
	var expired []uint32
	for id, s := range st.sessions {
		if !s.Attached() && now.Sub(s.LastActive()) > st.timeout {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(st.sessions, id)
	}
	st.mu.Unlock()

	for _, id := range expired {
		st.publish(Event{Kind: EventClosed, ID: id})
	}
	return len(expired)
}

// Len reports the number of sessions currently in the store.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Subscribe returns a channel of lifecycle Events (grounded on
// dap_notify_srv.c's local notification socket — kept in-process rather
// than as a network-exposed Unix socket transport, per SPEC_FULL §3).
// The returned channel is buffered; slow subscribers drop events rather
// than blocking the store.
func (st *Store) Subscribe() <-chan Event {
	ch := make(chan Event, 32)
	st.subMu.Lock()
	st.subs = append(st.subs, ch)
	st.subMu.Unlock()
	return ch
}

func (st *Store) publish(ev Event) {
	st.subMu.Lock()
	defer st.subMu.Unlock()
	for _, ch := range st.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
