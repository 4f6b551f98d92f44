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

package session_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/sabouaram/streamcore/session"
)

var _ = Describe("Store", func() {
	var store *Store

	BeforeEach(func() {
		store = NewStore(50 * time.Millisecond)
	})

	Describe("Open", func() {
		It("assigns pairwise-distinct ids across 1000 sessions (scenario 3)", func() {
			ids := make(map[uint32]struct{}, 1000)
			for i := 0; i < 1000; i++ {
				s, err := store.Open(1, []byte("E"), nil)
				Expect(err).ToNot(HaveOccurred())
				_, dup := ids[s.ID]
				Expect(dup).To(BeFalse())
				ids[s.ID] = struct{}{}
			}
			Expect(store.Len()).To(Equal(1000))
		})

		It("makes every opened session immediately findable", func() {
			s, err := store.Open(1, []byte("E"), nil)
			Expect(err).ToNot(HaveOccurred())

			found, err := store.Find(s.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(found.ID).To(Equal(s.ID))
		})
	})

	Describe("eviction", func() {
		It("evicts a detached session once it exceeds the timeout", func() {
			s, err := store.Open(1, nil, nil)
			Expect(err).ToNot(HaveOccurred())
			s.SetAttached(false)

			time.Sleep(80 * time.Millisecond)
			n := store.Sweep()
			Expect(n).To(Equal(1))

			_, err = store.Find(s.ID)
			Expect(err).To(HaveOccurred())
		})

		It("never evicts an attached session regardless of idle time", func() {
			s, err := store.Open(1, nil, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(s.Attached()).To(BeTrue())

			time.Sleep(80 * time.Millisecond)
			n := store.Sweep()
			Expect(n).To(Equal(0))

			_, err = store.Find(s.ID)
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Describe("Close", func() {
		It("is a no-op on the second call (idempotence)", func() {
			s, err := store.Open(1, nil, nil)
			Expect(err).ToNot(HaveOccurred())

			store.Close(s.ID)
			Expect(store.Len()).To(Equal(0))
			store.Close(s.ID)
			Expect(store.Len()).To(Equal(0))
		})
	})

	Describe("Subscribe", func() {
		It("delivers an opened event", func() {
			ch := store.Subscribe()
			s, err := store.Open(1, nil, nil)
			Expect(err).ToNot(HaveOccurred())

			Eventually(ch).Should(Receive(Equal(Event{Kind: EventOpened, ID: s.ID})))
		})
	})
})
