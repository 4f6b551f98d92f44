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
	"runtime"
	"sync"
	"time"

	liberr "github.com/sabouaram/streamcore/errors"
	"github.com/sabouaram/streamcore/reactor/queue"
)

// Worker is a Context plus placement/aging policy (spec §3 Worker): an
// integer index and the descriptor count used for least-loaded
// placement. OnInboxMessage is stored on the Worker, but the Context does
// not call it: each inter-thread inbox message runs its own Call function.
type Worker struct {
	Index int
	Ctx   *Context

	OnInboxMessage func(queue.Message)

	done chan struct{}
}

// Pool is the fixed process-wide array of Workers (spec §3: "Workers
// form a fixed process-wide array sized at init time").
type Pool struct {
	workers []*Worker
}

// NewPool creates n workers, each with its own Context. n defaults to
// runtime.NumCPU() when 0 (spec §6 `thread_count`, default = CPU count).
func NewPool(n int, connTimeout time.Duration, inboxCapacity int) (*Pool, error) {
	if n <= 0 {
		n = runtime.NumCPU()
	}

	p := &Pool{workers: make([]*Worker, n)}
	for i := 0; i < n; i++ {
		ctx, err := NewContext(inboxCapacity, connTimeout)
		if err != nil {
			return nil, err
		}
		w := &Worker{Index: i, Ctx: ctx, done: make(chan struct{})}
		p.workers[i] = w
	}
	return p, nil
}

// Start launches every worker's poll loop on its own goroutine, pinned
// to an OS thread (spec §3 "A Context runs exactly one thread").
func (p *Pool) Start() {
	for _, w := range p.workers {
		w := w
		go func() {
			defer close(w.done)
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			_ = w.Ctx.Run()
		}()
	}
}

// Stop requests every worker to drain and exit, then waits for all of
// them to finish.
func (p *Pool) Stop() {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		w.Ctx.Stop()
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			<-w.done
		}(w)
	}
	wg.Wait()
}

// Workers returns the pool's fixed worker array.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// LeastLoaded returns the worker with the fewest live descriptors (spec
// §4.3 "handed to the least-loaded worker").
func (p *Pool) LeastLoaded() *Worker {
	var best *Worker
	bestLoad := int(^uint(0) >> 1)
	for _, w := range p.workers {
		load := w.Ctx.descriptorCount()
		if load < bestLoad {
			bestLoad = load
			best = w
		}
	}
	return best
}

func (c *Context) descriptorCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.descriptors)
}

// DescriptorCount reports how many descriptors are currently live on
// this Context, the same load figure LeastLoaded compares across
// workers, exposed for callers that want to observe it directly (e.g.
// metrics.Collectors.WorkerLoad).
func (c *Context) DescriptorCount() int {
	return c.descriptorCount()
}

// ExecOn posts fn to run on this worker's context from any thread (spec
// §4.1 exec_on).
func (w *Worker) ExecOn(fn func()) error {
	return ExecOn(w.Ctx, fn)
}

var errNoWorkers = liberr.New(liberr.MinPkgWorker+1, "pool has no workers")

func init() {
	liberr.RegisterIdFctMessage(liberr.MinPkgWorker+1, func(c liberr.CodeError) string {
		if c == liberr.MinPkgWorker+1 {
			return "pool has no workers"
		}
		return ""
	})
	liberr.RegisterCategory(liberr.MinPkgWorker+1, liberr.CategoryConfig)
}

// ByIndex returns the worker at index i, or an error if out of range.
func (p *Pool) ByIndex(i int) (*Worker, error) {
	if len(p.workers) == 0 {
		return nil, errNoWorkers
	}
	if i < 0 || i >= len(p.workers) {
		return nil, liberr.New(liberr.MinPkgWorker+1, "worker index out of range")
	}
	return p.workers[i], nil
}
