// Package cluster is the concurrency core for multi-threaded, shared-memory
// WebAssembly: goroutine-per-Wasm-thread scheduling, a
// stop-the-world suspend barrier (needed so memory.grow on a shared memory
// never races a running thread), and the interrupt flag wasi-threads and
// embedders use to ask a cluster's threads to exit voluntarily.
//
// tetratelabs/wazero predates wasi-threads and shared memories entirely, so
// this package has no direct counterpart there. It is translated into Go
// idiom from a C reference implementation of the same suspend/resume
// protocol (cluster.c, suspend.c) — see DESIGN.md.
package cluster

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/google/uuid"

	"github.com/gowasm/gowasm/internal/wasm"
)

// suspendState mirrors the C original's SUSPEND_STATE_* enum (suspend.h)
// exactly: a cluster is either running normally, in the process of
// stopping every thread, or (once at least one thread had to park waiting
// for a previous suspend) resuming them again.
type suspendState int

const (
	suspendStateNone suspendState = iota
	suspendStateStopping
	suspendStateResuming
)

// Cluster groups every thread (goroutine) instantiated from one
// module-with-shared-memory so they can be suspended, resumed, and
// interrupted together, matching struct cluster in cluster.c/h.
type Cluster struct {
	ID string

	mu     sync.Mutex
	cv     *sync.Cond
	stopCv *sync.Cond

	nrunners int
	nparked  int
	state    suspendState

	interrupt atomic.Bool

	sem *semaphore.Weighted
	eg  *errgroup.Group
	ctx context.Context
}

// New creates a Cluster. maxConcurrency bounds how many threads may run at
// once (the Go analogue of the source's cooperative "user-sched" variant,
// expressed as a scheduling policy over goroutines rather than a
// hand-rolled coroutine switcher — see DESIGN.md); zero means unbounded.
func New(ctx context.Context, maxConcurrency int64) *Cluster {
	eg, egCtx := errgroup.WithContext(ctx)
	c := &Cluster{ID: uuid.NewString(), eg: eg, ctx: egCtx}
	c.cv = sync.NewCond(&c.mu)
	c.stopCv = sync.NewCond(&c.mu)
	if maxConcurrency > 0 {
		c.sem = semaphore.NewWeighted(maxConcurrency)
	}
	return c
}

// Go registers and launches one thread. fn receives the cluster's shared
// context, cancelled the moment any registered thread returns an error
// (errgroup.WithContext), and runs until fn returns; the bookkeeping below
// mirrors cluster_add_thread/cluster_remove_thread exactly.
func (c *Cluster) Go(fn func(ctx context.Context) error) {
	c.addThread()
	c.eg.Go(func() error {
		defer c.removeThread()
		if c.sem != nil {
			if err := c.sem.Acquire(c.ctx, 1); err != nil {
				return err
			}
			defer c.sem.Release(1)
		}
		return fn(c.ctx)
	})
}

// Join waits for every registered thread to finish, returning the first
// non-nil error any of them returned (cluster_join plus errgroup's own
// first-error propagation).
func (c *Cluster) Join() error {
	return c.eg.Wait()
}

func (c *Cluster) addThread() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nrunners++
}

func (c *Cluster) removeThread() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nrunners--
	if c.nrunners == 0 {
		c.cv.Broadcast()
	}
	if c.state == suspendStateStopping {
		c.stopCv.Broadcast()
	}
}

// SetInterrupt requests every thread in the cluster exit at its next
// cooperative checkpoint (cluster_set_interrupt). Returns false if an
// interrupt was already pending.
func (c *Cluster) SetInterrupt() bool {
	return c.interrupt.CompareAndSwap(false, true)
}

// Interrupted reports whether SetInterrupt has been called.
func (c *Cluster) Interrupted() bool {
	return c.interrupt.Load()
}

// parked records the calling thread as stopped for the current suspend and
// blocks until the suspend completes, translated 1:1 from suspend.c's
// static parked().
func (c *Cluster) parked() {
	c.nparked++
	if c.nrunners == c.nparked+1 {
		c.stopCv.Broadcast()
	}
	for c.state == suspendStateStopping {
		c.stopCv.Wait()
	}
	c.nparked--
	if c.nparked == 0 {
		c.state = suspendStateNone
		c.stopCv.Broadcast()
	}
}

// checkSuspend is the per-checkpoint hot-path test (suspend_check_interrupt
// plus suspend_parked in suspend.c). The C original can only report a
// restartable error here and park later, once unwound to a point where
// it knows how to replay the interrupted instruction — a goroutine has
// no such problem, since its call stack, operand stack, and locals sit
// untouched across a blocking call. So this parks the calling goroutine
// in place for the duration of the suspend and returns once resumed;
// the interpreter loop simply continues from the same PC.
func (c *Cluster) checkSuspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == suspendStateStopping {
		c.parked()
	}
}

// CheckSuspend is wired onto every wasm.Instance this cluster runs
// (Instance.CheckSuspend), combining the interrupt flag with the suspend
// barrier the way cluster_check_interrupt does.
func (c *Cluster) CheckSuspend() error {
	if c.Interrupted() {
		return wasm.NewTrapError(wasm.TrapIDVoluntaryThreadExit, "interrupt")
	}
	c.checkSuspend()
	return nil
}

// SuspendThreads blocks until every other running thread has reached a
// checkpoint and parked, translated from suspend_threads. If a previous
// suspend is still resuming, this first waits for it to finish, then parks
// the caller for it and retries — identical control flow to the `retry:`
// label in suspend.c.
func (c *Cluster) SuspendThreads() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if c.state == suspendStateStopping {
			c.parked()
			continue
		}
		if c.state == suspendStateResuming {
			c.stopCv.Wait()
			continue
		}
		break
	}
	c.state = suspendStateStopping
	for c.nrunners != c.nparked+1 {
		c.stopCv.Wait()
	}
}

// ResumeThreads releases a suspend started by SuspendThreads, translated
// from resume_threads.
func (c *Cluster) ResumeThreads() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nparked > 0 {
		c.state = suspendStateResuming
	} else {
		c.state = suspendStateNone
	}
	c.stopCv.Broadcast()
}
