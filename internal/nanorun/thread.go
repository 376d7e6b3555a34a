// Package nanorun implements the cooperative thread runtime: one
// goroutine pinned to an OS thread per stage, sleep/wake semantics with
// one-shot wake latching, monotonic timers, and the idle-waiter used by
// flush to detect a quiescent graph.
package nanorun

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/behrlich/nanotube/internal/logging"
)

// ThreadState is the lifecycle state of a Thread.
type ThreadState int32

const (
	ThreadStateInit ThreadState = iota
	ThreadStateRunning
	ThreadStateStopReq
	ThreadStateStopped
)

// WakeState is the tri-valued latch used to implement one-shot wake()
// across the sleep boundary.
//
//	RUNNING --sleep()-->  SLEEPING
//	RUNNING --wake()-->   WAKE
//	SLEEPING --wake()-->  WAKE (condvar-signalled)
//	SLEEPING --wakeup()-> RUNNING (by the thread itself)
//	WAKE --sleep()-->     RUNNING (one-shot skip)
type WakeState int32

const (
	WakeStateRunning WakeState = iota
	WakeStateSleeping
	WakeStateWake
)

// Func is the body of a thread's loop. It is called repeatedly until a
// stop is requested; it is expected to do one unit of work per call and
// call t.Sleep() when there is nothing to do, rather than busy-spin.
type Func func(t *Thread)

// Thread is a cooperative task bound to one goroutine pinned to an OS
// thread while running. It implements the sleep/wake/timer contract of
// the engine's concurrency model; threads are never preempted except at
// the single suspension point, Sleep.
type Thread struct {
	name   string
	logger *logging.Logger

	threadState atomic.Int32
	wakeState   atomic.Int32

	mu   sync.Mutex
	cond *sync.Cond

	fn   Func
	done chan struct{}

	currentTimeValid bool
	currentTime      time.Time
	wakeTimeValid    bool
	wakeTime         time.Time

	idleWaiter *IdleWaiter
	isMain     bool
}

// New creates a user thread that will run fn in a loop once Start is
// called.
func New(name string, fn Func, logger *logging.Logger) *Thread {
	if logger != nil {
		logger = logger.WithComponent(name)
	}
	t := &Thread{
		name:   name,
		logger: logger,
		fn:     fn,
		done:   make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	t.threadState.Store(int32(ThreadStateInit))
	t.wakeState.Store(int32(WakeStateRunning))
	return t
}

// NewMain creates the main thread, bound to the calling goroutine. It
// has no loop function: the caller drives it directly by calling Sleep
// between polls, exactly as a user thread would, but never has Start
// called on it.
func NewMain(logger *logging.Logger) *Thread {
	t := New("main", nil, logger)
	t.isMain = true
	t.threadState.Store(int32(ThreadStateRunning))
	return t
}

// Name returns the thread's name.
func (t *Thread) Name() string { return t.name }

// State returns the current lifecycle state.
func (t *Thread) State() ThreadState {
	return ThreadState(t.threadState.Load())
}

// Start transitions INIT -> RUNNING and spawns the goroutine running
// the loop body. Calling it on a thread that is not in INIT is fatal.
func (t *Thread) Start() {
	if !t.threadState.CompareAndSwap(int32(ThreadStateInit), int32(ThreadStateRunning)) {
		Fatal("thread %q: Start called from state %d, expected INIT", t.name, t.State())
	}
	go t.loop()
}

// loop pins the goroutine to an OS thread (ublk-style stages require
// fixed thread identity for their lifetime) and runs fn forever until a
// stop is observed.
func (t *Thread) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.done)
	defer func() {
		t.threadState.Store(int32(ThreadStateStopped))
		if t.logger != nil {
			t.logger.Debugf("thread %q: stopped", t.name)
		}
	}()

	if t.logger != nil {
		t.logger.Debugf("thread %q: starting", t.name)
	}

	for t.State() != ThreadStateStopReq {
		t.fn(t)
	}
}

// Stop requests the thread to exit, wakes it so it observes the
// request promptly, and blocks until the goroutine has exited. Must be
// called from a different thread.
func (t *Thread) Stop() {
	if t.isMain {
		Fatal("thread %q: Stop called on the main thread", t.name)
	}
	if !t.threadState.CompareAndSwap(int32(ThreadStateRunning), int32(ThreadStateStopReq)) {
		if t.State() == ThreadStateInit {
			return
		}
	}
	t.Wake()
	<-t.done
	t.threadState.Store(int32(ThreadStateInit))
}

// Sleep suspends the calling thread until Wake is called or, if a timer
// is armed via InitTimer/CheckTimer, until the wake time is reached.
// This is the single suspension point in the runtime: stages must never
// block anywhere else. Must be called from the thread's own goroutine.
// Once a stop has been requested, Sleep does not return: the thread's
// goroutine exits.
func (t *Thread) Sleep() {
	if WakeState(t.wakeState.Load()) == WakeStateWake {
		t.wakeState.Store(int32(WakeStateRunning))
		return
	}

	t.mu.Lock()
	if t.State() == ThreadStateStopReq {
		t.mu.Unlock()
		runtime.Goexit()
	}

	if !t.wakeState.CompareAndSwap(int32(WakeStateRunning), int32(WakeStateSleeping)) {
		// A Wake landed after the check above: consume it without blocking.
		t.wakeState.Store(int32(WakeStateRunning))
		t.mu.Unlock()
		return
	}
	if t.idleWaiter != nil {
		t.idleWaiter.decBusy()
	}

	if t.wakeTimeValid {
		deadline := t.wakeTime
		t.wakeTimeValid = false
		for WakeState(t.wakeState.Load()) == WakeStateSleeping {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			timer := time.AfterFunc(remaining, func() {
				t.mu.Lock()
				if WakeState(t.wakeState.Load()) == WakeStateSleeping {
					t.cond.Broadcast()
				}
				t.mu.Unlock()
			})
			t.cond.Wait()
			timer.Stop()
		}
	} else {
		for WakeState(t.wakeState.Load()) == WakeStateSleeping {
			t.cond.Wait()
		}
	}

	// A timed-out sleep with no explicit wake() is still a transition
	// out of SLEEPING; treat it the same as a consumed wake. Wake already
	// counted the thread busy again; a timed-out sleep is counted here.
	if WakeState(t.wakeState.Load()) == WakeStateSleeping && t.idleWaiter != nil {
		t.idleWaiter.incBusy()
	}
	t.wakeState.Store(int32(WakeStateRunning))
	t.currentTimeValid = false
	t.mu.Unlock()
}

// Wake wakes the thread from its current or next call to Sleep. Safe to
// call from any goroutine. Waking a sleeping thread counts it busy again
// in its idle waiter before Wake returns.
func (t *Thread) Wake() {
	for {
		cur := WakeState(t.wakeState.Load())
		switch cur {
		case WakeStateRunning:
			if t.wakeState.CompareAndSwap(int32(WakeStateRunning), int32(WakeStateWake)) {
				return
			}
		case WakeStateSleeping:
			t.mu.Lock()
			if WakeState(t.wakeState.Load()) == WakeStateSleeping {
				t.wakeState.Store(int32(WakeStateWake))
				if t.idleWaiter != nil {
					t.idleWaiter.incBusy()
				}
				t.cond.Broadcast()
				t.mu.Unlock()
				return
			}
			t.mu.Unlock()
		case WakeStateWake:
			return
		}
	}
}

// CurrentTime returns a cached "now", refreshing it on first use after
// a wake-up.
func (t *Thread) CurrentTime() time.Time {
	if !t.currentTimeValid {
		t.currentTime = time.Now()
		t.currentTimeValid = true
	}
	return t.currentTime
}

// InitTimer computes a monotonic deadline d from now.
func (t *Thread) InitTimer(d time.Duration) time.Time {
	return t.CurrentTime().Add(d)
}

// CheckTimer reports whether deadline has been reached. If not, it
// records deadline as the next wake time, taking the minimum over any
// timer already pending, so a subsequent Sleep call may be woken by the
// deadline rather than blocking indefinitely.
func (t *Thread) CheckTimer(deadline time.Time) bool {
	now := t.CurrentTime()
	if !now.Before(deadline) {
		return true
	}
	t.mu.Lock()
	if !t.wakeTimeValid || deadline.Before(t.wakeTime) {
		t.wakeTime = deadline
		t.wakeTimeValid = true
	}
	t.mu.Unlock()
	return false
}

// setIdleWaiter binds an idle waiter to this thread. Only one waiter
// may monitor a thread at a time.
func (t *Thread) setIdleWaiter(w *IdleWaiter) {
	t.mu.Lock()
	t.idleWaiter = w
	t.mu.Unlock()
}

func (t *Thread) unsetIdleWaiter(w *IdleWaiter) {
	t.mu.Lock()
	if t.idleWaiter == w {
		t.idleWaiter = nil
	}
	t.mu.Unlock()
}

// isSleeping reports whether the thread is currently in the SLEEPING
// wake-state. Used by IdleWaiter.Monitor to decide the initial busy
// count contribution.
func (t *Thread) isSleeping() bool {
	return WakeState(t.wakeState.Load()) == WakeStateSleeping
}
