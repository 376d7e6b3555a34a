package nanorun

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestThreadStartStop(t *testing.T) {
	var ticks atomic.Int64
	th := New("worker", func(t *Thread) {
		ticks.Add(1)
		t.Sleep()
	}, nil)

	th.Start()
	th.Wake()
	time.Sleep(20 * time.Millisecond)
	th.Stop()

	if ticks.Load() == 0 {
		t.Error("expected the loop body to run at least once")
	}
	if th.State() != ThreadStateInit {
		t.Errorf("expected state INIT after Stop, got %d", th.State())
	}
}

func TestThreadWakeBeforeSleepIsOneShot(t *testing.T) {
	done := make(chan struct{})
	th := New("worker", nil, nil)

	// Simulate the thread's own goroutine directly so we can observe
	// the one-shot skip deterministically.
	go func() {
		th.Wake() // RUNNING -> WAKE
		th.Sleep()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sleep should have returned immediately after a pending Wake")
	}
}

func TestThreadSleepWokenByWake(t *testing.T) {
	woke := make(chan struct{})
	th := New("worker", nil, nil)

	go func() {
		th.Sleep()
		close(woke)
	}()

	// Give the goroutine time to reach SLEEPING.
	time.Sleep(20 * time.Millisecond)
	th.Wake()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after Wake")
	}
}

func TestThreadTimerWakesSleep(t *testing.T) {
	th := New("worker", nil, nil)
	deadline := th.InitTimer(10 * time.Millisecond)

	woke := make(chan struct{})
	go func() {
		for !th.CheckTimer(deadline) {
			th.Sleep()
		}
		close(woke)
	}()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("timer did not wake the thread")
	}
}

func TestThreadStopDuringSleepExits(t *testing.T) {
	var iterations atomic.Int64
	th := New("worker", func(t *Thread) {
		iterations.Add(1)
		t.Sleep()
	}, nil)
	th.Start()
	time.Sleep(10 * time.Millisecond)
	th.Stop()

	if th.State() != ThreadStateInit {
		t.Errorf("expected INIT after stop, got %d", th.State())
	}
}

func TestMainThread(t *testing.T) {
	m := NewMain(nil)
	if m.State() != ThreadStateRunning {
		t.Errorf("expected main thread RUNNING, got %d", m.State())
	}
	if m.Name() != "main" {
		t.Errorf("expected name 'main', got %q", m.Name())
	}
}
