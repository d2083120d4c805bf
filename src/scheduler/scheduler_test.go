package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/kmn/catapult-server/src/common"
)

// settle gives the task goroutines a moment to react to a clock advance.
func settle() {
	time.Sleep(10 * time.Millisecond)
}

func TestTaskRunsOnVirtualClockCadence(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	sched := NewScheduler(clock, common.NewTestEntry(t))

	var runs int32
	sched.AddTask(Task{
		Name:        "tick",
		StartDelay:  5 * time.Second,
		RepeatDelay: 10 * time.Second,
		Callback: func() error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	sched.Start()
	defer sched.Stop()

	settle()
	if atomic.LoadInt32(&runs) != 0 {
		t.Fatal("task ran before its start delay")
	}

	clock.Advance(5 * time.Second)
	settle()
	if atomic.LoadInt32(&runs) != 1 {
		t.Fatalf("after start delay: got %d runs, want 1", runs)
	}

	clock.Advance(10 * time.Second)
	settle()
	if atomic.LoadInt32(&runs) != 2 {
		t.Fatalf("after one repeat: got %d runs, want 2", runs)
	}

	// an advance smaller than the repeat delay must not fire
	clock.Advance(5 * time.Second)
	settle()
	if atomic.LoadInt32(&runs) != 2 {
		t.Fatalf("partial advance fired the task: got %d runs", runs)
	}
}

func TestCallbackErrorDoesNotStopTask(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	sched := NewScheduler(clock, common.NewTestEntry(t))

	var runs int32
	sched.AddTask(Task{
		Name:        "flaky",
		StartDelay:  time.Second,
		RepeatDelay: time.Second,
		Callback: func() error {
			atomic.AddInt32(&runs, 1)
			return errors.New("boom")
		},
	})

	sched.Start()
	defer sched.Stop()

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		settle()
	}

	if atomic.LoadInt32(&runs) < 3 {
		t.Fatalf("failing task stopped repeating: %d runs", runs)
	}
}

func TestRepeatDelayMeasuredFromCompletion(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	sched := NewScheduler(clock, common.NewTestEntry(t))

	started := make(chan struct{})
	finish := make(chan struct{})
	var runs int32

	sched.AddTask(Task{
		Name:        "slow",
		StartDelay:  0,
		RepeatDelay: time.Second,
		Callback: func() error {
			if atomic.AddInt32(&runs, 1) == 1 {
				started <- struct{}{}
				<-finish
			}
			return nil
		},
	})

	sched.Start()
	defer sched.Stop()

	<-started

	// while the first run is still in flight, advancing the clock must not
	// start a second run
	clock.Advance(5 * time.Second)
	settle()
	if atomic.LoadInt32(&runs) != 1 {
		t.Fatal("task overlapped itself")
	}

	close(finish)
	settle()
	clock.Advance(time.Second)
	settle()
	if atomic.LoadInt32(&runs) != 2 {
		t.Fatalf("repeat after completion: got %d runs, want 2", runs)
	}
}

func TestStopHaltsTasks(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	sched := NewScheduler(clock, common.NewTestEntry(t))

	var runs int32
	sched.AddTask(Task{
		Name:        "tick",
		StartDelay:  time.Second,
		RepeatDelay: time.Second,
		Callback: func() error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	sched.Start()
	clock.Advance(time.Second)
	settle()
	sched.Stop()

	before := atomic.LoadInt32(&runs)
	clock.Advance(10 * time.Second)
	settle()
	if atomic.LoadInt32(&runs) != before {
		t.Fatal("task ran after Stop")
	}
}
