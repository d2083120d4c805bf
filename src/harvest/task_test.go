package harvest

import (
	"crypto/ecdsa"
	"sync/atomic"
	"testing"

	"github.com/kmn/catapult-server/src/common"
	"github.com/kmn/catapult-server/src/disruptor"
	"github.com/kmn/catapult-server/src/model"
)

func newTask(t *testing.T, f *fixture, options TaskOptions) *ScheduledHarvesterTask {
	harvester := NewHarvester(f.conf, f.caches, f.store, f.pool, f.executor, []*ecdsa.PrivateKey{f.key}, common.NewTestEntry(t))
	return NewScheduledHarvesterTask(options, harvester, common.NewTestEntry(t))
}

func TestTaskDeliversHarvestedBlock(t *testing.T) {
	f := newFixture(t)

	var delivered int32
	var completion disruptor.ProcessingCompleteFunc

	task := newTask(t, f, TaskOptions{
		HarvestingAllowed:        func() bool { return true },
		LastBlockElementSupplier: func() *model.BlockElement { return f.tip(t) },
		TimeSupplier:             func() uint64 { return 100 },
		RangeConsumer: func(blocks []*model.Block, c disruptor.ProcessingCompleteFunc) (uint64, error) {
			atomic.AddInt32(&delivered, 1)
			completion = c
			return 1, nil
		},
	})

	task.Harvest()
	if atomic.LoadInt32(&delivered) != 1 {
		t.Fatal("block not delivered")
	}
	if !task.Pending() {
		t.Fatal("pending flag should be set while the block is in flight")
	}

	// the pending flag blocks further submissions
	task.Harvest()
	if atomic.LoadInt32(&delivered) != 1 {
		t.Fatal("overlapping submission")
	}

	// any terminal outcome clears the flag
	completion(1, disruptor.CompletionResult{Status: disruptor.Aborted})
	if task.Pending() {
		t.Fatal("pending flag not cleared by completion")
	}

	task.Harvest()
	if atomic.LoadInt32(&delivered) != 2 {
		t.Fatal("task did not retry after completion")
	}
}

func TestTaskRespectsHarvestingAllowed(t *testing.T) {
	f := newFixture(t)

	task := newTask(t, f, TaskOptions{
		HarvestingAllowed:        func() bool { return false },
		LastBlockElementSupplier: func() *model.BlockElement { return f.tip(t) },
		TimeSupplier:             func() uint64 { return 100 },
		RangeConsumer: func(blocks []*model.Block, c disruptor.ProcessingCompleteFunc) (uint64, error) {
			t.Fatal("consumer invoked while harvesting disallowed")
			return 0, nil
		},
	})

	task.Harvest()
	if task.Pending() {
		t.Fatal("pending flag should be clear")
	}
}

func TestTaskClearsPendingWhenNothingHarvested(t *testing.T) {
	f := newFixture(t)

	task := newTask(t, f, TaskOptions{
		HarvestingAllowed:        func() bool { return true },
		LastBlockElementSupplier: func() *model.BlockElement { return f.tip(t) },
		// zero elapsed time, so the harvester declines
		TimeSupplier: func() uint64 { return 0 },
		RangeConsumer: func(blocks []*model.Block, c disruptor.ProcessingCompleteFunc) (uint64, error) {
			t.Fatal("consumer invoked without a block")
			return 0, nil
		},
	})

	task.Harvest()
	if task.Pending() {
		t.Fatal("pending flag should be clear after a silent round")
	}
}
