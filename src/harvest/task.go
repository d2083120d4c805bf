package harvest

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kmn/catapult-server/src/disruptor"
	"github.com/kmn/catapult-server/src/model"
)

// TaskOptions wires the scheduled harvesting task to its collaborators.
type TaskOptions struct {
	// HarvestingAllowed indicates if harvesting is allowed.
	HarvestingAllowed func() bool

	// LastBlockElementSupplier supplies the last block of the chain.
	LastBlockElementSupplier func() *model.BlockElement

	// TimeSupplier supplies the current network time.
	TimeSupplier func() uint64

	// RangeConsumer consumes the harvested block, usually delivering it to
	// the disruptor queue.
	RangeConsumer func(blocks []*model.Block, completion disruptor.ProcessingCompleteFunc) (uint64, error)
}

// ScheduledHarvesterTask lets a harvester create a block and supplies the
// block to a consumer. At most one harvested block is in flight at a time,
// guarded by a single compare-and-set flag that the completion callback
// clears on any terminal outcome.
type ScheduledHarvesterTask struct {
	options   TaskOptions
	harvester *Harvester
	pending   int32
	logger    *logrus.Entry
}

// NewScheduledHarvesterTask creates a scheduled harvesting task around
// options and a harvester.
func NewScheduledHarvesterTask(options TaskOptions, harvester *Harvester, logger *logrus.Entry) *ScheduledHarvesterTask {
	return &ScheduledHarvesterTask{
		options:   options,
		harvester: harvester,
		logger:    logger.WithField("component", "harvester-task"),
	}
}

// Harvest triggers the harvesting process and, on successful block creation,
// supplies the block to the consumer. All forging errors are non-fatal; the
// task simply retries on the next tick.
func (t *ScheduledHarvesterTask) Harvest() {
	if !atomic.CompareAndSwapInt32(&t.pending, 0, 1) {
		return
	}

	if !t.options.HarvestingAllowed() {
		atomic.StoreInt32(&t.pending, 0)
		return
	}

	parent := t.options.LastBlockElementSupplier()
	now := t.options.TimeSupplier()

	block, err := t.harvester.Harvest(parent, now)
	if err != nil {
		t.logger.WithError(err).Warn("Harvesting attempt failed")
		atomic.StoreInt32(&t.pending, 0)
		return
	}
	if block == nil {
		atomic.StoreInt32(&t.pending, 0)
		return
	}

	_, err = t.options.RangeConsumer([]*model.Block{block}, func(id uint64, result disruptor.CompletionResult) {
		t.logger.WithFields(logrus.Fields{
			"id":     id,
			"status": result.Status.String(),
			"code":   result.Code.String(),
		}).Debug("Harvested block processed")
		atomic.StoreInt32(&t.pending, 0)
	})
	if err != nil {
		t.logger.WithError(err).Warn("Could not submit harvested block")
		atomic.StoreInt32(&t.pending, 0)
	}
}

// Pending reports whether a harvested block is awaiting processing.
func (t *ScheduledHarvesterTask) Pending() bool {
	return atomic.LoadInt32(&t.pending) == 1
}
