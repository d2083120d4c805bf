package disruptor

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kmn/catapult-server/src/model"
	"github.com/kmn/catapult-server/src/validators"
)

// ErrDisruptorClosed is returned by Submit after Shutdown.
var ErrDisruptorClosed = errors.New("disruptor: closed")

// stagedResult is what a stage worker hands to the commit sequencer.
type stagedResult struct {
	input  *ConsumerInput
	result ConsumerResult
}

// Disruptor is the staged consumer pipeline. Inputs enter a bounded ring,
// flow through the pre-commit stages on a worker pool (parallel across
// inputs, ordered per input) and reach the commit stage on a single
// sequencer goroutine that restores submission order. Producers block when
// the ring is full; nothing inside the ring is ever dropped silently.
type Disruptor struct {
	logger *logrus.Entry

	stages []Consumer
	commit Consumer

	ring     chan *ConsumerInput
	commitCh chan stagedResult

	nextID   uint64
	closed   int32
	closedMu sync.RWMutex

	shutdownCh chan struct{}
	workerWg   sync.WaitGroup
	seqWg      sync.WaitGroup
}

// NewDisruptor creates a pipeline with the given pre-commit stages and
// commit stage.
func NewDisruptor(ringSize int, stages []Consumer, commit Consumer, logger *logrus.Entry) *Disruptor {
	return &Disruptor{
		logger:     logger.WithField("component", "disruptor"),
		stages:     stages,
		commit:     commit,
		ring:       make(chan *ConsumerInput, ringSize),
		commitCh:   make(chan stagedResult, ringSize),
		shutdownCh: make(chan struct{}),
	}
}

// Start launches the stage workers and the commit sequencer.
func (d *Disruptor) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.workerWg.Add(1)
		go d.worker()
	}

	d.seqWg.Add(1)
	go d.sequencer()

	go func() {
		d.workerWg.Wait()
		close(d.commitCh)
	}()
}

// SubmitBlocks enqueues a block range. The call blocks while the ring is
// full. The returned id is echoed to the completion callback.
func (d *Disruptor) SubmitBlocks(blocks []*model.Block, source InputSource, completion ProcessingCompleteFunc) (uint64, error) {
	return d.submit(&ConsumerInput{Blocks: blocks, Source: source, completion: completion})
}

// SubmitTransactions enqueues a transaction range.
func (d *Disruptor) SubmitTransactions(txs []*model.Transaction, source InputSource, completion ProcessingCompleteFunc) (uint64, error) {
	return d.submit(&ConsumerInput{Transactions: txs, Source: source, completion: completion})
}

func (d *Disruptor) submit(input *ConsumerInput) (uint64, error) {
	d.closedMu.RLock()
	defer d.closedMu.RUnlock()

	if atomic.LoadInt32(&d.closed) == 1 {
		return 0, ErrDisruptorClosed
	}

	input.ID = atomic.AddUint64(&d.nextID, 1)
	if input.completion == nil {
		input.completion = func(uint64, CompletionResult) {}
	}

	d.ring <- input

	return input.ID, nil
}

// Shutdown stops the pipeline. Outstanding inputs are drained with
// Aborted(ErrShutdown); every submitted input still receives exactly one
// completion call.
func (d *Disruptor) Shutdown() {
	d.closedMu.Lock()
	if atomic.LoadInt32(&d.closed) == 1 {
		d.closedMu.Unlock()
		return
	}
	atomic.StoreInt32(&d.closed, 1)
	d.closedMu.Unlock()

	close(d.shutdownCh)
	d.workerWg.Wait()
	d.seqWg.Wait()

	d.logger.Debug("Disruptor stopped")
}

func (d *Disruptor) worker() {
	defer d.workerWg.Done()

	for {
		select {
		case input := <-d.ring:
			d.commitCh <- stagedResult{input: input, result: d.runStages(input)}
		case <-d.shutdownCh:
			// drain whatever is still queued so every completion fires
			for {
				select {
				case input := <-d.ring:
					d.commitCh <- stagedResult{
						input:  input,
						result: AbortWithError(validators.Neutral, ErrShutdown),
					}
				default:
					return
				}
			}
		}
	}
}

func (d *Disruptor) runStages(input *ConsumerInput) ConsumerResult {
	for _, stage := range d.stages {
		select {
		case <-d.shutdownCh:
			return AbortWithError(validators.Neutral, ErrShutdown)
		default:
		}

		if result := stage.Process(input); result.Abort {
			d.logger.WithFields(logrus.Fields{
				"id":     input.ID,
				"source": input.Source.String(),
				"stage":  stage.Name,
				"code":   result.Code.String(),
			}).Debug("Input dropped")
			return result
		}
	}

	return Continue()
}

// sequencer restores submission order and runs the commit stage. It is the
// single writer over the state caches.
func (d *Disruptor) sequencer() {
	defer d.seqWg.Done()

	pending := make(map[uint64]stagedResult)
	next := uint64(1)

	for staged := range d.commitCh {
		pending[staged.input.ID] = staged

		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			d.finish(ready)
		}
	}

	// anything left never got its predecessors; abort in id order
	for id := next; len(pending) > 0; id++ {
		if staged, ok := pending[id]; ok {
			delete(pending, id)
			staged.input.completion(id, CompletionResult{
				Status: Aborted,
				Code:   validators.Neutral,
				Err:    ErrShutdown,
			})
		}
	}
}

func (d *Disruptor) finish(staged stagedResult) {
	input := staged.input
	result := staged.result

	if !result.Abort && atomic.LoadInt32(&d.closed) == 1 {
		result = AbortWithError(validators.Neutral, ErrShutdown)
	}

	if !result.Abort {
		result = d.commit.Process(input)
	}

	if result.Abort {
		input.completion(input.ID, CompletionResult{Status: Aborted, Code: result.Code, Err: result.Err})
		return
	}

	input.completion(input.ID, CompletionResult{Status: Consumed, Code: validators.Success})
}
