package disruptor

import (
	"github.com/sirupsen/logrus"

	"github.com/kmn/catapult-server/src/cache"
	"github.com/kmn/catapult-server/src/chain"
	"github.com/kmn/catapult-server/src/deltaset"
	"github.com/kmn/catapult-server/src/mempool"
	"github.com/kmn/catapult-server/src/model"
	"github.com/kmn/catapult-server/src/storage"
	"github.com/kmn/catapult-server/src/validators"
)

// ProcessorConfig carries the consensus knobs the commit stage needs.
type ProcessorConfig struct {
	MaxRollbackBlocks uint64
	VerifyHits        bool
}

// Processor is the commit stage: the single writer over the state caches.
// For every surviving block range it acquires the delta, re-executes the
// transactions through the observers, verifies the declared state hash,
// appends to block storage with undo data, commits the caches and updates
// the chain score. Transaction ranges land in the mempool.
type Processor struct {
	caches   *cache.CatapultCache
	store    storage.Store
	executor *chain.Executor
	pool     *mempool.Mempool
	conf     ProcessorConfig
	logger   *logrus.Entry

	// sinks are fanned out after a successful commit; the hooks registry
	// injects them at boot.
	newBlockSink        func(*model.Block)
	newTransactionsSink func([]*model.TransactionInfo)
}

// NewProcessor creates the commit stage.
func NewProcessor(
	caches *cache.CatapultCache,
	store storage.Store,
	executor *chain.Executor,
	pool *mempool.Mempool,
	conf ProcessorConfig,
	newBlockSink func(*model.Block),
	newTransactionsSink func([]*model.TransactionInfo),
	logger *logrus.Entry,
) *Processor {
	return &Processor{
		caches:              caches,
		store:               store,
		executor:            executor,
		pool:                pool,
		conf:                conf,
		newBlockSink:        newBlockSink,
		newTransactionsSink: newTransactionsSink,
		logger:              logger.WithField("component", "commit"),
	}
}

// Consumer wraps the processor as the pipeline's commit stage.
func (p *Processor) Consumer() Consumer {
	return Consumer{
		Name: "CommitConsumer",
		Process: func(input *ConsumerInput) ConsumerResult {
			if input.IsBlockRange() {
				return p.commitBlocks(input)
			}
			return p.commitTransactions(input)
		},
	}
}

func (p *Processor) commitBlocks(input *ConsumerInput) ConsumerResult {
	if len(input.Elements) == 0 {
		return AbortWith(validators.Neutral)
	}

	firstHeight := input.Elements[0].Block.Body.Height
	tipHeight := p.store.ChainHeight()

	switch {
	case firstHeight == tipHeight+1:
		// plain extension
	case firstHeight <= tipHeight:
		// the range rewrites history; only a pulled-and-evaluated suffix may
		// do that
		if input.Source != SourceRemotePull {
			return AbortWith(validators.FailureChainUnlinked)
		}
		ancestor := firstHeight - 1
		if tipHeight-ancestor > p.conf.MaxRollbackBlocks {
			return AbortWith(validators.FailureChainUnlinked)
		}
		if result := p.rollbackTo(ancestor); result.Abort {
			return result
		}
	default:
		return AbortWith(validators.FailureChainUnlinked)
	}

	for _, element := range input.Elements {
		if result := p.commitOne(element, input.Source); result.Abort {
			return result
		}
	}

	return Continue()
}

// rollbackTo rewinds the authoritative caches and storage to ancestor using
// the stored per-block undo data, newest block first.
func (p *Processor) rollbackTo(ancestor uint64) ConsumerResult {
	tipHeight := p.store.ChainHeight()

	delta, err := p.caches.Delta()
	if err != nil {
		return AbortWithError(validators.Neutral, err)
	}

	score := p.store.ChainScore()
	for h := tipHeight; h > ancestor; h-- {
		undoBytes, err := p.store.LoadUndo(h)
		if err != nil {
			p.caches.Rollback(delta)
			return AbortWithError(validators.Neutral, err)
		}
		undo, err := cache.DecodeUndo(undoBytes)
		if err != nil {
			p.caches.Rollback(delta)
			return AbortWithError(validators.Neutral, err)
		}
		if err := delta.ApplyUndo(undo); err != nil {
			p.caches.Rollback(delta)
			return AbortWithError(validators.Neutral, err)
		}

		parent, err := p.store.LoadBlock(h - 1)
		if err != nil {
			p.caches.Rollback(delta)
			return AbortWithError(validators.Neutral, err)
		}
		child, err := p.store.LoadBlock(h)
		if err != nil {
			p.caches.Rollback(delta)
			return AbortWithError(validators.Neutral, err)
		}
		score = score.Sub(chain.BlockScore(parent, child))
	}

	if err := p.caches.Commit(delta, ancestor, deltaset.PruningBoundary{}); err != nil {
		p.caches.Rollback(delta)
		return AbortWithError(validators.Neutral, err)
	}

	if err := p.store.DropBlocksAfter(ancestor, score); err != nil {
		// storage and caches are now out of step; this is unrecoverable
		p.logger.WithError(err).Fatal("Dropping blocks after rollback failed")
	}

	p.logger.WithFields(logrus.Fields{
		"from": tipHeight,
		"to":   ancestor,
	}).Debug("Rolled back")

	return Continue()
}

// commitOne appends a single block on top of the current tip.
func (p *Processor) commitOne(element *model.BlockElement, source InputSource) ConsumerResult {
	block := element.Block
	height := block.Body.Height
	tipHeight := p.store.ChainHeight()

	if height != tipHeight+1 {
		return AbortWith(validators.FailureChainUnlinked)
	}

	parentElement, err := p.store.LoadBlockElement(tipHeight)
	if err != nil {
		return AbortWithError(validators.Neutral, err)
	}

	if block.Body.PreviousHash != parentElement.EntityHash {
		return AbortWith(validators.FailureChainUnlinked)
	}

	// re-derive the generation hash from the authoritative parent
	element.GenerationHash = model.NextGenerationHash(parentElement.GenerationHash, block.Body.Signer)

	delta, err := p.caches.Delta()
	if err != nil {
		return AbortWithError(validators.Neutral, err)
	}

	if p.conf.VerifyHits && source != SourceLocal {
		if result := p.verifyHit(block, parentElement, delta); result.Abort {
			p.caches.Rollback(delta)
			return result
		}
	}

	result, err := p.executor.ExecuteBlock(block, delta)
	if err != nil {
		p.caches.Rollback(delta)
		return AbortWithError(validators.Neutral, err)
	}
	if result.IsFailure() {
		p.caches.Rollback(delta)
		return AbortWith(result)
	}

	if p.caches.Verifiable() {
		computed := delta.StateHash()
		if computed != block.Body.StateHash {
			p.caches.Rollback(delta)
			if source == SourceLocal {
				// a self-harvested block disagreeing with our own execution
				// means the node state is corrupt
				p.logger.WithFields(logrus.Fields{
					"height":   height,
					"declared": block.Body.StateHash.Hex(),
					"computed": computed.Hex(),
				}).Fatal("State hash mismatch on self-harvested block")
			}
			return AbortWith(validators.FailureChainStateHashMismatch)
		}
	}

	undo := delta.BuildUndo(height)
	undoBytes, err := cache.EncodeUndo(undo)
	if err != nil {
		p.caches.Rollback(delta)
		return AbortWithError(validators.Neutral, err)
	}

	parentBlock := parentElement.Block
	score := p.store.ChainScore().Add(chain.BlockScore(parentBlock, block))

	if err := p.store.SaveBlock(element, undoBytes, score); err != nil {
		p.caches.Rollback(delta)
		p.logger.WithError(err).Fatal("Block storage write failed")
	}

	var boundary deltaset.PruningBoundary
	if height > p.conf.MaxRollbackBlocks {
		boundary = deltaset.NewPruningBoundary(height - p.conf.MaxRollbackBlocks)
	}

	if err := p.caches.Commit(delta, height, boundary); err != nil {
		p.logger.WithError(err).Fatal("Cache commit failed after storage write")
	}

	// confirmed transactions leave the mempool
	confirmed := make([]model.Hash, 0, len(element.Transactions))
	for _, te := range element.Transactions {
		confirmed = append(confirmed, te.EntityHash)
	}
	p.pool.RemoveAll(confirmed)

	if p.newBlockSink != nil {
		p.newBlockSink(block)
	}

	p.logger.WithFields(logrus.Fields{
		"height": height,
		"hash":   element.EntityHash.Hex(),
		"txs":    len(element.Transactions),
		"source": source.String(),
	}).Debug("Block committed")

	return Continue()
}

func (p *Processor) verifyHit(block *model.Block, parentElement *model.BlockElement, delta *cache.Delta) ConsumerResult {
	signerAccount, ok := delta.Reader().Account(block.Body.Signer)
	if !ok {
		return AbortWith(validators.FailureChainBlockNotHit)
	}

	var importance uint64
	if len(signerAccount.Importances) > 0 {
		importance = signerAccount.Importances[0].Importance
	}

	elapsed := block.Body.Timestamp - parentElement.Block.Body.Timestamp
	if !chain.IsHit(parentElement.GenerationHash, block.Body.Signer, elapsed, importance, block.Body.Difficulty) {
		return AbortWith(validators.FailureChainBlockNotHit)
	}

	return Continue()
}

func (p *Processor) commitTransactions(input *ConsumerInput) ConsumerResult {
	var added []*model.TransactionInfo
	for _, info := range input.Infos {
		if p.pool.Add(info) {
			added = append(added, info)
		}
	}

	if len(added) == 0 {
		return AbortWith(validators.Neutral)
	}

	if p.newTransactionsSink != nil {
		p.newTransactionsSink(added)
	}

	return Continue()
}
