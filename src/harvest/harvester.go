package harvest

import (
	"crypto/ecdsa"

	"github.com/sirupsen/logrus"

	"github.com/kmn/catapult-server/src/cache"
	"github.com/kmn/catapult-server/src/chain"
	"github.com/kmn/catapult-server/src/crypto/keys"
	"github.com/kmn/catapult-server/src/mempool"
	"github.com/kmn/catapult-server/src/model"
	"github.com/kmn/catapult-server/src/storage"
)

// Config carries the consensus knobs the harvester needs.
type Config struct {
	MaxTransactionsPerBlock int
	BlockTimeInterval       uint64
	ImportanceGrouping      uint64
	MaxDifficultyBlocks     uint64
}

// Harvester forges candidate blocks on top of the local tip. All speculative
// execution happens on detached deltas; the harvester never touches the
// authoritative caches.
type Harvester struct {
	conf     Config
	caches   *cache.CatapultCache
	store    storage.Store
	pool     *mempool.Mempool
	executor *chain.Executor
	signers  []*ecdsa.PrivateKey
	logger   *logrus.Entry
}

// NewHarvester creates a harvester for the given unlocked signing keys.
func NewHarvester(
	conf Config,
	caches *cache.CatapultCache,
	store storage.Store,
	pool *mempool.Mempool,
	executor *chain.Executor,
	signers []*ecdsa.PrivateKey,
	logger *logrus.Entry,
) *Harvester {
	return &Harvester{
		conf:     conf,
		caches:   caches,
		store:    store,
		pool:     pool,
		executor: executor,
		signers:  signers,
		logger:   logger.WithField("component", "harvester"),
	}
}

// Harvest attempts to forge a block on top of parent at the given network
// time. It returns nil without error when no unlocked key is eligible this
// round; that is the common case and not worth logging above debug.
func (h *Harvester) Harvest(parent *model.BlockElement, now uint64) (*model.Block, error) {
	parentTime := parent.Block.Body.Timestamp
	if now <= parentTime {
		return nil, nil
	}
	elapsed := now - parentTime

	height := parent.Block.Body.Height + 1
	difficulty := h.nextDifficulty()

	signer := h.selectSigner(parent, height, elapsed, difficulty)
	if signer == nil {
		return nil, nil
	}
	signerPub := keys.FromPublicKey(&signer.PublicKey)

	// filter candidates on a detached delta so failures cost nothing
	scratch := h.caches.DetachedDelta()
	candidates := h.pool.Get(h.conf.MaxTransactionsPerBlock)
	survivors := h.executor.ExecuteCandidate(candidates, scratch, height)

	txs := make([]*model.Transaction, 0, len(survivors))
	for _, info := range survivors {
		txs = append(txs, info.Transaction)
	}

	block, err := model.NewBlock(parent.Block, now, difficulty, signerPub, txs)
	if err != nil {
		return nil, err
	}

	// re-execute the assembled block on a fresh detached delta; its state
	// hash is exactly what the commit stage will compute
	final := h.caches.DetachedDelta()
	if result, err := h.executor.ExecuteBlock(block, final); err != nil {
		return nil, err
	} else if result.IsFailure() {
		h.logger.WithField("result", result.String()).Warn("Assembled block failed own validation")
		return nil, nil
	}
	block.Body.StateHash = final.StateHash()

	if err := block.Sign(signer); err != nil {
		return nil, err
	}

	h.logger.WithFields(logrus.Fields{
		"height":     height,
		"txs":        len(txs),
		"difficulty": difficulty,
	}).Debug("Harvested block")

	return block, nil
}

// selectSigner returns the unlocked key with the lowest eligible hit for
// this round, or nil when none qualifies.
func (h *Harvester) selectSigner(parent *model.BlockElement, height, elapsed, difficulty uint64) *ecdsa.PrivateKey {
	view := h.caches.View()

	var best *ecdsa.PrivateKey
	var bestHit uint64

	for _, key := range h.signers {
		pub := keys.FromPublicKey(&key.PublicKey)

		account, ok := view.Account(pub)
		if !ok {
			continue
		}
		importance := account.ImportanceAt(height, h.conf.ImportanceGrouping)
		if importance == 0 {
			continue
		}

		hit := chain.CalculateHit(parent.GenerationHash, pub)
		target := chain.CalculateTarget(elapsed, importance, difficulty)
		if hit >= target {
			continue
		}

		if best == nil || hit < bestHit {
			best = key
			bestHit = hit
		}
	}

	return best
}

// nextDifficulty derives the difficulty of the next block from the most
// recent stored blocks.
func (h *Harvester) nextDifficulty() uint64 {
	tip := h.store.ChainHeight()

	count := h.conf.MaxDifficultyBlocks
	if count == 0 || count > tip {
		count = tip
	}

	blocks := make([]*model.Block, 0, count)
	for height := tip - count + 1; height <= tip; height++ {
		block, err := h.store.LoadBlock(height)
		if err != nil {
			break
		}
		blocks = append(blocks, block)
	}

	return chain.CalculateDifficulty(blocks, h.conf.BlockTimeInterval)
}
