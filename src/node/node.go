package node

import (
	"crypto/ecdsa"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kmn/catapult-server/src/cache"
	"github.com/kmn/catapult-server/src/chain"
	"github.com/kmn/catapult-server/src/crypto"
	"github.com/kmn/catapult-server/src/crypto/keys"
	"github.com/kmn/catapult-server/src/deltaset"
	"github.com/kmn/catapult-server/src/disruptor"
	"github.com/kmn/catapult-server/src/harvest"
	"github.com/kmn/catapult-server/src/hooks"
	"github.com/kmn/catapult-server/src/mempool"
	"github.com/kmn/catapult-server/src/model"
	"github.com/kmn/catapult-server/src/net"
	"github.com/kmn/catapult-server/src/peers"
	"github.com/kmn/catapult-server/src/scheduler"
	"github.com/kmn/catapult-server/src/storage"
	chainsync "github.com/kmn/catapult-server/src/sync"
	"github.com/kmn/catapult-server/src/validators"
)

// nemesisGenerationSeed anchors the generation-hash chain. Every node derives
// the same nemesis generation hash from it.
const nemesisGenerationSeed = "catapult-nemesis-generation-seed"

// Node assembles the chain-synchronization and block-acceptance pipeline: the
// caches, the disruptor, the harvester, the synchronizer, the hooks and the
// scheduled tasks, on top of a transport and a block store.
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	key     *ecdsa.PrivateKey
	localID uint32

	trans net.Transport
	netCh <-chan net.RPC

	peerSet *peers.PeerSet

	caches   *cache.CatapultCache
	store    storage.Store
	pool     *mempool.Mempool
	executor *chain.Executor

	hooks        *hooks.ServerHooks
	pipeline     *disruptor.Disruptor
	harvestTask  *harvest.ScheduledHarvesterTask
	synchronizer *chainsync.Synchronizer
	sched        *scheduler.Scheduler
	clock        scheduler.Clock

	sigintCh   chan os.Signal
	shutdownCh chan struct{}
}

// NewNode is a factory method that returns an uninitialised Node.
func NewNode(
	conf *Config,
	key *ecdsa.PrivateKey,
	peerSet *peers.PeerSet,
	store storage.Store,
	trans net.Transport,
	clock scheduler.Clock,
) *Node {
	pub := keys.FromPublicKey(&key.PublicKey)
	localID := keys.PublicKeyID(pub)

	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGINT)

	if clock == nil {
		clock = scheduler.WallClock{}
	}

	logger := logrus.NewEntry(conf.Logger).WithField("this_id", localID)

	return &Node{
		conf:       conf,
		logger:     logger,
		key:        key,
		localID:    localID,
		trans:      trans,
		netCh:      trans.Consumer(),
		peerSet:    peerSet,
		store:      store,
		clock:      clock,
		sigintCh:   sigintCh,
		shutdownCh: make(chan struct{}),
	}
}

// Init builds the caches, seeds or replays the nemesis block, and wires the
// pipeline, hooks, harvester, synchronizer and scheduled tasks.
func (n *Node) Init() error {
	n.caches = cache.NewCatapultCache(n.conf.VerifiableState)
	n.executor = chain.NewExecutor(n.conf.ImportanceGrouping, n.logger)
	n.pool = mempool.NewMempool(n.conf.MempoolSize, n.logger)
	n.hooks = hooks.NewServerHooks(n.pool.Contains)

	if n.store.ChainHeight() == 0 {
		if err := n.createNemesis(); err != nil {
			return errors.Wrap(err, "creating nemesis")
		}
	} else if err := n.replayChain(); err != nil {
		return errors.Wrap(err, "replaying chain")
	}

	if err := n.initPipeline(); err != nil {
		return err
	}
	if err := n.initHooks(); err != nil {
		return err
	}
	n.initHarvester()
	n.initSynchronizer()
	n.initTasks()

	return nil
}

// createNemesis forges the deterministic height-1 block: every peer account
// is funded with the nemesis balance and given its initial importance.
func (n *Node) createNemesis() error {
	delta, err := n.caches.Delta()
	if err != nil {
		return err
	}

	for _, peer := range n.peerSet.Peers {
		pub, err := peer.PubKeyBytes()
		if err != nil {
			n.caches.Rollback(delta)
			return err
		}
		account := delta.Accounts.Modify(pub)
		account.Credit(chain.CurrencyMosaicID, n.conf.NemesisBalance)
		account.SetImportance(n.conf.NemesisBalance, 1)
	}

	block := &model.Block{
		Body: model.BlockBody{
			Height:     1,
			Timestamp:  0,
			Difficulty: chain.NemesisDifficulty,
		},
	}
	block.Body.StateHash = delta.StateHash()

	entityHash, err := block.Hash()
	if err != nil {
		n.caches.Rollback(delta)
		return err
	}

	seed := model.HashFromBytes(crypto.SHA256([]byte(nemesisGenerationSeed)))
	element := &model.BlockElement{
		Block:          block,
		EntityHash:     entityHash,
		GenerationHash: model.NextGenerationHash(seed, block.Body.Signer),
	}

	undoBytes, err := cache.EncodeUndo(delta.BuildUndo(1))
	if err != nil {
		n.caches.Rollback(delta)
		return err
	}

	if err := n.store.SaveBlock(element, undoBytes, chain.ZeroScore); err != nil {
		n.caches.Rollback(delta)
		return err
	}

	if err := n.caches.Commit(delta, 1, deltaset.PruningBoundary{}); err != nil {
		return err
	}

	n.logger.WithField("state_hash", block.Body.StateHash.Hex()).Debug("Nemesis created")
	return nil
}

// replayChain rebuilds the caches from an existing store by re-executing
// every block in order.
func (n *Node) replayChain() error {
	tip := n.store.ChainHeight()
	n.logger.WithField("height", tip).Debug("Replaying stored chain")

	for height := uint64(1); height <= tip; height++ {
		block, err := n.store.LoadBlock(height)
		if err != nil {
			return err
		}

		delta, err := n.caches.Delta()
		if err != nil {
			return err
		}

		if height == 1 {
			for _, peer := range n.peerSet.Peers {
				pub, err := peer.PubKeyBytes()
				if err != nil {
					n.caches.Rollback(delta)
					return err
				}
				account := delta.Accounts.Modify(pub)
				account.Credit(chain.CurrencyMosaicID, n.conf.NemesisBalance)
				account.SetImportance(n.conf.NemesisBalance, 1)
			}
		} else {
			if result, err := n.executor.ExecuteBlock(block, delta); err != nil {
				n.caches.Rollback(delta)
				return err
			} else if result.IsFailure() {
				n.caches.Rollback(delta)
				return errors.Errorf("stored block %d fails validation: %s", height, result.String())
			}
		}

		if n.caches.Verifiable() {
			if computed := delta.StateHash(); computed != block.Body.StateHash {
				n.caches.Rollback(delta)
				return errors.Errorf("stored block %d state hash mismatch", height)
			}
		}

		if err := n.caches.Commit(delta, height, deltaset.PruningBoundary{}); err != nil {
			return err
		}
	}

	return nil
}

func (n *Node) initPipeline() error {
	processor := disruptor.NewProcessor(
		n.caches,
		n.store,
		n.executor,
		n.pool,
		disruptor.ProcessorConfig{
			MaxRollbackBlocks: n.conf.MaxRollbackBlocks,
			VerifyHits:        n.conf.VerifyHits,
		},
		func(block *model.Block) { n.hooks.NewBlockSink()(block) },
		func(infos []*model.TransactionInfo) { n.hooks.NewTransactionsSink()(infos) },
		n.logger,
	)

	stages := []disruptor.Consumer{
		disruptor.NewHashCalculatorConsumer(),
		disruptor.NewBlockLinkConsumer(),
		disruptor.NewKnownHashConsumer(func(hash model.Hash) bool {
			return n.hooks.KnownHash()(hash)
		}),
		disruptor.NewStatelessValidationConsumer([]validators.StatelessValidator{
			validators.SignatureValidator{},
			validators.DeadlineValidator{},
		}),
		disruptor.NewStatefulValidationConsumer(
			validators.All(),
			func() validators.StateReader { return n.caches.View() },
			n.store.ChainHeight,
		),
	}

	n.pipeline = disruptor.NewDisruptor(n.conf.RingSize, stages, processor.Consumer(), n.logger)
	return nil
}

func (n *Node) initHooks() error {
	if err := n.hooks.SetCompletionAwareBlockRangeConsumerFactory(
		func(source disruptor.InputSource) hooks.CompletionAwareBlockRangeConsumerFunc {
			return func(blocks []*model.Block, completion disruptor.ProcessingCompleteFunc) (uint64, error) {
				return n.pipeline.SubmitBlocks(blocks, source, completion)
			}
		},
	); err != nil {
		return err
	}

	if err := n.hooks.SetBlockRangeConsumerFactory(
		func(source disruptor.InputSource) hooks.BlockRangeConsumerFunc {
			return func(blocks []*model.Block) error {
				_, err := n.pipeline.SubmitBlocks(blocks, source, nil)
				return err
			}
		},
	); err != nil {
		return err
	}

	if err := n.hooks.SetTransactionRangeConsumerFactory(
		func(source disruptor.InputSource) hooks.TransactionRangeConsumerFunc {
			return func(txs []*model.Transaction) error {
				_, err := n.pipeline.SubmitTransactions(txs, source, nil)
				return err
			}
		},
	); err != nil {
		return err
	}

	if err := n.hooks.SetRemoteChainHeightsRetriever(n.retrieveRemoteHeights); err != nil {
		return err
	}

	// committed blocks and fresh transactions fan out to the peers
	n.hooks.AddNewBlockSink(n.broadcastBlock)
	n.hooks.AddNewTransactionsSink(n.broadcastTransactions)

	return nil
}

func (n *Node) initHarvester() {
	harvester := harvest.NewHarvester(
		harvest.Config{
			MaxTransactionsPerBlock: n.conf.MaxTransactionsPerBlock,
			BlockTimeInterval:       n.conf.BlockTimeInterval,
			ImportanceGrouping:      n.conf.ImportanceGrouping,
			MaxDifficultyBlocks:     n.conf.MaxDifficultyBlocks,
		},
		n.caches,
		n.store,
		n.pool,
		n.executor,
		[]*ecdsa.PrivateKey{n.key},
		n.logger,
	)

	n.harvestTask = harvest.NewScheduledHarvesterTask(
		harvest.TaskOptions{
			HarvestingAllowed: func() bool {
				return n.getState() == Running && n.hooks.ChainSynced()()
			},
			LastBlockElementSupplier: n.lastBlockElement,
			TimeSupplier:             n.networkTime,
			RangeConsumer: func(blocks []*model.Block, completion disruptor.ProcessingCompleteFunc) (uint64, error) {
				return n.pipeline.SubmitBlocks(blocks, disruptor.SourceLocal, completion)
			},
		},
		harvester,
		n.logger,
	)
}

func (n *Node) initSynchronizer() {
	n.synchronizer = chainsync.NewSynchronizer(
		chainsync.Config{
			MaxRollbackBlocks:   n.conf.MaxRollbackBlocks,
			SyncBatchSize:       n.conf.SyncBatchSize,
			MaxHashesPerRequest: n.conf.MaxHashesPerRequest,
			NumPeersToSample:    n.conf.NumPeersToSample,
			BlacklistInterval:   n.conf.BlacklistInterval,
		},
		n.localID,
		n.trans,
		n.peerSet,
		n.caches,
		n.store,
		n.executor,
		func(blocks []*model.Block, completion disruptor.ProcessingCompleteFunc) (uint64, error) {
			return n.pipeline.SubmitBlocks(blocks, disruptor.SourceRemotePull, completion)
		},
		n.logger,
	)
}

func (n *Node) initTasks() {
	n.sched = scheduler.NewScheduler(n.clock, n.logger)

	n.sched.AddTask(scheduler.Task{
		Name:        "connect peers",
		StartDelay:  n.conf.ConnectStartDelay,
		RepeatDelay: n.conf.ConnectRepeatDelay,
		Callback:    n.probePeers,
	})

	n.sched.AddTask(scheduler.Task{
		Name:        "synchronizer",
		StartDelay:  n.conf.SyncStartDelay,
		RepeatDelay: n.conf.SyncRepeatDelay,
		Callback:    n.synchronizer.Round,
	})

	n.sched.AddTask(scheduler.Task{
		Name:        "harvesting",
		StartDelay:  n.conf.HarvestStartDelay,
		RepeatDelay: n.conf.HarvestRepeatDelay,
		Callback: func() error {
			n.harvestTask.Harvest()
			return nil
		},
	})
}

// RunAsync calls Run on a separate goroutine.
func (n *Node) RunAsync() {
	go n.Run()
}

// Run starts the transport, the pipeline and the scheduled tasks, then
// serves peer requests until shutdown.
func (n *Node) Run() {
	n.trans.Listen()
	n.pipeline.Start(n.conf.PipelineWorkers)
	n.setState(Running)
	n.sched.Start()

	for {
		select {
		case rpc := <-n.netCh:
			n.goFunc(func() { n.processRPC(rpc) })
		case <-n.sigintCh:
			n.logger.Debug("Reacting to SIGINT")
			n.Shutdown()
			os.Exit(0)
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.ChainInfoRequest:
		score := n.store.ChainScore()
		rpc.Respond(&net.ChainInfoResponse{
			FromID:    n.localID,
			ScoreHigh: score.High,
			ScoreLow:  score.Low,
			Height:    n.store.ChainHeight(),
		}, nil)

	case *net.BlockHashesRequest:
		resp := &net.BlockHashesResponse{FromID: n.localID}
		tip := n.store.ChainHeight()
		for h := cmd.Height; h < cmd.Height+uint64(cmd.MaxHashes) && h <= tip; h++ {
			element, err := n.store.LoadBlockElement(h)
			if err != nil {
				rpc.Respond(nil, err)
				return
			}
			hash := element.EntityHash
			resp.Hashes = append(resp.Hashes, hash[:])
		}
		rpc.Respond(resp, nil)

	case *net.PullBlocksRequest:
		resp := &net.PullBlocksResponse{FromID: n.localID}
		tip := n.store.ChainHeight()
		for h := cmd.Height; h < cmd.Height+uint64(cmd.MaxBlocks) && h <= tip; h++ {
			block, err := n.store.LoadBlock(h)
			if err != nil {
				rpc.Respond(nil, err)
				return
			}
			resp.Blocks = append(resp.Blocks, block)
		}
		rpc.Respond(resp, nil)

	case *net.PushBlockRequest:
		_, err := n.pipeline.SubmitBlocks([]*model.Block{cmd.Block}, disruptor.SourceRemotePush, nil)
		rpc.Respond(&net.PushBlockResponse{FromID: n.localID, Accepted: err == nil}, nil)

	case *net.PushTransactionsRequest:
		_, err := n.pipeline.SubmitTransactions(cmd.Transactions, disruptor.SourceRemotePush, nil)
		rpc.Respond(&net.PushTransactionsResponse{FromID: n.localID, Accepted: err == nil}, nil)

	default:
		rpc.Respond(nil, errors.Errorf("unexpected command"))
	}
}

// probePeers contacts every known peer for its chain info; unreachable peers
// are only logged, the synchronizer keeps its own blacklist.
func (n *Node) probePeers() error {
	reachable := 0
	for _, peer := range n.peerSet.Sample(n.peerSet.Len(), n.localID) {
		var resp net.ChainInfoResponse
		if err := n.trans.ChainInfo(peer.NetAddr, &net.ChainInfoRequest{FromID: n.localID}, &resp); err != nil {
			n.logger.WithError(err).WithField("peer", peer.ID()).Debug("Peer unreachable")
			continue
		}
		reachable++
	}

	n.logger.WithFields(logrus.Fields{
		"reachable": reachable,
		"known":     n.peerSet.Len() - 1,
	}).Debug("Peer probe")
	return nil
}

func (n *Node) retrieveRemoteHeights(numPeers int) ([]uint64, error) {
	var heights []uint64
	for _, peer := range n.peerSet.Sample(numPeers, n.localID) {
		var resp net.ChainInfoResponse
		if err := n.trans.ChainInfo(peer.NetAddr, &net.ChainInfoRequest{FromID: n.localID}, &resp); err != nil {
			continue
		}
		heights = append(heights, resp.Height)
	}
	return heights, nil
}

func (n *Node) broadcastBlock(block *model.Block) {
	for _, peer := range n.peerSet.Sample(n.peerSet.Len(), n.localID) {
		peer := peer
		n.goFunc(func() {
			var resp net.PushBlockResponse
			if err := n.trans.PushBlock(peer.NetAddr, &net.PushBlockRequest{FromID: n.localID, Block: block}, &resp); err != nil {
				n.logger.WithError(err).WithField("peer", peer.ID()).Debug("Block push failed")
			}
		})
	}
}

func (n *Node) broadcastTransactions(infos []*model.TransactionInfo) {
	txs := make([]*model.Transaction, 0, len(infos))
	for _, info := range infos {
		txs = append(txs, info.Transaction)
	}

	for _, peer := range n.peerSet.Sample(n.peerSet.Len(), n.localID) {
		peer := peer
		n.goFunc(func() {
			var resp net.PushTransactionsResponse
			req := &net.PushTransactionsRequest{FromID: n.localID, Transactions: txs}
			if err := n.trans.PushTransactions(peer.NetAddr, req, &resp); err != nil {
				n.logger.WithError(err).WithField("peer", peer.ID()).Debug("Transactions push failed")
			}
		})
	}
}

func (n *Node) lastBlockElement() *model.BlockElement {
	element, err := n.store.LoadBlockElement(n.store.ChainHeight())
	if err != nil {
		n.logger.WithError(err).Error("Could not load tip element")
		return nil
	}
	return element
}

func (n *Node) networkTime() uint64 {
	return uint64(n.clock.Now().Unix())
}

// SubmitTransaction routes a locally submitted transaction into the
// pipeline.
func (n *Node) SubmitTransaction(tx *model.Transaction) error {
	_, err := n.pipeline.SubmitTransactions([]*model.Transaction{tx}, disruptor.SourceLocal, nil)
	return err
}

// Shutdown stops the tasks, drains the pipeline and closes the transport and
// the store.
func (n *Node) Shutdown() {
	if n.getState() == Shutdown {
		return
	}

	n.logger.Debug("Shutdown")
	n.setState(Shutdown)
	close(n.shutdownCh)

	n.sched.Stop()
	n.pipeline.Shutdown()
	n.waitRoutines()

	n.trans.Close()
	n.store.Close()
}

// Hooks exposes the registration surface for extensions.
func (n *Node) Hooks() *hooks.ServerHooks {
	return n.hooks
}

// ChainScore returns the local total chain score.
func (n *Node) ChainScore() chain.Score {
	return n.store.ChainScore()
}

// ChainHeight returns the local chain height.
func (n *Node) ChainHeight() uint64 {
	return n.store.ChainHeight()
}

// StateHash returns the committed state hash.
func (n *Node) StateHash() model.Hash {
	return n.caches.StateHash()
}

// TipHash returns the entity hash of the chain tip.
func (n *Node) TipHash() model.Hash {
	element, err := n.store.LoadBlockElement(n.store.ChainHeight())
	if err != nil {
		return model.ZeroHash
	}
	return element.EntityHash
}

// ID returns the node's identifier.
func (n *Node) ID() uint32 {
	return n.localID
}

// GetBlock returns a block by height.
func (n *Node) GetBlock(height uint64) (*model.Block, error) {
	return n.store.LoadBlock(height)
}

// GetPeers returns the peers.
func (n *Node) GetPeers() []*peers.Peer {
	return n.peerSet.Peers
}

// Mempool returns the unconfirmed-transactions cache.
func (n *Node) Mempool() *mempool.Mempool {
	return n.pool
}

// GetStats returns stats.
func (n *Node) GetStats() map[string]string {
	score := n.store.ChainScore()

	return map[string]string{
		"chain_height":     strconv.FormatUint(n.store.ChainHeight(), 10),
		"chain_score_high": strconv.FormatUint(score.High, 10),
		"chain_score_low":  strconv.FormatUint(score.Low, 10),
		"state_hash":       n.caches.StateHash().Hex(),
		"mempool":          strconv.Itoa(n.pool.Len()),
		"num_peers":        strconv.Itoa(n.peerSet.Len()),
		"id":               strconv.FormatUint(uint64(n.localID), 10),
		"state":            n.getState().String(),
	}
}
