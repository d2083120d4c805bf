package sync

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kmn/catapult-server/src/cache"
	"github.com/kmn/catapult-server/src/chain"
	"github.com/kmn/catapult-server/src/disruptor"
	"github.com/kmn/catapult-server/src/model"
	"github.com/kmn/catapult-server/src/net"
	"github.com/kmn/catapult-server/src/peers"
	"github.com/kmn/catapult-server/src/storage"
)

// ErrIncompatiblePeer reports a peer whose fork point lies beyond the
// rollback cap. Such a peer can never be synchronized with and is
// blacklisted.
var ErrIncompatiblePeer = errors.New("sync: peer fork exceeds rollback cap")

// Config carries the synchronizer knobs.
type Config struct {
	MaxRollbackBlocks   uint64
	SyncBatchSize       uint32
	MaxHashesPerRequest uint32
	NumPeersToSample    int
	BlacklistInterval   time.Duration
}

// BlockRangeSubmitter delivers an adopted suffix to the pipeline. The commit
// stage performs the actual rollback-then-apply on the authoritative caches.
type BlockRangeSubmitter func(blocks []*model.Block, completion disruptor.ProcessingCompleteFunc) (uint64, error)

// Synchronizer compares chain scores with peers and, when a peer is ahead,
// negotiates the common ancestor, pulls the divergent suffix, evaluates it on
// a detached delta and hands the winner to the pipeline. It never mutates
// local state itself.
type Synchronizer struct {
	conf      Config
	localID   uint32
	trans     net.Transport
	peerSet   *peers.PeerSet
	caches    *cache.CatapultCache
	store     storage.Store
	executor  *chain.Executor
	submitter BlockRangeSubmitter
	blacklist *Blacklist
	logger    *logrus.Entry
}

// NewSynchronizer creates a synchronizer.
func NewSynchronizer(
	conf Config,
	localID uint32,
	trans net.Transport,
	peerSet *peers.PeerSet,
	caches *cache.CatapultCache,
	store storage.Store,
	executor *chain.Executor,
	submitter BlockRangeSubmitter,
	logger *logrus.Entry,
) *Synchronizer {
	return &Synchronizer{
		conf:      conf,
		localID:   localID,
		trans:     trans,
		peerSet:   peerSet,
		caches:    caches,
		store:     store,
		executor:  executor,
		submitter: submitter,
		blacklist: NewBlacklist(nil),
		logger:    logger.WithField("component", "synchronizer"),
	}
}

// Round performs one synchronization round. Network errors and invalid
// blocks abort the round and briefly blacklist the peer; nothing mutates
// local state on failure.
func (s *Synchronizer) Round() error {
	localScore := s.store.ChainScore()
	localHeight := s.store.ChainHeight()
	if localHeight == 0 {
		return nil
	}

	best, bestInfo := s.findBestPeer(localScore)
	if best == nil {
		return nil
	}

	logger := s.logger.WithFields(logrus.Fields{
		"peer":        best.ID(),
		"peer_height": bestInfo.Height,
	})
	logger.Debug("Peer chain is ahead")

	if err := s.pullAndEvaluate(best, bestInfo, localScore, localHeight); err != nil {
		logger.WithError(err).Debug("Sync round failed")
		s.blacklist.Add(best.ID(), s.conf.BlacklistInterval)
		return err
	}

	return nil
}

// findBestPeer samples peers and returns the highest-scoring one whose score
// exceeds the local score.
func (s *Synchronizer) findBestPeer(localScore chain.Score) (*peers.Peer, *net.ChainInfoResponse) {
	sample := s.peerSet.Sample(s.conf.NumPeersToSample, s.localID)

	var best *peers.Peer
	var bestInfo *net.ChainInfoResponse
	bestScore := localScore

	for _, peer := range sample {
		if s.blacklist.Contains(peer.ID()) {
			continue
		}

		var resp net.ChainInfoResponse
		if err := s.trans.ChainInfo(peer.NetAddr, &net.ChainInfoRequest{FromID: s.localID}, &resp); err != nil {
			s.logger.WithError(err).WithField("peer", peer.ID()).Debug("ChainInfo failed")
			continue
		}

		peerScore := chain.NewScore(resp.ScoreHigh, resp.ScoreLow)
		if peerScore.Cmp(bestScore) > 0 {
			best = peer
			respCopy := resp
			bestInfo = &respCopy
			bestScore = peerScore
		}
	}

	return best, bestInfo
}

func (s *Synchronizer) pullAndEvaluate(peer *peers.Peer, info *net.ChainInfoResponse, localScore chain.Score, localHeight uint64) error {
	ancestor, err := s.findCommonAncestor(peer, info.Height, localHeight)
	if err != nil {
		return err
	}

	if localHeight-ancestor > s.conf.MaxRollbackBlocks {
		return errors.Wrapf(ErrIncompatiblePeer, "ancestor %d, local height %d", ancestor, localHeight)
	}

	suffix, err := s.pullBlocks(peer, ancestor+1, info.Height)
	if err != nil {
		return err
	}
	if len(suffix) == 0 {
		return errors.New("peer served an empty suffix")
	}

	peerScore, tipHash, err := s.evaluate(suffix, ancestor, localHeight)
	if err != nil {
		return err
	}

	localTipElement, err := s.store.LoadBlockElement(localHeight)
	if err != nil {
		return err
	}

	// chain-selection rule: strictly higher score wins, equal scores fall to
	// the lower tip hash
	if chain.CompareChains(peerScore, tipHash, localScore, localTipElement.EntityHash) <= 0 {
		s.logger.WithFields(logrus.Fields{
			"peer":       peer.ID(),
			"peer_score": peerScore.String(),
		}).Debug("Peer suffix does not beat local chain")
		return nil
	}

	_, err = s.submitter(suffix, func(id uint64, result disruptor.CompletionResult) {
		s.logger.WithFields(logrus.Fields{
			"id":     id,
			"status": result.Status.String(),
			"code":   result.Code.String(),
		}).Debug("Pulled suffix processed")
	})
	return err
}

// findCommonAncestor walks hash windows backwards from the lower of the two
// tips until a shared hash is found. The search gives up once it has walked
// past the rollback cap.
func (s *Synchronizer) findCommonAncestor(peer *peers.Peer, peerHeight, localHeight uint64) (uint64, error) {
	top := peerHeight
	if localHeight < top {
		top = localHeight
	}

	window := uint64(s.conf.MaxHashesPerRequest)
	if window == 0 {
		window = 32
	}

	for top >= 1 {
		from := uint64(1)
		if top >= window {
			from = top - window + 1
		}

		var resp net.BlockHashesResponse
		req := &net.BlockHashesRequest{FromID: s.localID, Height: from, MaxHashes: uint32(top - from + 1)}
		if err := s.trans.BlockHashes(peer.NetAddr, req, &resp); err != nil {
			return 0, errors.Wrap(err, "requesting block hashes")
		}
		if uint64(len(resp.Hashes)) != top-from+1 {
			return 0, errors.Errorf("peer returned %d hashes, want %d", len(resp.Hashes), top-from+1)
		}

		for h := top; h >= from; h-- {
			element, err := s.store.LoadBlockElement(h)
			if err != nil {
				return 0, err
			}
			if element.EntityHash == model.HashFromBytes(resp.Hashes[h-from]) {
				return h, nil
			}
			if h == 1 {
				break
			}
		}

		if from == 1 {
			break
		}
		if localHeight-from >= s.conf.MaxRollbackBlocks {
			// everything above the cap already mismatched
			return 0, errors.Wrap(ErrIncompatiblePeer, "no shared hash within rollback cap")
		}
		top = from - 1
	}

	return 0, errors.Wrap(ErrIncompatiblePeer, "no common ancestor")
}

// pullBlocks fetches the peer suffix [from, to] in size-capped chunks.
func (s *Synchronizer) pullBlocks(peer *peers.Peer, from, to uint64) ([]*model.Block, error) {
	batch := s.conf.SyncBatchSize
	if batch == 0 {
		batch = 64
	}

	var blocks []*model.Block
	for height := from; height <= to; {
		count := uint32(to - height + 1)
		if count > batch {
			count = batch
		}

		var resp net.PullBlocksResponse
		req := &net.PullBlocksRequest{FromID: s.localID, Height: height, MaxBlocks: count}
		if err := s.trans.PullBlocks(peer.NetAddr, req, &resp); err != nil {
			return nil, errors.Wrap(err, "pulling blocks")
		}
		if len(resp.Blocks) == 0 {
			return nil, errors.New("peer served no blocks")
		}

		for _, block := range resp.Blocks {
			if block.Body.Height != height {
				return nil, errors.Errorf("peer served block %d, want %d", block.Body.Height, height)
			}
			blocks = append(blocks, block)
			height++
		}
	}

	return blocks, nil
}

// evaluate replays the peer suffix on a detached delta rewound to the
// ancestor and returns the resulting total score and tip hash. The
// authoritative caches are never touched.
func (s *Synchronizer) evaluate(suffix []*model.Block, ancestor, localHeight uint64) (chain.Score, model.Hash, error) {
	detached := s.caches.DetachedDelta()

	// rewind to the ancestor using stored undo data, newest first
	score := s.store.ChainScore()
	for h := localHeight; h > ancestor; h-- {
		undoBytes, err := s.store.LoadUndo(h)
		if err != nil {
			return chain.ZeroScore, model.ZeroHash, err
		}
		undo, err := cache.DecodeUndo(undoBytes)
		if err != nil {
			return chain.ZeroScore, model.ZeroHash, err
		}
		if err := detached.ApplyUndo(undo); err != nil {
			return chain.ZeroScore, model.ZeroHash, err
		}

		parent, err := s.store.LoadBlock(h - 1)
		if err != nil {
			return chain.ZeroScore, model.ZeroHash, err
		}
		child, err := s.store.LoadBlock(h)
		if err != nil {
			return chain.ZeroScore, model.ZeroHash, err
		}
		score = score.Sub(chain.BlockScore(parent, child))
	}

	ancestorElement, err := s.store.LoadBlockElement(ancestor)
	if err != nil {
		return chain.ZeroScore, model.ZeroHash, err
	}

	parent := ancestorElement.Block
	parentHash := ancestorElement.EntityHash
	tipHash := model.ZeroHash

	for _, block := range suffix {
		if block.Body.PreviousHash != parentHash {
			return chain.ZeroScore, model.ZeroHash, errors.Errorf("unlinked block at height %d", block.Body.Height)
		}
		if ok, err := block.Verify(); err != nil || !ok {
			return chain.ZeroScore, model.ZeroHash, errors.Errorf("bad signature at height %d", block.Body.Height)
		}

		result, err := s.executor.ExecuteBlock(block, detached)
		if err != nil {
			return chain.ZeroScore, model.ZeroHash, err
		}
		if result.IsFailure() {
			return chain.ZeroScore, model.ZeroHash, errors.Errorf("invalid block at height %d: %s", block.Body.Height, result.String())
		}

		if s.caches.Verifiable() {
			if computed := detached.StateHash(); computed != block.Body.StateHash {
				return chain.ZeroScore, model.ZeroHash, errors.Errorf("state hash mismatch at height %d", block.Body.Height)
			}
		}

		score = score.Add(chain.BlockScore(parent, block))

		hash, err := block.Hash()
		if err != nil {
			return chain.ZeroScore, model.ZeroHash, err
		}
		parent = block
		parentHash = hash
		tipHash = hash
	}

	return score, tipHash, nil
}
