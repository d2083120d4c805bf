package net

import (
	"github.com/kmn/catapult-server/src/model"
)

// Packet types. Every frame on the wire carries one of these in its header.
const (
	PacketTypeChainInfo uint32 = iota + 1
	PacketTypeBlockHashes
	PacketTypePullBlocks
	PacketTypePushBlock
	PacketTypePushTransactions
)

// ChainInfoRequest asks a peer for its chain score and height. The
// synchronizer compares the response against the local chain to decide
// whether a pull round is worthwhile.
type ChainInfoRequest struct {
	FromID uint32
}

// ChainInfoResponse carries a peer's 128-bit total chain score, split into
// 64-bit halves, and its chain height.
type ChainInfoResponse struct {
	FromID    uint32
	ScoreHigh uint64
	ScoreLow  uint64
	Height    uint64
}

// BlockHashesRequest asks for a window of block hashes starting at Height,
// ascending. The synchronizer walks these windows backwards to negotiate the
// common ancestor.
type BlockHashesRequest struct {
	FromID    uint32
	Height    uint64
	MaxHashes uint32
}

// BlockHashesResponse returns the requested hash window.
type BlockHashesResponse struct {
	FromID uint32
	Hashes [][]byte
}

// PullBlocksRequest asks for a chunk of full blocks starting at Height,
// ascending.
type PullBlocksRequest struct {
	FromID    uint32
	Height    uint64
	MaxBlocks uint32
}

// PullBlocksResponse returns the requested blocks.
type PullBlocksResponse struct {
	FromID uint32
	Blocks []*model.Block
}

// PushBlockRequest announces a freshly harvested or received block.
type PushBlockRequest struct {
	FromID uint32
	Block  *model.Block
}

// PushBlockResponse acknowledges a pushed block.
type PushBlockResponse struct {
	FromID   uint32
	Accepted bool
}

// PushTransactionsRequest forwards unconfirmed transactions.
type PushTransactionsRequest struct {
	FromID       uint32
	Transactions []*model.Transaction
}

// PushTransactionsResponse acknowledges pushed transactions.
type PushTransactionsResponse struct {
	FromID   uint32
	Accepted bool
}
