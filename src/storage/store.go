package storage

import (
	"github.com/pkg/errors"

	"github.com/kmn/catapult-server/src/chain"
	"github.com/kmn/catapult-server/src/model"
)

// ErrBlockNotFound is returned when no block exists at the requested height.
var ErrBlockNotFound = errors.New("storage: block not found")

// Store is the append-only indexed block log. Implementations must make
// SaveBlock durable (block and undo data written and synced) before
// returning, because the commit stage reports success to the network as soon
// as SaveBlock returns.
type Store interface {
	// ChainHeight returns the height of the last stored block, 0 when empty.
	ChainHeight() uint64
	// ChainScore returns the total score of the stored chain.
	ChainScore() chain.Score
	// LoadBlock returns the block at a height.
	LoadBlock(height uint64) (*model.Block, error)
	// LoadBlockElement returns the block element at a height.
	LoadBlockElement(height uint64) (*model.BlockElement, error)
	// LoadUndo returns the undo data saved with the block at a height.
	LoadUndo(height uint64) ([]byte, error)
	// SaveBlock appends a block element with its undo data and updates the
	// chain score. The element's height must be ChainHeight()+1.
	SaveBlock(element *model.BlockElement, undo []byte, score chain.Score) error
	// DropBlocksAfter removes all blocks above height and resets the chain
	// score. It is the storage half of a rollback.
	DropBlocksAfter(height uint64, score chain.Score) error
	// Close closes the underlying database.
	Close() error
	// StorePath returns the filepath of the underlying database, empty for
	// in-memory stores.
	StorePath() string
}
