package model

import (
	"github.com/kmn/catapult-server/src/crypto"
)

// TransactionElement is a transaction together with its derived hashes, as it
// appears inside a block element.
type TransactionElement struct {
	Transaction         *Transaction
	EntityHash          Hash
	MerkleComponentHash Hash
}

// BlockElement is a block together with all derived artifacts. It is
// constructed once when the block enters the pipeline and never mutated.
type BlockElement struct {
	Block          *Block
	EntityHash     Hash
	GenerationHash Hash
	Transactions   []*TransactionElement
}

// ComputeBlockElement derives the hashes of a block. The generation hash is
// chained from the parent's generation hash and the signer public key; the
// nemesis block chains from the network generation seed.
func ComputeBlockElement(block *Block, parentGenerationHash Hash) (*BlockElement, error) {
	entityHash, err := block.Hash()
	if err != nil {
		return nil, err
	}

	generationHash := NextGenerationHash(parentGenerationHash, block.Body.Signer)

	element := &BlockElement{
		Block:          block,
		EntityHash:     entityHash,
		GenerationHash: generationHash,
	}

	for _, tx := range block.Body.Transactions {
		info, err := NewTransactionInfo(tx)
		if err != nil {
			return nil, err
		}

		element.Transactions = append(element.Transactions, &TransactionElement{
			Transaction:         tx,
			EntityHash:          info.EntityHash,
			MerkleComponentHash: info.MerkleComponentHash,
		})
	}

	return element, nil
}

// NextGenerationHash chains a generation hash for the next block.
func NextGenerationHash(parentGenerationHash Hash, signer []byte) Hash {
	return HashFromBytes(crypto.SimpleHashFromTwoHashes(parentGenerationHash[:], signer))
}

// TransactionsMerkleRoot computes the merkle root over the block's
// per-transaction merkle component hashes. An empty block has a zero root.
func (e *BlockElement) TransactionsMerkleRoot() Hash {
	if len(e.Transactions) == 0 {
		return ZeroHash
	}

	hashes := make([][]byte, len(e.Transactions))
	for i, te := range e.Transactions {
		h := te.MerkleComponentHash
		hashes[i] = h[:]
	}

	return HashFromBytes(crypto.MerkleRoot(hashes))
}
