package model

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/kmn/catapult-server/src/crypto"
	"github.com/kmn/catapult-server/src/crypto/keys"
)

// BlockBody groups the signed fields of a block. StateHash is the merkle root
// over all state caches after executing this block's transactions, or zero
// when verifiable state is disabled.
type BlockBody struct {
	Height       uint64
	Timestamp    uint64
	PreviousHash Hash
	StateHash    Hash
	Difficulty   uint64
	Signer       []byte
	Transactions []*Transaction
}

// Marshal returns the json encoding of the body only.
func (bb *BlockBody) Marshal() ([]byte, error) {
	bf := bytes.NewBuffer([]byte{})
	enc := json.NewEncoder(bf)
	if err := enc.Encode(bb); err != nil {
		return nil, err
	}
	return bf.Bytes(), nil
}

// Unmarshal decodes a body produced by Marshal.
func (bb *BlockBody) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	dec := json.NewDecoder(b)
	return dec.Decode(bb)
}

// Block is an immutable chain element. The nemesis block has Height 1 and a
// zero PreviousHash.
type Block struct {
	Body      BlockBody
	Signature string

	hash []byte
}

// NewBlock assembles an unsigned block on top of a parent.
func NewBlock(parent *Block, timestamp uint64, difficulty uint64, signer []byte, txs []*Transaction) (*Block, error) {
	parentHash, err := parent.Hash()
	if err != nil {
		return nil, err
	}

	return &Block{
		Body: BlockBody{
			Height:       parent.Body.Height + 1,
			Timestamp:    timestamp,
			PreviousHash: parentHash,
			Difficulty:   difficulty,
			Signer:       signer,
			Transactions: txs,
		},
	}, nil
}

// Height returns the block height.
func (b *Block) Height() uint64 {
	return b.Body.Height
}

// Timestamp returns the block timestamp.
func (b *Block) Timestamp() uint64 {
	return b.Body.Timestamp
}

// Hash returns the entity hash of the block, computed over the signed body.
// The hash is memoized because blocks are immutable once built.
func (b *Block) Hash() (Hash, error) {
	if len(b.hash) == 0 {
		data, err := b.Body.Marshal()
		if err != nil {
			return ZeroHash, err
		}
		b.hash = crypto.SHA256(data)
	}
	return HashFromBytes(b.hash), nil
}

// Sign signs the block body hash with the harvester's private key.
func (b *Block) Sign(priv *ecdsa.PrivateKey) error {
	hash, err := b.Hash()
	if err != nil {
		return err
	}

	r, s, err := keys.Sign(priv, hash[:])
	if err != nil {
		return err
	}

	b.Signature = keys.EncodeSignature(r, s)

	return nil
}

// Verify checks the block signature against the signer public key.
func (b *Block) Verify() (bool, error) {
	pubKey := keys.ToPublicKey(b.Body.Signer)
	if pubKey == nil {
		return false, fmt.Errorf("invalid signer public key")
	}

	hash, err := b.Hash()
	if err != nil {
		return false, err
	}

	r, s, err := keys.DecodeSignature(b.Signature)
	if err != nil {
		return false, err
	}

	return keys.Verify(pubKey, hash[:], r, s), nil
}
