package model

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"

	"github.com/kmn/catapult-server/src/crypto"
	"github.com/kmn/catapult-server/src/crypto/keys"
)

// TransactionType identifies the semantics of a transaction.
type TransactionType uint16

const (
	// TypeTransfer moves an amount of a mosaic between two accounts.
	TypeTransfer TransactionType = 0x4154

	// TypeHashLock locks an amount against a hash until an expiration height.
	TypeHashLock TransactionType = 0x4148

	// TypeAggregateBonded completes a previously locked aggregate; it
	// references the lock by its transaction hash.
	TypeAggregateBonded TransactionType = 0x4241

	// TypeSecretLock locks an amount against a secret.
	TypeSecretLock TransactionType = 0x4152

	// TypeSecretProof releases a secret lock by revealing the secret.
	TypeSecretProof TransactionType = 0x4252

	// TypeNamespaceRegistration registers a named namespace.
	TypeNamespaceRegistration TransactionType = 0x414e

	// TypeMosaicDefinition creates a new mosaic.
	TypeMosaicDefinition TransactionType = 0x414d

	// TypeMosaicSupplyChange increases or decreases the supply of a mosaic.
	TypeMosaicSupplyChange TransactionType = 0x424d
)

// SupplyChangeDirection is the direction of a mosaic supply change.
type SupplyChangeDirection uint8

const (
	// SupplyIncrease adds to the mosaic supply.
	SupplyIncrease SupplyChangeDirection = iota
	// SupplyDecrease removes from the mosaic supply.
	SupplyDecrease
)

// TransactionBody groups the signed fields of a transaction.
type TransactionBody struct {
	Type      TransactionType
	Signer    []byte
	Recipient []byte
	MosaicID  uint64
	Amount    uint64
	Fee       uint64
	Deadline  uint64
	Duration  uint64
	Direction SupplyChangeDirection
	LockHash  Hash
	Secret    Hash
	Proof     []byte
	Name      string
}

// Transaction is a signed declarative state change. All mutation semantics
// live in observers; the transaction itself only carries data.
type Transaction struct {
	Body      TransactionBody
	Signature string
}

// Marshal returns the json encoding of the transaction body only.
func (t *Transaction) Marshal() ([]byte, error) {
	bf := bytes.NewBuffer([]byte{})
	enc := json.NewEncoder(bf)
	if err := enc.Encode(t.Body); err != nil {
		return nil, err
	}
	return bf.Bytes(), nil
}

// Unmarshal decodes a transaction body produced by Marshal.
func (t *Transaction) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	dec := json.NewDecoder(b)
	return dec.Decode(&t.Body)
}

// Hash returns the entity hash of the transaction, computed over the signed
// body.
func (t *Transaction) Hash() (Hash, error) {
	data, err := t.Marshal()
	if err != nil {
		return ZeroHash, err
	}
	return HashFromBytes(crypto.SHA256(data)), nil
}

// Sign signs the transaction body hash with the private key.
func (t *Transaction) Sign(priv *ecdsa.PrivateKey) error {
	hash, err := t.Hash()
	if err != nil {
		return err
	}

	r, s, err := keys.Sign(priv, hash[:])
	if err != nil {
		return err
	}

	t.Signature = keys.EncodeSignature(r, s)

	return nil
}

// Verify checks the transaction signature against the signer public key.
func (t *Transaction) Verify() (bool, error) {
	pubKey := keys.ToPublicKey(t.Body.Signer)

	hash, err := t.Hash()
	if err != nil {
		return false, err
	}

	r, s, err := keys.DecodeSignature(t.Signature)
	if err != nil {
		return false, err
	}

	return keys.Verify(pubKey, hash[:], r, s), nil
}

// TransactionInfo pairs a transaction with its derived hashes. Its lifetime is
// tied to either the mempool or a block.
type TransactionInfo struct {
	Transaction         *Transaction
	EntityHash          Hash
	MerkleComponentHash Hash
}

// NewTransactionInfo computes the derived hashes of a transaction.
func NewTransactionInfo(tx *Transaction) (*TransactionInfo, error) {
	entityHash, err := tx.Hash()
	if err != nil {
		return nil, err
	}

	// the merkle component folds the signature in so that two distinct
	// signed instances of the same body are distinguishable in the tree
	merkle := HashFromBytes(crypto.SimpleHashFromTwoHashes(entityHash[:], []byte(tx.Signature)))

	return &TransactionInfo{
		Transaction:         tx,
		EntityHash:          entityHash,
		MerkleComponentHash: merkle,
	}, nil
}
