package model

import (
	"testing"

	"github.com/kmn/catapult-server/src/crypto/keys"
)

func TestBlockHashIsDeterministic(t *testing.T) {
	a := &Block{Body: BlockBody{Height: 2, Timestamp: 10, Difficulty: 1000}}
	b := &Block{Body: BlockBody{Height: 2, Timestamp: 10, Difficulty: 1000}}

	hashA, err := a.Hash()
	if err != nil {
		t.Fatal(err)
	}
	hashB, err := b.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if hashA != hashB {
		t.Fatal("identical blocks hashed differently")
	}

	c := &Block{Body: BlockBody{Height: 2, Timestamp: 11, Difficulty: 1000}}
	hashC, _ := c.Hash()
	if hashA == hashC {
		t.Fatal("different blocks hashed identically")
	}
}

func TestBlockSignVerify(t *testing.T) {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	block := &Block{
		Body: BlockBody{
			Height:     2,
			Timestamp:  10,
			Difficulty: 1000,
			Signer:     keys.FromPublicKey(&key.PublicKey),
		},
	}

	if err := block.Sign(key); err != nil {
		t.Fatal(err)
	}

	ok, err := block.Verify()
	if err != nil || !ok {
		t.Fatalf("signature did not verify: %v", err)
	}

	other, _ := keys.GenerateECDSAKey()
	block.Body.Signer = keys.FromPublicKey(&other.PublicKey)
	block.hash = nil
	if ok, _ := block.Verify(); ok {
		t.Fatal("signature verified with the wrong signer")
	}
}

func TestGenerationHashChains(t *testing.T) {
	parent := HashFromBytes([]byte{1})
	signerA := []byte{10}
	signerB := []byte{20}

	a := NextGenerationHash(parent, signerA)
	b := NextGenerationHash(parent, signerB)
	if a == b {
		t.Fatal("different signers produced the same generation hash")
	}
	if NextGenerationHash(parent, signerA) != a {
		t.Fatal("generation hash not deterministic")
	}
}

func TestComputeBlockElementDerivesTransactionHashes(t *testing.T) {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	pub := keys.FromPublicKey(&key.PublicKey)

	tx := &Transaction{
		Body: TransactionBody{
			Type:   TypeTransfer,
			Signer: pub,
			Amount: 5,
		},
	}
	if err := tx.Sign(key); err != nil {
		t.Fatal(err)
	}

	block := &Block{
		Body: BlockBody{
			Height:       2,
			Signer:       pub,
			Transactions: []*Transaction{tx},
		},
	}

	element, err := ComputeBlockElement(block, ZeroHash)
	if err != nil {
		t.Fatal(err)
	}

	if len(element.Transactions) != 1 {
		t.Fatal("transaction elements missing")
	}
	te := element.Transactions[0]
	if te.EntityHash.IsZero() || te.MerkleComponentHash.IsZero() {
		t.Fatal("transaction hashes not derived")
	}
	if te.EntityHash == te.MerkleComponentHash {
		t.Fatal("merkle component should fold in the signature")
	}
	if element.TransactionsMerkleRoot().IsZero() {
		t.Fatal("merkle root should be non-zero with transactions")
	}
}
