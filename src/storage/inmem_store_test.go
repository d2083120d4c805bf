package storage

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/kmn/catapult-server/src/chain"
	"github.com/kmn/catapult-server/src/model"
)

func element(t *testing.T, height uint64) *model.BlockElement {
	block := &model.Block{
		Body: model.BlockBody{
			Height:     height,
			Timestamp:  height * 10,
			Difficulty: 1000,
		},
	}
	entityHash, err := block.Hash()
	if err != nil {
		t.Fatal(err)
	}
	return &model.BlockElement{Block: block, EntityHash: entityHash}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := NewInmemStore()

	e := element(t, 1)
	undo := []byte{1, 2, 3}
	score := chain.NewScore(0, 42)

	if err := store.SaveBlock(e, undo, score); err != nil {
		t.Fatal(err)
	}

	if store.ChainHeight() != 1 {
		t.Fatalf("height: got %d, want 1", store.ChainHeight())
	}
	if store.ChainScore() != score {
		t.Fatalf("score: got %v, want %v", store.ChainScore(), score)
	}

	loaded, err := store.LoadBlockElement(1)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.EntityHash != e.EntityHash {
		t.Fatal("entity hash mismatch")
	}

	loadedUndo, err := store.LoadUndo(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(loadedUndo) != 3 {
		t.Fatal("undo data mismatch")
	}
}

func TestSaveRejectsNonSequentialHeights(t *testing.T) {
	store := NewInmemStore()

	if err := store.SaveBlock(element(t, 2), nil, chain.ZeroScore); err == nil {
		t.Fatal("non-sequential save should fail")
	}

	if err := store.SaveBlock(element(t, 1), nil, chain.ZeroScore); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveBlock(element(t, 3), nil, chain.ZeroScore); err == nil {
		t.Fatal("gap save should fail")
	}
}

func TestLoadMissingBlock(t *testing.T) {
	store := NewInmemStore()

	_, err := store.LoadBlock(7)
	if errors.Cause(err) != ErrBlockNotFound {
		t.Fatalf("got %v, want ErrBlockNotFound", err)
	}
}

func TestDropBlocksAfter(t *testing.T) {
	store := NewInmemStore()

	for h := uint64(1); h <= 5; h++ {
		if err := store.SaveBlock(element(t, h), nil, chain.NewScore(0, h)); err != nil {
			t.Fatal(err)
		}
	}

	rewoundScore := chain.NewScore(0, 2)
	if err := store.DropBlocksAfter(2, rewoundScore); err != nil {
		t.Fatal(err)
	}

	if store.ChainHeight() != 2 {
		t.Fatalf("height: got %d, want 2", store.ChainHeight())
	}
	if store.ChainScore() != rewoundScore {
		t.Fatal("score not rewound")
	}
	if _, err := store.LoadBlock(3); errors.Cause(err) != ErrBlockNotFound {
		t.Fatal("dropped block still loadable")
	}
	if _, err := store.LoadBlock(2); err != nil {
		t.Fatal("surviving block lost")
	}

	// the log extends again from the rewound height
	if err := store.SaveBlock(element(t, 3), nil, chain.NewScore(0, 3)); err != nil {
		t.Fatal(err)
	}
}
