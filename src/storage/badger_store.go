package storage

import (
	"fmt"

	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"
	"github.com/ugorji/go/codec"

	"github.com/kmn/catapult-server/src/chain"
	"github.com/kmn/catapult-server/src/model"
)

const (
	blockPrefix = "block"
	undoPrefix  = "undo"
	heightKey   = "chain_height"
	scoreKey    = "chain_score"
)

// blockRecord is the persisted form of a block element.
type blockRecord struct {
	Body           []byte
	Signature      string
	EntityHash     []byte
	GenerationHash []byte
}

type chainMeta struct {
	Height    uint64
	ScoreHigh uint64
	ScoreLow  uint64
}

// BadgerStore persists the block log in a Badger database. Writes are synced
// so that a block and its undo data are durable before SaveBlock returns.
type BadgerStore struct {
	inmem *InmemStore
	db    *badger.DB
	path  string
}

func storeHandle() *codec.CborHandle {
	h := new(codec.CborHandle)
	h.Canonical = true
	return h
}

// NewBadgerStore opens (or creates) a persistent store at path. Existing
// blocks are replayed into the in-memory mirror so that reads never touch
// disk.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger store at %s", path)
	}

	store := &BadgerStore{
		inmem: NewInmemStore(),
		db:    handle,
		path:  path,
	}

	if err := store.bootstrap(); err != nil {
		handle.Close()
		return nil, err
	}

	return store, nil
}

// bootstrap replays the persisted chain into the in-memory mirror.
func (s *BadgerStore) bootstrap() error {
	meta, err := s.dbGetMeta()
	if err != nil {
		if errors.Cause(err) == badger.ErrKeyNotFound {
			return nil
		}
		return err
	}

	for h := uint64(1); h <= meta.Height; h++ {
		element, err := s.dbGetBlockElement(h)
		if err != nil {
			return errors.Wrapf(err, "replaying block %d", h)
		}
		undo, err := s.dbGetUndo(h)
		if err != nil {
			return errors.Wrapf(err, "replaying undo %d", h)
		}

		// the mirror recomputes the running score from the meta record only
		// once, at the tip
		score := chain.Score{}
		if h == meta.Height {
			score = chain.NewScore(meta.ScoreHigh, meta.ScoreLow)
		}
		if err := s.inmem.SaveBlock(element, undo, score); err != nil {
			return err
		}
	}

	return nil
}

// ChainHeight implements Store.
func (s *BadgerStore) ChainHeight() uint64 {
	return s.inmem.ChainHeight()
}

// ChainScore implements Store.
func (s *BadgerStore) ChainScore() chain.Score {
	return s.inmem.ChainScore()
}

// LoadBlock implements Store.
func (s *BadgerStore) LoadBlock(height uint64) (*model.Block, error) {
	return s.inmem.LoadBlock(height)
}

// LoadBlockElement implements Store.
func (s *BadgerStore) LoadBlockElement(height uint64) (*model.BlockElement, error) {
	return s.inmem.LoadBlockElement(height)
}

// LoadUndo implements Store.
func (s *BadgerStore) LoadUndo(height uint64) ([]byte, error) {
	return s.inmem.LoadUndo(height)
}

// SaveBlock implements Store. The database write happens first; only a
// durable block reaches the mirror.
func (s *BadgerStore) SaveBlock(element *model.BlockElement, undo []byte, score chain.Score) error {
	if err := s.dbSetBlock(element, undo, score); err != nil {
		return err
	}
	return s.inmem.SaveBlock(element, undo, score)
}

// DropBlocksAfter implements Store.
func (s *BadgerStore) DropBlocksAfter(height uint64, score chain.Score) error {
	tip := s.inmem.ChainHeight()

	err := s.db.Update(func(txn *badger.Txn) error {
		for h := height + 1; h <= tip; h++ {
			if err := txn.Delete(blockKey(h)); err != nil {
				return err
			}
			if err := txn.Delete(undoKey(h)); err != nil {
				return err
			}
		}
		return s.setMeta(txn, chainMeta{Height: height, ScoreHigh: score.High, ScoreLow: score.Low})
	})
	if err != nil {
		return errors.Wrapf(err, "dropping blocks after %d", height)
	}

	return s.inmem.DropBlocksAfter(height, score)
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath implements Store.
func (s *BadgerStore) StorePath() string {
	return s.path
}

func blockKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s_%09d", blockPrefix, height))
}

func undoKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s_%09d", undoPrefix, height))
}

func (s *BadgerStore) dbSetBlock(element *model.BlockElement, undo []byte, score chain.Score) error {
	body, err := element.Block.Body.Marshal()
	if err != nil {
		return err
	}

	record := blockRecord{
		Body:           body,
		Signature:      element.Block.Signature,
		EntityHash:     element.EntityHash[:],
		GenerationHash: element.GenerationHash[:],
	}

	var recordBytes []byte
	if err := codec.NewEncoderBytes(&recordBytes, storeHandle()).Encode(record); err != nil {
		return errors.Wrap(err, "encoding block record")
	}

	height := element.Block.Body.Height
	meta := chainMeta{Height: height, ScoreHigh: score.High, ScoreLow: score.Low}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blockKey(height), recordBytes); err != nil {
			return err
		}
		if err := txn.Set(undoKey(height), undo); err != nil {
			return err
		}
		return s.setMeta(txn, meta)
	})
	return errors.Wrapf(err, "saving block %d", height)
}

func (s *BadgerStore) setMeta(txn *badger.Txn, meta chainMeta) error {
	var metaBytes []byte
	if err := codec.NewEncoderBytes(&metaBytes, storeHandle()).Encode(meta); err != nil {
		return err
	}
	if err := txn.Set([]byte(heightKey), metaBytes); err != nil {
		return err
	}
	return txn.Set([]byte(scoreKey), metaBytes)
}

func (s *BadgerStore) dbGetMeta() (chainMeta, error) {
	var meta chainMeta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(heightKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return codec.NewDecoderBytes(val, storeHandle()).Decode(&meta)
		})
	})
	return meta, err
}

func (s *BadgerStore) dbGetBlockElement(height uint64) (*model.BlockElement, error) {
	var record blockRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(height))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return codec.NewDecoderBytes(val, storeHandle()).Decode(&record)
		})
	})
	if err != nil {
		return nil, err
	}

	block := new(model.Block)
	if err := block.Body.Unmarshal(record.Body); err != nil {
		return nil, err
	}
	block.Signature = record.Signature

	element := &model.BlockElement{
		Block:          block,
		EntityHash:     model.HashFromBytes(record.EntityHash),
		GenerationHash: model.HashFromBytes(record.GenerationHash),
	}
	for _, tx := range block.Body.Transactions {
		info, err := model.NewTransactionInfo(tx)
		if err != nil {
			return nil, err
		}
		element.Transactions = append(element.Transactions, &model.TransactionElement{
			Transaction:         tx,
			EntityHash:          info.EntityHash,
			MerkleComponentHash: info.MerkleComponentHash,
		})
	}

	return element, nil
}

func (s *BadgerStore) dbGetUndo(height uint64) ([]byte, error) {
	var undo []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(undoKey(height))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			undo = append([]byte{}, val...)
			return nil
		})
	})
	return undo, err
}
