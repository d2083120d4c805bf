package storage

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/kmn/catapult-server/src/chain"
	"github.com/kmn/catapult-server/src/model"
)

// InmemStore keeps the block log in memory. It is the default store and the
// one tests use.
type InmemStore struct {
	sync.RWMutex

	elements map[uint64]*model.BlockElement
	undo     map[uint64][]byte
	height   uint64
	score    chain.Score
}

// NewInmemStore creates an empty in-memory store.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		elements: make(map[uint64]*model.BlockElement),
		undo:     make(map[uint64][]byte),
	}
}

// ChainHeight implements Store.
func (s *InmemStore) ChainHeight() uint64 {
	s.RLock()
	defer s.RUnlock()
	return s.height
}

// ChainScore implements Store.
func (s *InmemStore) ChainScore() chain.Score {
	s.RLock()
	defer s.RUnlock()
	return s.score
}

// LoadBlock implements Store.
func (s *InmemStore) LoadBlock(height uint64) (*model.Block, error) {
	element, err := s.LoadBlockElement(height)
	if err != nil {
		return nil, err
	}
	return element.Block, nil
}

// LoadBlockElement implements Store.
func (s *InmemStore) LoadBlockElement(height uint64) (*model.BlockElement, error) {
	s.RLock()
	defer s.RUnlock()

	element, ok := s.elements[height]
	if !ok {
		return nil, errors.Wrapf(ErrBlockNotFound, "height %d", height)
	}
	return element, nil
}

// LoadUndo implements Store.
func (s *InmemStore) LoadUndo(height uint64) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()

	undo, ok := s.undo[height]
	if !ok {
		return nil, errors.Wrapf(ErrBlockNotFound, "undo at height %d", height)
	}
	return undo, nil
}

// SaveBlock implements Store.
func (s *InmemStore) SaveBlock(element *model.BlockElement, undo []byte, score chain.Score) error {
	s.Lock()
	defer s.Unlock()

	height := element.Block.Body.Height
	if height != s.height+1 {
		return errors.Errorf("storage: non-sequential save, height %d on chain of %d", height, s.height)
	}

	s.elements[height] = element
	s.undo[height] = undo
	s.height = height
	s.score = score

	return nil
}

// DropBlocksAfter implements Store.
func (s *InmemStore) DropBlocksAfter(height uint64, score chain.Score) error {
	s.Lock()
	defer s.Unlock()

	for h := height + 1; h <= s.height; h++ {
		delete(s.elements, h)
		delete(s.undo, h)
	}
	if s.height > height {
		s.height = height
	}
	s.score = score

	return nil
}

// Close implements Store.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements Store.
func (s *InmemStore) StorePath() string {
	return ""
}
