package mempool

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kmn/catapult-server/src/model"
)

// Mempool is the unconfirmed-transactions cache. The pipeline consumes it
// when assembling harvested blocks and drains it when blocks commit.
type Mempool struct {
	sync.RWMutex

	infos   map[model.Hash]*model.TransactionInfo
	ordered []model.Hash
	maxSize int
	logger  *logrus.Entry
}

// NewMempool creates a mempool bounded to maxSize entries.
func NewMempool(maxSize int, logger *logrus.Entry) *Mempool {
	if logger == nil {
		log := logrus.New()
		logger = logrus.NewEntry(log)
	}

	return &Mempool{
		infos:   make(map[model.Hash]*model.TransactionInfo),
		maxSize: maxSize,
		logger:  logger.WithField("component", "mempool"),
	}
}

// Add inserts a transaction. Duplicates and overflow beyond the size bound
// are rejected silently; the submitter retries through the network layer.
func (m *Mempool) Add(info *model.TransactionInfo) bool {
	m.Lock()
	defer m.Unlock()

	if _, ok := m.infos[info.EntityHash]; ok {
		return false
	}
	if len(m.infos) >= m.maxSize {
		m.logger.WithField("hash", info.EntityHash.Hex()).Debug("Mempool full, dropping transaction")
		return false
	}

	m.infos[info.EntityHash] = info
	m.ordered = append(m.ordered, info.EntityHash)

	return true
}

// Contains reports whether the mempool holds a transaction with hash. This is
// the base of the known-hash predicate.
func (m *Mempool) Contains(hash model.Hash) bool {
	m.RLock()
	defer m.RUnlock()

	_, ok := m.infos[hash]
	return ok
}

// Get returns up to maxCount transactions, highest fee first; ties keep
// insertion order so repeated calls are deterministic.
func (m *Mempool) Get(maxCount int) []*model.TransactionInfo {
	m.RLock()
	defer m.RUnlock()

	result := make([]*model.TransactionInfo, 0, len(m.ordered))
	for _, hash := range m.ordered {
		result = append(result, m.infos[hash])
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Transaction.Body.Fee > result[j].Transaction.Body.Fee
	})

	if len(result) > maxCount {
		result = result[:maxCount]
	}
	return result
}

// RemoveAll drops the transactions with the given hashes, typically because a
// committed block confirmed them. It returns the removed infos.
func (m *Mempool) RemoveAll(hashes []model.Hash) []*model.TransactionInfo {
	m.Lock()
	defer m.Unlock()

	var removed []*model.TransactionInfo
	for _, hash := range hashes {
		if info, ok := m.infos[hash]; ok {
			removed = append(removed, info)
			delete(m.infos, hash)
		}
	}

	if len(removed) > 0 {
		ordered := m.ordered[:0]
		for _, hash := range m.ordered {
			if _, ok := m.infos[hash]; ok {
				ordered = append(ordered, hash)
			}
		}
		m.ordered = ordered
	}

	return removed
}

// Len returns the number of cached transactions.
func (m *Mempool) Len() int {
	m.RLock()
	defer m.RUnlock()

	return len(m.infos)
}
