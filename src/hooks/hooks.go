package hooks

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/kmn/catapult-server/src/disruptor"
	"github.com/kmn/catapult-server/src/model"
)

// ErrInvalidArgument reports wiring misuse: setting a single-assignment hook
// twice, or reading one before it was set. It is always a programmer error,
// surfaced synchronously to the caller.
var ErrInvalidArgument = errors.New("hooks: invalid argument")

// Sink signatures.
type (
	// NewBlockSink consumes a committed block.
	NewBlockSink func(block *model.Block)

	// NewTransactionsSink consumes transactions that entered the mempool.
	NewTransactionsSink func(infos []*model.TransactionInfo)

	// PacketPayloadSink consumes an outbound packet payload.
	PacketPayloadSink func(packetType uint32, payload []byte)

	// TransactionsChangeSink consumes a mempool change.
	TransactionsChangeSink func(added, removed []*model.TransactionInfo)

	// TransactionEventSink consumes a transaction lifecycle event.
	TransactionEventSink func(hash model.Hash, event TransactionEvent)
)

// TransactionEvent identifies a transaction lifecycle transition.
type TransactionEvent int

const (
	// EventDependencyRemoved signals that a dependency of the transaction
	// was removed from the cache.
	EventDependencyRemoved TransactionEvent = iota
)

// Consumer factory and retriever signatures.
type (
	// BlockRangeConsumerFunc consumes a block range.
	BlockRangeConsumerFunc func(blocks []*model.Block) error

	// CompletionAwareBlockRangeConsumerFunc consumes a block range and
	// reports the disruptor id, invoking the completion callback on the
	// terminal outcome.
	CompletionAwareBlockRangeConsumerFunc func(blocks []*model.Block, completion disruptor.ProcessingCompleteFunc) (uint64, error)

	// TransactionRangeConsumerFunc consumes a transaction range.
	TransactionRangeConsumerFunc func(txs []*model.Transaction) error

	// BlockRangeConsumerFactoryFunc creates a block range consumer for an
	// input source.
	BlockRangeConsumerFactoryFunc func(source disruptor.InputSource) BlockRangeConsumerFunc

	// CompletionAwareBlockRangeConsumerFactoryFunc creates a completion
	// aware block range consumer for an input source.
	CompletionAwareBlockRangeConsumerFactoryFunc func(source disruptor.InputSource) CompletionAwareBlockRangeConsumerFunc

	// TransactionRangeConsumerFactoryFunc creates a transaction range
	// consumer for an input source.
	TransactionRangeConsumerFactoryFunc func(source disruptor.InputSource) TransactionRangeConsumerFunc

	// RemoteChainHeightsRetrieverFunc samples the chain heights of up to
	// numPeers remote peers.
	RemoteChainHeightsRetrieverFunc func(numPeers int) ([]uint64, error)

	// KnownHashPredicate decides whether a transaction hash is already
	// known.
	KnownHashPredicate func(hash model.Hash) bool

	// ChainSyncedPredicate decides whether the local chain is synced.
	ChainSyncedPredicate func() bool
)

// ServerHooks is the typed registration surface that wires producers to
// consumers at boot. It is written single-threaded during boot and read
// concurrently afterwards.
type ServerHooks struct {
	mu sync.RWMutex

	newBlockSinks           []NewBlockSink
	newTransactionsSinks    []NewTransactionsSink
	packetPayloadSinks      []PacketPayloadSink
	transactionsChangeSinks []TransactionsChangeSink
	transactionEventSinks   []TransactionEventSink

	blockRangeConsumerFactory                BlockRangeConsumerFactoryFunc
	completionAwareBlockRangeConsumerFactory CompletionAwareBlockRangeConsumerFactoryFunc
	transactionRangeConsumerFactory          TransactionRangeConsumerFactoryFunc
	remoteChainHeightsRetriever              RemoteChainHeightsRetrieverFunc

	knownHashPredicates  []KnownHashPredicate
	baseKnownHash        KnownHashPredicate
	chainSyncedPredicate ChainSyncedPredicate
}

// NewServerHooks creates an empty registration surface. The baseKnownHash
// predicate, typically mempool membership, is always consulted by
// KnownHash; nil means no base predicate.
func NewServerHooks(baseKnownHash KnownHashPredicate) *ServerHooks {
	return &ServerHooks{
		baseKnownHash: baseKnownHash,
	}
}

// region sinks

// AddNewBlockSink registers a new-block sink.
func (h *ServerHooks) AddNewBlockSink(sink NewBlockSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.newBlockSinks = append(h.newBlockSinks, sink)
}

// NewBlockSink returns a composite consumer invoking every registered sink
// in registration order. An empty list yields a no-op consumer.
func (h *ServerHooks) NewBlockSink() NewBlockSink {
	h.mu.RLock()
	sinks := append([]NewBlockSink{}, h.newBlockSinks...)
	h.mu.RUnlock()

	return func(block *model.Block) {
		for _, sink := range sinks {
			sink(block)
		}
	}
}

// AddNewTransactionsSink registers a new-transactions sink.
func (h *ServerHooks) AddNewTransactionsSink(sink NewTransactionsSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.newTransactionsSinks = append(h.newTransactionsSinks, sink)
}

// NewTransactionsSink returns the composite new-transactions consumer.
func (h *ServerHooks) NewTransactionsSink() NewTransactionsSink {
	h.mu.RLock()
	sinks := append([]NewTransactionsSink{}, h.newTransactionsSinks...)
	h.mu.RUnlock()

	return func(infos []*model.TransactionInfo) {
		for _, sink := range sinks {
			sink(infos)
		}
	}
}

// AddPacketPayloadSink registers a packet-payload sink.
func (h *ServerHooks) AddPacketPayloadSink(sink PacketPayloadSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.packetPayloadSinks = append(h.packetPayloadSinks, sink)
}

// PacketPayloadSink returns the composite packet-payload consumer.
func (h *ServerHooks) PacketPayloadSink() PacketPayloadSink {
	h.mu.RLock()
	sinks := append([]PacketPayloadSink{}, h.packetPayloadSinks...)
	h.mu.RUnlock()

	return func(packetType uint32, payload []byte) {
		for _, sink := range sinks {
			sink(packetType, payload)
		}
	}
}

// AddTransactionsChangeSink registers a transactions-change sink.
func (h *ServerHooks) AddTransactionsChangeSink(sink TransactionsChangeSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transactionsChangeSinks = append(h.transactionsChangeSinks, sink)
}

// TransactionsChangeSink returns the composite transactions-change consumer.
func (h *ServerHooks) TransactionsChangeSink() TransactionsChangeSink {
	h.mu.RLock()
	sinks := append([]TransactionsChangeSink{}, h.transactionsChangeSinks...)
	h.mu.RUnlock()

	return func(added, removed []*model.TransactionInfo) {
		for _, sink := range sinks {
			sink(added, removed)
		}
	}
}

// AddTransactionEventSink registers a transaction-event sink.
func (h *ServerHooks) AddTransactionEventSink(sink TransactionEventSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transactionEventSinks = append(h.transactionEventSinks, sink)
}

// TransactionEventSink returns the composite transaction-event consumer.
func (h *ServerHooks) TransactionEventSink() TransactionEventSink {
	h.mu.RLock()
	sinks := append([]TransactionEventSink{}, h.transactionEventSinks...)
	h.mu.RUnlock()

	return func(hash model.Hash, event TransactionEvent) {
		for _, sink := range sinks {
			sink(hash, event)
		}
	}
}

// endregion

// region single-assignment factories and retrievers

// SetBlockRangeConsumerFactory sets the block-range consumer factory exactly
// once.
func (h *ServerHooks) SetBlockRangeConsumerFactory(factory BlockRangeConsumerFactoryFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.blockRangeConsumerFactory != nil {
		return errors.Wrap(ErrInvalidArgument, "block range consumer factory already set")
	}
	h.blockRangeConsumerFactory = factory
	return nil
}

// BlockRangeConsumerFactory returns the factory, failing when unset.
func (h *ServerHooks) BlockRangeConsumerFactory() (BlockRangeConsumerFactoryFunc, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.blockRangeConsumerFactory == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "block range consumer factory not set")
	}
	return h.blockRangeConsumerFactory, nil
}

// SetCompletionAwareBlockRangeConsumerFactory sets the completion-aware
// factory exactly once.
func (h *ServerHooks) SetCompletionAwareBlockRangeConsumerFactory(factory CompletionAwareBlockRangeConsumerFactoryFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.completionAwareBlockRangeConsumerFactory != nil {
		return errors.Wrap(ErrInvalidArgument, "completion aware block range consumer factory already set")
	}
	h.completionAwareBlockRangeConsumerFactory = factory
	return nil
}

// CompletionAwareBlockRangeConsumerFactory returns the factory, failing when
// unset.
func (h *ServerHooks) CompletionAwareBlockRangeConsumerFactory() (CompletionAwareBlockRangeConsumerFactoryFunc, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.completionAwareBlockRangeConsumerFactory == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "completion aware block range consumer factory not set")
	}
	return h.completionAwareBlockRangeConsumerFactory, nil
}

// SetTransactionRangeConsumerFactory sets the transaction-range consumer
// factory exactly once.
func (h *ServerHooks) SetTransactionRangeConsumerFactory(factory TransactionRangeConsumerFactoryFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.transactionRangeConsumerFactory != nil {
		return errors.Wrap(ErrInvalidArgument, "transaction range consumer factory already set")
	}
	h.transactionRangeConsumerFactory = factory
	return nil
}

// TransactionRangeConsumerFactory returns the factory, failing when unset.
func (h *ServerHooks) TransactionRangeConsumerFactory() (TransactionRangeConsumerFactoryFunc, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.transactionRangeConsumerFactory == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "transaction range consumer factory not set")
	}
	return h.transactionRangeConsumerFactory, nil
}

// SetRemoteChainHeightsRetriever sets the remote chain-heights retriever
// exactly once.
func (h *ServerHooks) SetRemoteChainHeightsRetriever(retriever RemoteChainHeightsRetrieverFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.remoteChainHeightsRetriever != nil {
		return errors.Wrap(ErrInvalidArgument, "remote chain heights retriever already set")
	}
	h.remoteChainHeightsRetriever = retriever
	return nil
}

// RemoteChainHeightsRetriever returns the retriever, failing when unset.
func (h *ServerHooks) RemoteChainHeightsRetriever() (RemoteChainHeightsRetrieverFunc, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.remoteChainHeightsRetriever == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "remote chain heights retriever not set")
	}
	return h.remoteChainHeightsRetriever, nil
}

// endregion

// region predicates

// AddKnownHashPredicate registers an additional known-hash predicate.
func (h *ServerHooks) AddKnownHashPredicate(predicate KnownHashPredicate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.knownHashPredicates = append(h.knownHashPredicates, predicate)
}

// KnownHash returns the composite known-hash predicate: a hash is known iff
// the base predicate (mempool membership) matches or any registered
// predicate returns true.
func (h *ServerHooks) KnownHash() KnownHashPredicate {
	h.mu.RLock()
	base := h.baseKnownHash
	predicates := append([]KnownHashPredicate{}, h.knownHashPredicates...)
	h.mu.RUnlock()

	return func(hash model.Hash) bool {
		if base != nil && base(hash) {
			return true
		}
		for _, predicate := range predicates {
			if predicate(hash) {
				return true
			}
		}
		return false
	}
}

// SetChainSyncedPredicate replaces the chain-synced predicate.
func (h *ServerHooks) SetChainSyncedPredicate(predicate ChainSyncedPredicate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chainSyncedPredicate = predicate
}

// ChainSynced returns the chain-synced predicate, defaulting to always-true.
func (h *ServerHooks) ChainSynced() ChainSyncedPredicate {
	h.mu.RLock()
	predicate := h.chainSyncedPredicate
	h.mu.RUnlock()

	if predicate == nil {
		return func() bool { return true }
	}
	return predicate
}

// endregion
