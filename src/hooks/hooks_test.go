package hooks

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/kmn/catapult-server/src/disruptor"
	"github.com/kmn/catapult-server/src/model"
)

func TestNewBlockSinkFanOutInRegistrationOrder(t *testing.T) {
	hooks := NewServerHooks(nil)

	var calls []int
	hooks.AddNewBlockSink(func(*model.Block) { calls = append(calls, 1) })
	hooks.AddNewBlockSink(func(*model.Block) { calls = append(calls, 2) })
	hooks.AddNewBlockSink(func(*model.Block) { calls = append(calls, 3) })

	hooks.NewBlockSink()(&model.Block{})

	if len(calls) != 3 || calls[0] != 1 || calls[1] != 2 || calls[2] != 3 {
		t.Fatalf("sinks invoked out of order: %v", calls)
	}
}

func TestEmptySinkListYieldsNoopConsumer(t *testing.T) {
	hooks := NewServerHooks(nil)

	// must not panic
	hooks.NewBlockSink()(&model.Block{})
	hooks.NewTransactionsSink()(nil)
	hooks.PacketPayloadSink()(1, nil)
	hooks.TransactionsChangeSink()(nil, nil)
	hooks.TransactionEventSink()(model.ZeroHash, EventDependencyRemoved)
}

func TestSingleAssignmentFactorySetTwiceFails(t *testing.T) {
	hooks := NewServerHooks(nil)

	factory := func(disruptor.InputSource) BlockRangeConsumerFunc {
		return func([]*model.Block) error { return nil }
	}

	if err := hooks.SetBlockRangeConsumerFactory(factory); err != nil {
		t.Fatal(err)
	}
	err := hooks.SetBlockRangeConsumerFactory(factory)
	if errors.Cause(err) != ErrInvalidArgument {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

func TestSingleAssignmentFactoryReadBeforeSetFails(t *testing.T) {
	hooks := NewServerHooks(nil)

	if _, err := hooks.BlockRangeConsumerFactory(); errors.Cause(err) != ErrInvalidArgument {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
	if _, err := hooks.CompletionAwareBlockRangeConsumerFactory(); errors.Cause(err) != ErrInvalidArgument {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
	if _, err := hooks.TransactionRangeConsumerFactory(); errors.Cause(err) != ErrInvalidArgument {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
	if _, err := hooks.RemoteChainHeightsRetriever(); errors.Cause(err) != ErrInvalidArgument {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

func TestSingleAssignmentFactoryRoundTrip(t *testing.T) {
	hooks := NewServerHooks(nil)

	var sawSource disruptor.InputSource
	if err := hooks.SetCompletionAwareBlockRangeConsumerFactory(
		func(source disruptor.InputSource) CompletionAwareBlockRangeConsumerFunc {
			sawSource = source
			return func([]*model.Block, disruptor.ProcessingCompleteFunc) (uint64, error) {
				return 42, nil
			}
		},
	); err != nil {
		t.Fatal(err)
	}

	factory, err := hooks.CompletionAwareBlockRangeConsumerFactory()
	if err != nil {
		t.Fatal(err)
	}

	consumer := factory(disruptor.SourceLocal)
	if sawSource != disruptor.SourceLocal {
		t.Fatalf("factory saw source %v", sawSource)
	}

	id, err := consumer(nil, nil)
	if err != nil || id != 42 {
		t.Fatalf("consumer round trip: id %d, err %v", id, err)
	}
}

func TestKnownHashORSemantics(t *testing.T) {
	inPool := model.HashFromBytes([]byte{1})
	inPredicate := model.HashFromBytes([]byte{2})
	unknown := model.HashFromBytes([]byte{3})

	hooks := NewServerHooks(func(hash model.Hash) bool {
		return hash == inPool
	})
	hooks.AddKnownHashPredicate(func(hash model.Hash) bool {
		return hash == inPredicate
	})

	known := hooks.KnownHash()
	if !known(inPool) {
		t.Fatal("mempool membership should make a hash known")
	}
	if !known(inPredicate) {
		t.Fatal("a registered predicate should make a hash known")
	}
	if known(unknown) {
		t.Fatal("unknown hash reported known")
	}
}

func TestChainSyncedDefaultsToTrue(t *testing.T) {
	hooks := NewServerHooks(nil)
	if !hooks.ChainSynced()() {
		t.Fatal("chain synced should default to true")
	}

	hooks.SetChainSyncedPredicate(func() bool { return false })
	if hooks.ChainSynced()() {
		t.Fatal("replaced predicate ignored")
	}
}
