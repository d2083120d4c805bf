package disruptor

import (
	"github.com/kmn/catapult-server/src/model"
	"github.com/kmn/catapult-server/src/validators"
)

// NewHashCalculatorConsumer builds block elements and transaction infos for
// the input. It is the first stage; later stages rely on the derived hashes.
// Generation hashes are chained later by the commit stage, which knows the
// authoritative parent; here elements carry entity hashes only.
func NewHashCalculatorConsumer() Consumer {
	return Consumer{
		Name: "HashCalculatorConsumer",
		Process: func(input *ConsumerInput) ConsumerResult {
			for _, block := range input.Blocks {
				element, err := model.ComputeBlockElement(block, model.ZeroHash)
				if err != nil {
					return AbortWithError(validators.Neutral, err)
				}
				input.Elements = append(input.Elements, element)
			}

			for _, tx := range input.Transactions {
				info, err := model.NewTransactionInfo(tx)
				if err != nil {
					return AbortWithError(validators.Neutral, err)
				}
				input.Infos = append(input.Infos, info)
			}

			return Continue()
		},
	}
}

// NewBlockLinkConsumer verifies that a block range is internally contiguous:
// ascending heights and previous-hash links. The link to the local chain is
// checked by the commit stage.
func NewBlockLinkConsumer() Consumer {
	return Consumer{
		Name: "BlockLinkConsumer",
		Process: func(input *ConsumerInput) ConsumerResult {
			for i := 1; i < len(input.Elements); i++ {
				prev := input.Elements[i-1]
				cur := input.Elements[i]

				if cur.Block.Body.Height != prev.Block.Body.Height+1 {
					return AbortWith(validators.FailureChainUnlinked)
				}
				if cur.Block.Body.PreviousHash != prev.EntityHash {
					return AbortWith(validators.FailureChainUnlinked)
				}
			}
			return Continue()
		},
	}
}

// NewKnownHashConsumer drops transaction ranges that only carry hashes the
// node already knows, as reported by the injected predicate. Block ranges
// pass through untouched.
func NewKnownHashConsumer(knownHash func(model.Hash) bool) Consumer {
	return Consumer{
		Name: "KnownHashConsumer",
		Process: func(input *ConsumerInput) ConsumerResult {
			if input.IsBlockRange() || len(input.Infos) == 0 {
				return Continue()
			}

			fresh := input.Infos[:0]
			for _, info := range input.Infos {
				if !knownHash(info.EntityHash) {
					fresh = append(fresh, info)
				}
			}
			input.Infos = fresh

			if len(input.Infos) == 0 {
				return AbortWith(validators.Neutral)
			}
			return Continue()
		},
	}
}

// NewStatelessValidationConsumer runs the stateless rule set over the input.
func NewStatelessValidationConsumer(rules []validators.StatelessValidator) Consumer {
	return Consumer{
		Name: "StatelessValidationConsumer",
		Process: func(input *ConsumerInput) ConsumerResult {
			for _, rule := range rules {
				for _, block := range input.Blocks {
					if result := rule.ValidateBlock(block); result.IsFailure() {
						return AbortWith(result)
					}
				}
				for _, info := range input.Infos {
					if result := rule.ValidateTransaction(info.Transaction); result.IsFailure() {
						return AbortWith(result)
					}
				}
			}
			return Continue()
		},
	}
}

// NewStatefulValidationConsumer runs the stateful rule set over transaction
// ranges against a read-only view of the committed state. Blocks are
// validated statefully during commit-stage execution, where the state they
// run against is exact.
func NewStatefulValidationConsumer(rules []validators.StatefulValidator, view func() validators.StateReader, height func() uint64) Consumer {
	return Consumer{
		Name: "StatefulValidationConsumer",
		Process: func(input *ConsumerInput) ConsumerResult {
			if input.IsBlockRange() {
				return Continue()
			}

			reader := view()
			notificationHeight := height() + 1

			for _, info := range input.Infos {
				for _, rule := range rules {
					if result := rule.Validate(info.Transaction, reader, notificationHeight); result.IsFailure() {
						return AbortWith(result)
					}
				}
			}
			return Continue()
		},
	}
}
