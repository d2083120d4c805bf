package validators

import (
	"github.com/kmn/catapult-server/src/model"
)

// StatelessValidator checks an entity against rules that need no cache
// access. Stateless validators are pure functions and run in parallel across
// pipeline inputs.
type StatelessValidator interface {
	Name() string
	ValidateTransaction(tx *model.Transaction) Result
	ValidateBlock(block *model.Block) Result
}

// SignatureValidator verifies entity signatures.
type SignatureValidator struct{}

// Name implements StatelessValidator.
func (v SignatureValidator) Name() string {
	return "SignatureValidator"
}

// ValidateTransaction implements StatelessValidator.
func (v SignatureValidator) ValidateTransaction(tx *model.Transaction) Result {
	ok, err := tx.Verify()
	if err != nil || !ok {
		return FailureSignatureNotVerifiable
	}
	return Success
}

// ValidateBlock implements StatelessValidator. Both the block signature and
// every embedded transaction signature must verify.
func (v SignatureValidator) ValidateBlock(block *model.Block) Result {
	ok, err := block.Verify()
	if err != nil || !ok {
		return FailureSignatureNotVerifiable
	}
	for _, tx := range block.Body.Transactions {
		if result := v.ValidateTransaction(tx); result.IsFailure() {
			return result
		}
	}
	return Success
}

// DeadlineValidator rejects transactions whose deadline elapsed before the
// containing block's timestamp.
type DeadlineValidator struct{}

// Name implements StatelessValidator.
func (v DeadlineValidator) Name() string {
	return "DeadlineValidator"
}

// ValidateTransaction implements StatelessValidator. Without block context a
// transaction deadline cannot be judged, so this always succeeds; the
// per-block check happens in ValidateBlock.
func (v DeadlineValidator) ValidateTransaction(tx *model.Transaction) Result {
	return Success
}

// ValidateBlock implements StatelessValidator.
func (v DeadlineValidator) ValidateBlock(block *model.Block) Result {
	for _, tx := range block.Body.Transactions {
		if tx.Body.Deadline != 0 && tx.Body.Deadline < block.Body.Timestamp {
			return FailureDeadlinePassed
		}
	}
	return Success
}
