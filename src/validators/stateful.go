package validators

import (
	"bytes"

	"github.com/kmn/catapult-server/src/cache"
	"github.com/kmn/catapult-server/src/crypto"
	"github.com/kmn/catapult-server/src/model"
)

// StateReader is the read-only cache surface stateful validators run
// against. Both committed views and deltas satisfy it, so the same rules
// gate pipeline inputs and in-flight block execution.
type StateReader interface {
	Account(publicKey []byte) (*cache.AccountState, bool)
	HashLock(hash model.Hash) (*cache.HashLockInfo, bool)
	SecretLock(secret model.Hash) (*cache.SecretLockInfo, bool)
	Mosaic(id uint64) (*cache.MosaicEntry, bool)
	Namespace(name string) (*cache.NamespaceEntry, bool)
}

// StatefulValidator checks a transaction against cache state at a
// notification height.
type StatefulValidator interface {
	Name() string
	Validate(tx *model.Transaction, state StateReader, height uint64) Result
}

// All returns the full stateful rule set in evaluation order.
func All() []StatefulValidator {
	return []StatefulValidator{
		BalanceValidator{},
		AggregateHashPresentValidator{},
		HashLockDuplicateValidator{},
		SecretLockValidator{},
		SecretProofValidator{},
		NamespaceAvailabilityValidator{},
		MosaicAvailabilityValidator{},
		MosaicSupplyChangeValidator{},
	}
}

// BalanceValidator verifies that the signer can cover the moved amount plus
// fee for value-moving transactions.
type BalanceValidator struct{}

// Name implements StatefulValidator.
func (v BalanceValidator) Name() string {
	return "BalanceValidator"
}

// Validate implements StatefulValidator.
func (v BalanceValidator) Validate(tx *model.Transaction, state StateReader, height uint64) Result {
	switch tx.Body.Type {
	case model.TypeTransfer, model.TypeHashLock, model.TypeSecretLock:
	default:
		return Success
	}

	account, ok := state.Account(tx.Body.Signer)
	if !ok {
		return FailureInsufficientBalance
	}
	if account.Balance(tx.Body.MosaicID) < tx.Body.Amount+tx.Body.Fee {
		return FailureInsufficientBalance
	}
	return Success
}

// AggregateHashPresentValidator gates aggregate-bonded transactions on the
// presence of a live, unused hash lock for the transaction hash.
type AggregateHashPresentValidator struct{}

// Name implements StatefulValidator.
func (v AggregateHashPresentValidator) Name() string {
	return "AggregateHashPresentValidator"
}

// Validate implements StatefulValidator. The rule only applies to
// aggregate-bonded transactions; every other type passes.
func (v AggregateHashPresentValidator) Validate(tx *model.Transaction, state StateReader, height uint64) Result {
	if tx.Body.Type != model.TypeAggregateBonded {
		return Success
	}

	lock, ok := state.HashLock(tx.Body.LockHash)
	if !ok {
		return FailureLockHashDoesNotExist
	}

	// a lock is active strictly below its expiration height
	if height >= lock.ExpirationHeight {
		return FailureLockInactiveHash
	}

	if lock.Status == cache.LockUsed {
		return FailureLockHashAlreadyUsed
	}

	return Success
}

// HashLockDuplicateValidator rejects hash-lock transactions that lock an
// already locked hash.
type HashLockDuplicateValidator struct{}

// Name implements StatefulValidator.
func (v HashLockDuplicateValidator) Name() string {
	return "HashLockDuplicateValidator"
}

// Validate implements StatefulValidator.
func (v HashLockDuplicateValidator) Validate(tx *model.Transaction, state StateReader, height uint64) Result {
	if tx.Body.Type != model.TypeHashLock {
		return Success
	}
	if _, ok := state.HashLock(tx.Body.LockHash); ok {
		return FailureLockHashAlreadyExists
	}
	return Success
}

// SecretLockValidator rejects secret-lock transactions whose secret is
// already in the secret-lock cache, whether or not that lock is still active.
type SecretLockValidator struct{}

// Name implements StatefulValidator.
func (v SecretLockValidator) Name() string {
	return "SecretLockValidator"
}

// Validate implements StatefulValidator.
func (v SecretLockValidator) Validate(tx *model.Transaction, state StateReader, height uint64) Result {
	if tx.Body.Type != model.TypeSecretLock {
		return Success
	}
	if _, ok := state.SecretLock(tx.Body.Secret); ok {
		return FailureSecretLockSecretAlreadyExists
	}
	return Success
}

// SecretProofValidator verifies a revealed proof against its secret lock.
type SecretProofValidator struct{}

// Name implements StatefulValidator.
func (v SecretProofValidator) Name() string {
	return "SecretProofValidator"
}

// Validate implements StatefulValidator.
func (v SecretProofValidator) Validate(tx *model.Transaction, state StateReader, height uint64) Result {
	if tx.Body.Type != model.TypeSecretProof {
		return Success
	}

	lock, ok := state.SecretLock(tx.Body.Secret)
	if !ok {
		return FailureSecretLockSecretDoesNotExist
	}
	if height >= lock.ExpirationHeight || lock.Status == cache.LockUsed {
		return FailureSecretLockSecretDoesNotExist
	}

	proofHash := model.HashFromBytes(crypto.SHA256(tx.Body.Proof))
	if !bytes.Equal(proofHash[:], lock.Secret[:]) {
		return FailureSecretLockInvalidProof
	}

	return Success
}

// NamespaceAvailabilityValidator rejects registrations of taken names.
type NamespaceAvailabilityValidator struct{}

// Name implements StatefulValidator.
func (v NamespaceAvailabilityValidator) Name() string {
	return "NamespaceAvailabilityValidator"
}

// Validate implements StatefulValidator.
func (v NamespaceAvailabilityValidator) Validate(tx *model.Transaction, state StateReader, height uint64) Result {
	if tx.Body.Type != model.TypeNamespaceRegistration {
		return Success
	}

	if existing, ok := state.Namespace(tx.Body.Name); ok {
		// an expired namespace may be re-registered by anyone
		if existing.ExpirationHeight == 0 || height < existing.ExpirationHeight {
			return FailureNamespaceAlreadyExists
		}
	}
	return Success
}

// MosaicAvailabilityValidator rejects definitions of taken mosaic ids.
type MosaicAvailabilityValidator struct{}

// Name implements StatefulValidator.
func (v MosaicAvailabilityValidator) Name() string {
	return "MosaicAvailabilityValidator"
}

// Validate implements StatefulValidator.
func (v MosaicAvailabilityValidator) Validate(tx *model.Transaction, state StateReader, height uint64) Result {
	if tx.Body.Type != model.TypeMosaicDefinition {
		return Success
	}
	if _, ok := state.Mosaic(tx.Body.MosaicID); ok {
		return FailureMosaicAlreadyExists
	}
	return Success
}

// MosaicSupplyChangeValidator verifies that a supply change targets an
// existing mosaic, is signed by its owner, and does not decrease the supply
// below zero.
type MosaicSupplyChangeValidator struct{}

// Name implements StatefulValidator.
func (v MosaicSupplyChangeValidator) Name() string {
	return "MosaicSupplyChangeValidator"
}

// Validate implements StatefulValidator.
func (v MosaicSupplyChangeValidator) Validate(tx *model.Transaction, state StateReader, height uint64) Result {
	if tx.Body.Type != model.TypeMosaicSupplyChange {
		return Success
	}

	mosaic, ok := state.Mosaic(tx.Body.MosaicID)
	if !ok {
		return FailureMosaicNotFound
	}
	if !bytes.Equal(mosaic.Owner, tx.Body.Signer) {
		return FailureMosaicNotOwner
	}
	if tx.Body.Direction == model.SupplyDecrease && mosaic.Supply < tx.Body.Amount {
		return FailureMosaicNotFound
	}
	return Success
}
