package observers

import (
	"github.com/pkg/errors"

	"github.com/kmn/catapult-server/src/cache"
	"github.com/kmn/catapult-server/src/model"
)

// NotifyMode selects the direction of an observer notification.
type NotifyMode int

const (
	// ModeCommit applies the transaction's state change.
	ModeCommit NotifyMode = iota
	// ModeRollback reverts it.
	ModeRollback
)

// Context carries the delta and block context an observer mutates.
type Context struct {
	Delta  *cache.Delta
	Height uint64
	Mode   NotifyMode
}

// Observer applies the state change of a transaction onto a cache delta.
// Observers are the only writers of cache state; validators have vetted the
// transaction before an observer sees it, so an observer error indicates a
// broken invariant, not bad input.
type Observer interface {
	Name() string
	Notify(tx *model.Transaction, ctx *Context) error
}

// All returns the full observer set in notification order.
func All() []Observer {
	return []Observer{
		BalanceTransferObserver{},
		HashLockObserver{},
		CompletedAggregateObserver{},
		SecretLockObserver{},
		SecretProofObserver{},
		NamespaceObserver{},
		MosaicDefinitionObserver{},
		MosaicSupplyChangeObserver{},
	}
}

// BalanceTransferObserver moves the amount and fee of transfer transactions.
type BalanceTransferObserver struct{}

// Name implements Observer.
func (o BalanceTransferObserver) Name() string {
	return "BalanceTransferObserver"
}

// Notify implements Observer.
func (o BalanceTransferObserver) Notify(tx *model.Transaction, ctx *Context) error {
	if tx.Body.Type != model.TypeTransfer {
		return nil
	}

	signer := ctx.Delta.Accounts.Modify(tx.Body.Signer)
	recipient := ctx.Delta.Accounts.Modify(tx.Body.Recipient)

	if ctx.Mode == ModeCommit {
		signer.Debit(tx.Body.MosaicID, tx.Body.Amount+tx.Body.Fee)
		recipient.Credit(tx.Body.MosaicID, tx.Body.Amount)
	} else {
		signer.Credit(tx.Body.MosaicID, tx.Body.Amount+tx.Body.Fee)
		recipient.Debit(tx.Body.MosaicID, tx.Body.Amount)
	}

	return nil
}

// HashLockObserver creates the lock entry of a hash-lock transaction and
// escrows the locked amount.
type HashLockObserver struct{}

// Name implements Observer.
func (o HashLockObserver) Name() string {
	return "HashLockObserver"
}

// Notify implements Observer.
func (o HashLockObserver) Notify(tx *model.Transaction, ctx *Context) error {
	if tx.Body.Type != model.TypeHashLock {
		return nil
	}

	signer := ctx.Delta.Accounts.Modify(tx.Body.Signer)

	if ctx.Mode == ModeCommit {
		signer.Debit(tx.Body.MosaicID, tx.Body.Amount+tx.Body.Fee)
		ctx.Delta.HashLocks.Insert(&cache.HashLockInfo{
			Hash:             tx.Body.LockHash,
			Owner:            tx.Body.Signer,
			MosaicID:         tx.Body.MosaicID,
			Amount:           tx.Body.Amount,
			ExpirationHeight: ctx.Height + tx.Body.Duration,
			Status:           cache.LockUnused,
		})
	} else {
		signer.Credit(tx.Body.MosaicID, tx.Body.Amount+tx.Body.Fee)
		ctx.Delta.HashLocks.Remove(tx.Body.LockHash)
	}

	return nil
}

// CompletedAggregateObserver marks the referenced hash lock Used when an
// aggregate-bonded transaction confirms, refunding the escrowed amount to the
// lock owner.
type CompletedAggregateObserver struct{}

// Name implements Observer.
func (o CompletedAggregateObserver) Name() string {
	return "CompletedAggregateObserver"
}

// Notify implements Observer.
func (o CompletedAggregateObserver) Notify(tx *model.Transaction, ctx *Context) error {
	if tx.Body.Type != model.TypeAggregateBonded {
		return nil
	}

	lock := ctx.Delta.HashLocks.Modify(tx.Body.LockHash)
	if lock == nil {
		return errors.Errorf("hash lock vanished for %s", tx.Body.LockHash.Hex())
	}

	owner := ctx.Delta.Accounts.Modify(lock.Owner)

	if ctx.Mode == ModeCommit {
		lock.Status = cache.LockUsed
		owner.Credit(lock.MosaicID, lock.Amount)
	} else {
		lock.Status = cache.LockUnused
		owner.Debit(lock.MosaicID, lock.Amount)
	}

	return nil
}

// SecretLockObserver creates the lock entry of a secret-lock transaction.
type SecretLockObserver struct{}

// Name implements Observer.
func (o SecretLockObserver) Name() string {
	return "SecretLockObserver"
}

// Notify implements Observer.
func (o SecretLockObserver) Notify(tx *model.Transaction, ctx *Context) error {
	if tx.Body.Type != model.TypeSecretLock {
		return nil
	}

	signer := ctx.Delta.Accounts.Modify(tx.Body.Signer)

	if ctx.Mode == ModeCommit {
		signer.Debit(tx.Body.MosaicID, tx.Body.Amount+tx.Body.Fee)
		ctx.Delta.SecretLocks.Insert(&cache.SecretLockInfo{
			Secret:           tx.Body.Secret,
			Owner:            tx.Body.Signer,
			Recipient:        tx.Body.Recipient,
			MosaicID:         tx.Body.MosaicID,
			Amount:           tx.Body.Amount,
			ExpirationHeight: ctx.Height + tx.Body.Duration,
			Status:           cache.LockUnused,
		})
	} else {
		signer.Credit(tx.Body.MosaicID, tx.Body.Amount+tx.Body.Fee)
		ctx.Delta.SecretLocks.Remove(tx.Body.Secret)
	}

	return nil
}

// SecretProofObserver consumes a secret lock and releases the amount to the
// lock recipient.
type SecretProofObserver struct{}

// Name implements Observer.
func (o SecretProofObserver) Name() string {
	return "SecretProofObserver"
}

// Notify implements Observer.
func (o SecretProofObserver) Notify(tx *model.Transaction, ctx *Context) error {
	if tx.Body.Type != model.TypeSecretProof {
		return nil
	}

	lock := ctx.Delta.SecretLocks.Modify(tx.Body.Secret)
	if lock == nil {
		return errors.Errorf("secret lock vanished for %s", tx.Body.Secret.Hex())
	}

	recipient := ctx.Delta.Accounts.Modify(lock.Recipient)

	if ctx.Mode == ModeCommit {
		lock.Status = cache.LockUsed
		recipient.Credit(lock.MosaicID, lock.Amount)
	} else {
		lock.Status = cache.LockUnused
		recipient.Debit(lock.MosaicID, lock.Amount)
	}

	return nil
}

// NamespaceObserver registers and unregisters namespaces.
type NamespaceObserver struct{}

// Name implements Observer.
func (o NamespaceObserver) Name() string {
	return "NamespaceObserver"
}

// Notify implements Observer.
func (o NamespaceObserver) Notify(tx *model.Transaction, ctx *Context) error {
	if tx.Body.Type != model.TypeNamespaceRegistration {
		return nil
	}

	if ctx.Mode == ModeCommit {
		ctx.Delta.Namespaces.Insert(&cache.NamespaceEntry{
			Name:             tx.Body.Name,
			Owner:            tx.Body.Signer,
			ExpirationHeight: ctx.Height + tx.Body.Duration,
		})
	} else {
		ctx.Delta.Namespaces.Remove(tx.Body.Name)
	}

	return nil
}

// MosaicDefinitionObserver creates and removes mosaic entries.
type MosaicDefinitionObserver struct{}

// Name implements Observer.
func (o MosaicDefinitionObserver) Name() string {
	return "MosaicDefinitionObserver"
}

// Notify implements Observer.
func (o MosaicDefinitionObserver) Notify(tx *model.Transaction, ctx *Context) error {
	if tx.Body.Type != model.TypeMosaicDefinition {
		return nil
	}

	if ctx.Mode == ModeCommit {
		ctx.Delta.Mosaics.Insert(&cache.MosaicEntry{
			ID:     tx.Body.MosaicID,
			Owner:  tx.Body.Signer,
			Supply: tx.Body.Amount,
		})
		owner := ctx.Delta.Accounts.Modify(tx.Body.Signer)
		owner.Credit(tx.Body.MosaicID, tx.Body.Amount)
	} else {
		owner := ctx.Delta.Accounts.Modify(tx.Body.Signer)
		owner.Debit(tx.Body.MosaicID, tx.Body.Amount)
		ctx.Delta.Mosaics.Remove(tx.Body.MosaicID)
	}

	return nil
}

// MosaicSupplyChangeObserver adjusts mosaic supply and the owner's balance.
type MosaicSupplyChangeObserver struct{}

// Name implements Observer.
func (o MosaicSupplyChangeObserver) Name() string {
	return "MosaicSupplyChangeObserver"
}

// Notify implements Observer.
func (o MosaicSupplyChangeObserver) Notify(tx *model.Transaction, ctx *Context) error {
	if tx.Body.Type != model.TypeMosaicSupplyChange {
		return nil
	}

	mosaic := ctx.Delta.Mosaics.Modify(tx.Body.MosaicID)
	if mosaic == nil {
		return errors.Errorf("mosaic vanished for %d", tx.Body.MosaicID)
	}

	owner := ctx.Delta.Accounts.Modify(mosaic.Owner)

	increase := tx.Body.Direction == model.SupplyIncrease
	if ctx.Mode == ModeRollback {
		increase = !increase
	}

	if increase {
		mosaic.Supply += tx.Body.Amount
		owner.Credit(tx.Body.MosaicID, tx.Body.Amount)
	} else {
		mosaic.Supply -= tx.Body.Amount
		owner.Debit(tx.Body.MosaicID, tx.Body.Amount)
	}

	return nil
}
