package validators

import (
	"testing"

	"github.com/kmn/catapult-server/src/cache"
	"github.com/kmn/catapult-server/src/deltaset"
	"github.com/kmn/catapult-server/src/model"
)

func createLockCache(t *testing.T, lockHash model.Hash, expirationHeight uint64, status cache.LockStatus) *cache.CatapultCache {
	caches := cache.NewCatapultCache(false)

	delta, err := caches.Delta()
	if err != nil {
		t.Fatal(err)
	}
	delta.HashLocks.Insert(&cache.HashLockInfo{
		Hash:             lockHash,
		ExpirationHeight: expirationHeight,
		Status:           status,
	})
	if err := caches.Commit(delta, 1, deltaset.PruningBoundary{}); err != nil {
		t.Fatal(err)
	}

	return caches
}

func aggregateBonded(lockHash model.Hash) *model.Transaction {
	return &model.Transaction{
		Body: model.TransactionBody{
			Type:     model.TypeAggregateBonded,
			LockHash: lockHash,
		},
	}
}

func runHashPresentValidator(caches *cache.CatapultCache, tx *model.Transaction, height uint64) Result {
	return AggregateHashPresentValidator{}.Validate(tx, caches.View(), height)
}

func TestAggregateHashPresentSuccessForOtherTransactionTypes(t *testing.T) {
	caches := createLockCache(t, model.HashFromBytes([]byte{1}), 123, cache.LockUnused)

	tx := &model.Transaction{Body: model.TransactionBody{Type: model.TypeTransfer}}
	if result := runHashPresentValidator(caches, tx, 120); result != Success {
		t.Fatalf("got %s, want Success", result)
	}
}

func TestAggregateHashPresentSuccessBeforeExpiry(t *testing.T) {
	hash := model.HashFromBytes([]byte{0xcc})
	caches := createLockCache(t, hash, 123, cache.LockUnused)

	if result := runHashPresentValidator(caches, aggregateBonded(hash), 120); result != Success {
		t.Fatalf("got %s, want Success", result)
	}
}

func TestAggregateHashPresentFailureForUnknownHash(t *testing.T) {
	caches := createLockCache(t, model.HashFromBytes([]byte{0xcc}), 123, cache.LockUnused)

	other := model.HashFromBytes([]byte{0xdd})
	if result := runHashPresentValidator(caches, aggregateBonded(other), 120); result != FailureLockHashDoesNotExist {
		t.Fatalf("got %s, want Failure_LockHash_Hash_Does_Not_Exist", result)
	}
}

func TestAggregateHashPresentFailureAtExpirationHeight(t *testing.T) {
	hash := model.HashFromBytes([]byte{0xcc})
	caches := createLockCache(t, hash, 123, cache.LockUnused)

	if result := runHashPresentValidator(caches, aggregateBonded(hash), 123); result != FailureLockInactiveHash {
		t.Fatalf("got %s, want Failure_LockHash_Inactive_Hash", result)
	}
}

func TestAggregateHashPresentFailureAfterExpirationHeight(t *testing.T) {
	hash := model.HashFromBytes([]byte{0xcc})
	caches := createLockCache(t, hash, 123, cache.LockUnused)

	if result := runHashPresentValidator(caches, aggregateBonded(hash), 150); result != FailureLockInactiveHash {
		t.Fatalf("got %s, want Failure_LockHash_Inactive_Hash", result)
	}
}

func TestAggregateHashPresentFailureForUsedLock(t *testing.T) {
	hash := model.HashFromBytes([]byte{0xcc})
	caches := createLockCache(t, hash, 123, cache.LockUsed)

	if result := runHashPresentValidator(caches, aggregateBonded(hash), 120); result != FailureLockHashAlreadyUsed {
		t.Fatalf("got %s, want Failure_LockHash_Hash_Already_Used", result)
	}
}

func TestHashLockDuplicateValidator(t *testing.T) {
	hash := model.HashFromBytes([]byte{0xcc})
	caches := createLockCache(t, hash, 123, cache.LockUnused)

	duplicate := &model.Transaction{
		Body: model.TransactionBody{Type: model.TypeHashLock, LockHash: hash},
	}
	if result := (HashLockDuplicateValidator{}).Validate(duplicate, caches.View(), 10); result != FailureLockHashAlreadyExists {
		t.Fatalf("got %s, want Failure_LockHash_Hash_Already_Exists", result)
	}

	fresh := &model.Transaction{
		Body: model.TransactionBody{Type: model.TypeHashLock, LockHash: model.HashFromBytes([]byte{0xdd})},
	}
	if result := (HashLockDuplicateValidator{}).Validate(fresh, caches.View(), 10); result != Success {
		t.Fatalf("got %s, want Success", result)
	}
}

func TestValidationAgainstDeltaSeesPendingMutations(t *testing.T) {
	hash := model.HashFromBytes([]byte{0xcc})
	caches := createLockCache(t, hash, 123, cache.LockUnused)

	delta, err := caches.Delta()
	if err != nil {
		t.Fatal(err)
	}
	delta.HashLocks.Modify(hash).Status = cache.LockUsed

	result := AggregateHashPresentValidator{}.Validate(aggregateBonded(hash), delta.Reader(), 120)
	if result != FailureLockHashAlreadyUsed {
		t.Fatalf("got %s, want Failure_LockHash_Hash_Already_Used", result)
	}
}
