package cache

import (
	"testing"

	"github.com/kmn/catapult-server/src/deltaset"
	"github.com/kmn/catapult-server/src/model"
)

func seedCache(t *testing.T, verifiable bool) *CatapultCache {
	caches := NewCatapultCache(verifiable)

	delta, err := caches.Delta()
	if err != nil {
		t.Fatal(err)
	}

	account := delta.Accounts.Modify([]byte{1, 2, 3})
	account.Credit(7, 100)

	delta.HashLocks.Insert(&HashLockInfo{
		Hash:             model.HashFromBytes([]byte{0xaa}),
		Owner:            []byte{1, 2, 3},
		MosaicID:         7,
		Amount:           10,
		ExpirationHeight: 123,
		Status:           LockUnused,
	})

	if err := caches.Commit(delta, 1, deltaset.PruningBoundary{}); err != nil {
		t.Fatal(err)
	}

	return caches
}

func TestDeltaIsExclusive(t *testing.T) {
	caches := seedCache(t, false)

	delta, err := caches.Delta()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := caches.Delta(); err != ErrDeltaActive {
		t.Fatalf("second delta: got %v, want ErrDeltaActive", err)
	}

	caches.Rollback(delta)

	if _, err := caches.Delta(); err != nil {
		t.Fatalf("delta after rollback: %v", err)
	}
}

func TestDetachedDeltaDoesNotTakeTheLock(t *testing.T) {
	caches := seedCache(t, false)

	detached := caches.DetachedDelta()
	if !detached.Detached() {
		t.Fatal("expected detached delta")
	}

	if _, err := caches.Delta(); err != nil {
		t.Fatalf("detached delta should not block the writer: %v", err)
	}

	if err := caches.Commit(detached, 2, deltaset.PruningBoundary{}); err == nil {
		t.Fatal("committing a detached delta should fail")
	}
}

func TestCommitAdvancesHeight(t *testing.T) {
	caches := seedCache(t, false)

	if caches.Height() != 1 {
		t.Fatalf("height: got %d, want 1", caches.Height())
	}

	delta, _ := caches.Delta()
	delta.Accounts.Modify([]byte{9}).Credit(7, 1)
	if err := caches.Commit(delta, 2, deltaset.PruningBoundary{}); err != nil {
		t.Fatal(err)
	}

	if caches.Height() != 2 {
		t.Fatalf("height: got %d, want 2", caches.Height())
	}
}

func TestViewKeepsItsSnapshotAcrossCommits(t *testing.T) {
	caches := seedCache(t, false)
	view := caches.View()

	delta, _ := caches.Delta()
	delta.Accounts.Modify([]byte{1, 2, 3}).Credit(7, 900)
	if err := caches.Commit(delta, 2, deltaset.PruningBoundary{}); err != nil {
		t.Fatal(err)
	}

	account, ok := view.Account([]byte{1, 2, 3})
	if !ok {
		t.Fatal("account missing from view")
	}
	if account.Balance(7) != 100 {
		t.Fatalf("view observed a later commit: balance %d", account.Balance(7))
	}

	fresh, _ := caches.View().Account([]byte{1, 2, 3})
	if fresh.Balance(7) != 1000 {
		t.Fatalf("fresh view misses the commit: balance %d", fresh.Balance(7))
	}
}

func TestStateHashIsDeterministic(t *testing.T) {
	a := seedCache(t, true)
	b := seedCache(t, true)

	if a.StateHash() != b.StateHash() {
		t.Fatal("identical caches produced different state hashes")
	}
	if a.StateHash().IsZero() {
		t.Fatal("verifiable cache produced a zero state hash")
	}
}

func TestStateHashDisabledModeIsZero(t *testing.T) {
	caches := seedCache(t, false)
	if !caches.StateHash().IsZero() {
		t.Fatal("state hash should be zero when disabled")
	}
}

func TestStateHashChangesWithContent(t *testing.T) {
	caches := seedCache(t, true)
	before := caches.StateHash()

	delta, _ := caches.Delta()
	delta.Accounts.Modify([]byte{1, 2, 3}).Credit(7, 1)
	caches.Commit(delta, 2, deltaset.PruningBoundary{})

	if caches.StateHash() == before {
		t.Fatal("state hash did not change with content")
	}
}

func TestCommitPrunesExpiredLocks(t *testing.T) {
	caches := seedCache(t, false)

	delta, _ := caches.Delta()
	if err := caches.Commit(delta, 2, deltaset.NewPruningBoundary(123)); err != nil {
		t.Fatal(err)
	}

	view := caches.View()
	if _, ok := view.HashLock(model.HashFromBytes([]byte{0xaa})); ok {
		t.Fatal("expired lock survived pruning")
	}
}

func TestCommitKeepsLiveLocks(t *testing.T) {
	caches := seedCache(t, false)

	delta, _ := caches.Delta()
	if err := caches.Commit(delta, 2, deltaset.NewPruningBoundary(122)); err != nil {
		t.Fatal(err)
	}

	view := caches.View()
	if _, ok := view.HashLock(model.HashFromBytes([]byte{0xaa})); !ok {
		t.Fatal("live lock pruned")
	}
}

func TestUndoRoundTripRestoresStateBitForBit(t *testing.T) {
	caches := seedCache(t, true)
	before := caches.StateHash()

	// commit a block's worth of mutations, capturing undo data
	delta, _ := caches.Delta()
	delta.Accounts.Modify([]byte{1, 2, 3}).Debit(7, 50)
	delta.Accounts.Modify([]byte{4, 5, 6}).Credit(7, 50)
	lock := delta.HashLocks.Modify(model.HashFromBytes([]byte{0xaa}))
	lock.Status = LockUsed
	delta.HashLocks.Insert(&HashLockInfo{
		Hash:             model.HashFromBytes([]byte{0xbb}),
		ExpirationHeight: 200,
	})

	undo := delta.BuildUndo(2)
	undoBytes, err := EncodeUndo(undo)
	if err != nil {
		t.Fatal(err)
	}
	if err := caches.Commit(delta, 2, deltaset.PruningBoundary{}); err != nil {
		t.Fatal(err)
	}
	if caches.StateHash() == before {
		t.Fatal("commit did not change the state hash")
	}

	// roll back through the undo data
	decoded, err := DecodeUndo(undoBytes)
	if err != nil {
		t.Fatal(err)
	}

	rollback, _ := caches.Delta()
	if err := rollback.ApplyUndo(decoded); err != nil {
		t.Fatal(err)
	}
	if err := caches.Commit(rollback, 1, deltaset.PruningBoundary{}); err != nil {
		t.Fatal(err)
	}

	if caches.StateHash() != before {
		t.Fatal("undo round trip did not restore the state hash")
	}

	view := caches.View()
	account, _ := view.Account([]byte{1, 2, 3})
	if account.Balance(7) != 100 {
		t.Fatalf("balance not restored: %d", account.Balance(7))
	}
	if _, ok := view.Account([]byte{4, 5, 6}); ok {
		t.Fatal("created account not removed by undo")
	}
	restored, _ := view.HashLock(model.HashFromBytes([]byte{0xaa}))
	if restored.Status != LockUnused {
		t.Fatal("lock status not restored")
	}
	if _, ok := view.HashLock(model.HashFromBytes([]byte{0xbb})); ok {
		t.Fatal("created lock not removed by undo")
	}
}
