package chain

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kmn/catapult-server/src/cache"
	"github.com/kmn/catapult-server/src/model"
	"github.com/kmn/catapult-server/src/observers"
	"github.com/kmn/catapult-server/src/validators"
)

// CurrencyMosaicID is the id of the network currency mosaic. Balances of
// this mosaic drive importance.
const CurrencyMosaicID = uint64(0x6bed913fa20223f8)

// Executor runs blocks and candidate transactions against cache deltas. It is
// shared by the harvester (speculative execution on a detached delta), the
// synchronizer (peer-chain evaluation) and the commit stage (authoritative
// execution).
type Executor struct {
	stateful           []validators.StatefulValidator
	observers          []observers.Observer
	importanceGrouping uint64
	logger             *logrus.Entry
}

// NewExecutor creates an executor with the full rule and observer sets.
func NewExecutor(importanceGrouping uint64, logger *logrus.Entry) *Executor {
	return &Executor{
		stateful:           validators.All(),
		observers:          observers.All(),
		importanceGrouping: importanceGrouping,
		logger:             logger.WithField("component", "executor"),
	}
}

// ExecuteBlock applies every transaction of block to the delta. The first
// validation failure aborts execution and is returned; the delta is then in
// an undefined state and must be rolled back or discarded by the caller.
// On success fees are credited to the block signer and importances are
// recomputed when the block height is an importance-group height.
func (e *Executor) ExecuteBlock(block *model.Block, delta *cache.Delta) (validators.Result, error) {
	height := block.Body.Height
	reader := delta.Reader()

	var fees uint64
	for _, tx := range block.Body.Transactions {
		for _, v := range e.stateful {
			if result := v.Validate(tx, reader, height); result.IsFailure() {
				e.logger.WithFields(logrus.Fields{
					"height":    height,
					"validator": v.Name(),
					"result":    result.String(),
				}).Debug("Transaction failed validation")
				return result, nil
			}
		}

		if err := e.notify(tx, delta, height, observers.ModeCommit); err != nil {
			return validators.Neutral, err
		}

		fees += tx.Body.Fee
	}

	if fees > 0 {
		signer := delta.Accounts.Modify(block.Body.Signer)
		signer.Credit(CurrencyMosaicID, fees)
	}

	e.recomputeImportances(delta, height)

	return validators.Success, nil
}

// ExecuteCandidate speculatively applies candidate transactions at height,
// dropping any that fail validation in this block's context. It returns the
// surviving transactions in input order. The harvester runs this on a
// detached delta.
func (e *Executor) ExecuteCandidate(infos []*model.TransactionInfo, delta *cache.Delta, height uint64) []*model.TransactionInfo {
	reader := delta.Reader()

	var survivors []*model.TransactionInfo
	for _, info := range infos {
		failed := false
		for _, v := range e.stateful {
			if result := v.Validate(info.Transaction, reader, height); result.IsFailure() {
				failed = true
				break
			}
		}
		if failed {
			continue
		}

		if err := e.notify(info.Transaction, delta, height, observers.ModeCommit); err != nil {
			continue
		}

		survivors = append(survivors, info)
	}

	return survivors
}

func (e *Executor) notify(tx *model.Transaction, delta *cache.Delta, height uint64, mode observers.NotifyMode) error {
	ctx := &observers.Context{Delta: delta, Height: height, Mode: mode}
	for _, o := range e.observers {
		if err := o.Notify(tx, ctx); err != nil {
			return errors.Wrapf(err, "observer %s", o.Name())
		}
	}
	return nil
}

// recomputeImportances refreshes every account's importance snapshot at
// importance-group heights. Importance equals the account's currency balance;
// it is only recomputed at multiples of the grouping, so harvester
// eligibility stays stable between group heights.
func (e *Executor) recomputeImportances(delta *cache.Delta, height uint64) {
	if height != 1 && (e.importanceGrouping == 0 || height%e.importanceGrouping != 0) {
		return
	}

	groupHeight := cache.ImportanceGroupHeight(height, e.importanceGrouping)
	delta.Accounts.ForEachModify(func(account *cache.AccountState) {
		account.SetImportance(account.Balance(CurrencyMosaicID), groupHeight)
	})
}
