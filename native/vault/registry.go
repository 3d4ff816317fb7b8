package vault

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/events"
)

// AddAsset makes asset depositable. Adding an accepted asset is a no-op.
func (e *Engine) AddAsset(ctx context.Context, asset common.Address) error {
	return e.setAccepted(ctx, "addAsset", asset, true)
}

// RemoveAsset stops deposits of asset. Existing positions are unaffected.
func (e *Engine) RemoveAsset(ctx context.Context, asset common.Address) error {
	return e.setAccepted(ctx, "removeAsset", asset, false)
}

func (e *Engine) setAccepted(ctx context.Context, op string, asset common.Address, accepted bool) error {
	return e.run(ctx, op, false, func(tx *txn) error {
		current, err := tx.state.IsAccepted(asset)
		if err != nil {
			return err
		}
		if current == accepted {
			return nil
		}
		if err := tx.state.SetAccepted(asset, accepted); err != nil {
			return err
		}
		tx.emit(events.VaultAssetUpdated{PoolID: e.info.PoolID, Asset: asset, Accepted: accepted})
		return nil
	})
}

// Fund credits amount of asset to account's custody balance.
func (e *Engine) Fund(ctx context.Context, account, asset common.Address, amount *big.Int) error {
	return e.run(ctx, "fund", false, func(tx *txn) error {
		if err := checkAmount(amount); err != nil {
			return err
		}
		return tx.credit(account, asset, amount)
	})
}

// Rebase resets the reward accumulators. It is only permitted while no shares
// exist, so no user's pending reward can change.
func (e *Engine) Rebase(ctx context.Context) error {
	return e.run(ctx, "rebase", false, func(tx *txn) error {
		if tx.pool.TotalShares.Sign() != 0 {
			return ErrRebaseWithShares
		}
		tx.pool.AccRewardPerShare = ZeroAmounts()
		tx.pool.Epoch++
		return nil
	})
}
