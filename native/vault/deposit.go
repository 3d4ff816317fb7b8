package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/events"
)

// Deposit moves amount of asset from the user's custody balance into the
// vault, converts it into the base asset, mints shares and stakes the base
// amount. Rewards pending on the existing position are paid out raw before
// the share count changes.
func (e *Engine) Deposit(ctx context.Context, user, asset common.Address, amount *big.Int) (*DepositResult, error) {
	var result *DepositResult
	err := e.run(ctx, "deposit", true, func(tx *txn) error {
		accepted, err := tx.state.IsAccepted(asset)
		if err != nil {
			return err
		}
		if !accepted {
			return fmt.Errorf("%w: %s", ErrInvalidAsset, asset.Hex())
		}
		if err := checkAmount(amount); err != nil {
			return err
		}
		module := e.info.Module
		if err := tx.move(user, module, asset, amount); err != nil {
			return err
		}

		baseAmount := new(big.Int).Set(amount)
		if !isBase(e.info, asset) {
			out, err := e.swap.Convert(tx.ctx, asset, amount, e.info.BaseAsset)
			if err != nil {
				return conversionError(err)
			}
			if out == nil || out.Sign() <= 0 {
				return fmt.Errorf("%w: no base asset received for %s", ErrConversionFailed, asset.Hex())
			}
			if err := tx.debit(module, asset, amount); err != nil {
				return err
			}
			if err := tx.credit(module, e.info.BaseAsset, out); err != nil {
				return err
			}
			baseAmount = new(big.Int).Set(out)
		}

		totalBaseHeld, err := e.stakedLocked(tx)
		if err != nil {
			return err
		}
		info, err := tx.user(user)
		if err != nil {
			return err
		}
		pending := settle(tx.pool, info)
		shares, err := mint(tx.pool, info, baseAmount, totalBaseHeld)
		if err != nil {
			return err
		}
		if err := tx.debit(module, e.info.BaseAsset, baseAmount); err != nil {
			return err
		}
		if err := e.staker.Stake(tx.ctx, baseAmount); err != nil {
			return stakingError(err)
		}
		staked := new(big.Int).Set(baseAmount)
		tx.onRollback(func(ctx context.Context) error {
			_, err := e.staker.Unstake(ctx, staked)
			return err
		})
		snapshot(tx.pool, info)
		if err := tx.state.PutUser(info); err != nil {
			return err
		}
		payouts, err := e.payRewards(tx, user, pending, false, common.Address{})
		if err != nil {
			return err
		}

		ev := events.VaultDeposit{
			PoolID: e.info.PoolID,
			User:   user,
			Amount: new(big.Int).Set(amount),
			Shares: new(big.Int).Set(shares),
		}
		if e.trackAssets {
			tracked := asset
			ev.Asset = &tracked
		}
		tx.emit(ev)
		result = &DepositResult{
			BaseAmount: baseAmount,
			Shares:     shares,
			NewShares:  copyBig(info.Shares),
			Rewards:    payouts,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Withdraw burns shares, unstakes the base amount they redeem, converts it
// into asset and credits the user. Pending rewards are paid raw, or converted
// into asset when alsoConvertRewards is set.
func (e *Engine) Withdraw(ctx context.Context, user common.Address, shares *big.Int, asset common.Address, alsoConvertRewards bool) (*WithdrawResult, error) {
	var result *WithdrawResult
	err := e.run(ctx, "withdraw", true, func(tx *txn) error {
		if shares == nil || shares.Sign() <= 0 {
			return fmt.Errorf("%w: shares must be positive", ErrInsufficientShares)
		}
		info, err := tx.state.GetUser(user)
		if err != nil {
			return err
		}
		if info == nil || info.Shares.Cmp(shares) < 0 {
			return ErrInsufficientShares
		}
		if err := checkAmount(shares); err != nil {
			return err
		}

		pending := settle(tx.pool, info)
		totalBaseHeld, err := e.stakedLocked(tx)
		if err != nil {
			return err
		}
		owed, err := burn(tx.pool, info, shares, totalBaseHeld)
		if err != nil {
			return err
		}
		module := e.info.Module
		received := big.NewInt(0)
		if owed.Sign() > 0 {
			out, err := e.staker.Unstake(tx.ctx, owed)
			if err != nil {
				return stakingError(err)
			}
			if out == nil {
				out = big.NewInt(0)
			}
			restake := new(big.Int).Set(out)
			tx.onRollback(func(ctx context.Context) error {
				if restake.Sign() == 0 {
					return nil
				}
				return e.staker.Stake(ctx, restake)
			})
			received = out
			if err := tx.credit(module, e.info.BaseAsset, received); err != nil {
				return err
			}
		}

		payout := new(big.Int).Set(received)
		if received.Sign() > 0 && !isBase(e.info, asset) {
			out, err := e.swap.Convert(tx.ctx, e.info.BaseAsset, received, asset)
			if err != nil {
				return conversionError(err)
			}
			if out == nil || out.Sign() < 0 {
				return fmt.Errorf("%w: invalid amount returned for %s", ErrConversionFailed, asset.Hex())
			}
			if err := tx.debit(module, e.info.BaseAsset, received); err != nil {
				return err
			}
			if err := tx.credit(module, asset, out); err != nil {
				return err
			}
			payout = new(big.Int).Set(out)
		}
		if err := tx.move(module, user, asset, payout); err != nil {
			return err
		}

		snapshot(tx.pool, info)
		if err := tx.state.PutUser(info); err != nil {
			return err
		}
		payouts, err := e.payRewards(tx, user, pending, alsoConvertRewards, asset)
		if err != nil {
			return err
		}

		tx.emit(events.VaultWithdraw{
			PoolID: e.info.PoolID,
			User:   user,
			Shares: new(big.Int).Set(shares),
			Asset:  asset,
			Amount: new(big.Int).Set(payout),
		})
		result = &WithdrawResult{
			BaseAmount: received,
			Amount:     payout,
			NewShares:  copyBig(info.Shares),
			Rewards:    payouts,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
